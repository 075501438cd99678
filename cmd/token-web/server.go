package main

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"

	"github.com/zzerding/xiaomi-token-web/cmd/token-web/api"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
)

//go:embed static/*
var staticFiles embed.FS

// Server is the HTTP server for the token extraction frontend.
type Server struct {
	config   Config
	version  string
	router   *mux.Router
	server   *http.Server
	store    *api.Store
	sessions *api.SessionsAPI
	devices  *api.DevicesAPI
	proxy    *api.ProxyAPI
	flowLog  *log.FileLogger
}

// NewServer creates a new server with the given configuration.
func NewServer(cfg Config, version string) (*Server, error) {
	store, err := api.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	var sinks []log.Logger
	var flowLog *log.FileLogger
	if cfg.LogPath != "" {
		flowLog, err = log.NewFileLogger(cfg.LogPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open flow log: %w", err)
		}
		sinks = append(sinks, flowLog)
	}
	if cfg.LogLevel == "debug" {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		sinks = append(sinks, log.NewSlogAdapter(slog.New(handler)))
	}

	var logger log.Logger
	switch len(sinks) {
	case 0:
		logger = log.NoopLogger{}
	case 1:
		logger = sinks[0]
	default:
		logger = log.NewMultiLogger(sinks...)
	}

	sessions := api.NewSessionsAPI(store, nil, logger)
	devices := api.NewDevicesAPI(sessions, store, nil, logger)
	proxy := api.NewProxyAPI(nil, logger)

	s := &Server{
		config:   cfg,
		version:  version,
		router:   mux.NewRouter(),
		store:    store,
		sessions: sessions,
		devices:  devices,
		proxy:    proxy,
		flowLog:  flowLog,
	}

	s.registerRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: s.router,
	}

	return s, nil
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	apiRouter := s.router.PathPrefix("/api/v1").Subrouter()

	apiRouter.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	apiRouter.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	apiRouter.HandleFunc("/login", s.sessions.HandleLogin).Methods(http.MethodPost)
	apiRouter.HandleFunc("/verify", s.sessions.HandleVerify).Methods(http.MethodPost)

	apiRouter.HandleFunc("/sessions/{id}/export", func(w http.ResponseWriter, r *http.Request) {
		s.sessions.HandleExport(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sessions/{id}/validate", func(w http.ResponseWriter, r *http.Request) {
		s.devices.HandleValidate(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)
	apiRouter.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.sessions.HandleDelete(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/devices", s.devices.HandleList).Methods(http.MethodGet)
	apiRouter.HandleFunc("/devices/stream", s.devices.HandleStream).Methods(http.MethodGet)

	apiRouter.HandleFunc("/proxy", s.proxy.HandleProxy).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/devices", s.devices.HandleWS)

	// Static files and SPA
	s.router.PathPrefix("/").HandlerFunc(s.handleStatic)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version := s.version
	if version == "" {
		version = "dev"
	}

	resp := map[string]string{
		"status":  "ok",
		"version": version,
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleInfo returns server information.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	sessionCount, _ := s.store.Count()

	resp := map[string]int{
		"session_count": sessionCount,
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatic serves static files and the SPA.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	filePath := strings.TrimPrefix(path, "/")

	file, err := staticFS.Open(filePath)
	if err != nil {
		// Fall back to index.html for SPA routing
		filePath = "index.html"
	} else {
		file.Close()
	}

	switch {
	case strings.HasSuffix(filePath, ".html"):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case strings.HasSuffix(filePath, ".css"):
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
	case strings.HasSuffix(filePath, ".js"):
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	}

	http.ServeFileFS(w, r, staticFS, filePath)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Close shuts down the server and closes the store.
func (s *Server) Close() error {
	if s.flowLog != nil {
		s.flowLog.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
