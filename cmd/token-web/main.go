// Command token-web provides an HTTP frontend for extracting Xiaomi cloud
// tokens.
//
// It offers:
//   - REST API for the login flow, including two-factor verification
//   - Streaming device extraction over SSE and WebSocket
//   - Simple web UI
//   - SQLite persistence for suspended login sessions
//
// Usage:
//
//	token-web [flags]
//
// Flags:
//
//	-config string     Configuration file path (YAML, optional)
//	-port int          HTTP server port (default 8080)
//	-db string         SQLite database path (default "./token-web.db")
//	-log string        Flow log file path (CBOR, optional)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Start the web server on default port
//	token-web
//
//	# Start on a custom port with an in-memory session store
//	token-web -port 9000 -db :memory:
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	configPath  = flag.String("config", "", "Configuration file path (YAML)")
	port        = flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	logPath     = flag.String("log", "", "Flow log file path (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("token-web %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading configuration: %v\n", err)
		return 1
	}

	// Flags win over file and environment.
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logPath != "" {
		cfg.LogPath = *logPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log.SetFlags(log.Ldate | log.Ltime)
	if cfg.LogLevel == "debug" {
		log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	}

	srv, err := NewServer(cfg, Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create server: %v\n", err)
		return 1
	}
	defer srv.Close()

	log.Printf("Starting token-web on http://localhost:%d", cfg.Port)
	log.Printf("Session store: %s", cfg.DBPath)

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: server failed: %v\n", err)
		return 1
	}

	return 0
}
