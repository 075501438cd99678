package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/zzerding/xiaomi-token-web/pkg/auth"
	"github.com/zzerding/xiaomi-token-web/pkg/log"
	"github.com/zzerding/xiaomi-token-web/pkg/session"
	"github.com/zzerding/xiaomi-token-web/pkg/transport"
)

// SessionsAPI handles the login flow endpoints. Each HTTP request restores
// the client state from the store, advances the flow one step, and
// persists the state again, so the server itself holds nothing between
// requests.
type SessionsAPI struct {
	store   *Store
	fetcher transport.Fetcher
	logger  log.Logger
}

// NewSessionsAPI creates a new sessions API handler.
func NewSessionsAPI(store *Store, fetcher transport.Fetcher, logger log.Logger) *SessionsAPI {
	if fetcher == nil {
		fetcher = transport.NewClient()
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &SessionsAPI{store: store, fetcher: fetcher, logger: logger}
}

// HandleLogin handles POST /api/v1/login.
func (a *SessionsAPI) HandleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.Username == "" || body.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "Username and password are required", "")
		return
	}

	id := uuid.NewString()
	engine := auth.NewEngine(body.Username, body.Password,
		auth.WithFetcher(a.fetcher), auth.WithLogger(a.logger))

	result, err := engine.Login(req.Context())
	if err != nil {
		var credErr *auth.CredentialError
		if errors.As(err, &credErr) {
			writeJSONError(w, http.StatusUnauthorized, "Login failed", credErr.Desc)
			return
		}
		writeJSONError(w, http.StatusBadGateway, "Login failed", err.Error())
		return
	}

	if result.Requires2FA {
		// Discover the verification channels now so the state stored for
		// the verify call already carries them.
		engine.CheckIdentityOptions(req.Context())
	}

	if err := a.saveState(id, engine.State()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to persist session", err.Error())
		return
	}

	resp := LoginResponse{
		SessionID: id,
		State:     engine.State().State.String(),
	}
	if result.Requires2FA {
		resp.Status = Status2FARequired
		resp.VerifyURL = result.VerifyURL
		resp.Options = engine.State().IdentityOptions
	} else {
		resp.Status = StatusAuthenticated
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// HandleVerify handles POST /api/v1/verify: ticket submission plus the
// credential retry and token exchange, so a successful call ends with a
// fully authenticated session.
func (a *SessionsAPI) HandleVerify(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body VerifyRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if body.SessionID == "" || body.Ticket == "" {
		writeJSONError(w, http.StatusBadRequest, "Session id and ticket are required", "")
		return
	}

	state, err := a.loadState(body.SessionID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Unknown session", err.Error())
		return
	}

	engine := auth.Restore(state, auth.WithFetcher(a.fetcher), auth.WithLogger(a.logger))

	if err := engine.VerifyTicket(req.Context(), body.Ticket); err != nil {
		a.saveState(body.SessionID, engine.State())
		if errors.Is(err, auth.ErrTicketRejected) {
			writeJSONError(w, http.StatusUnauthorized, "Verification ticket rejected", err.Error())
			return
		}
		writeJSONError(w, http.StatusBadGateway, "Verification failed", err.Error())
		return
	}

	if err := engine.RetryAfterVerification(req.Context()); err != nil {
		a.saveState(body.SessionID, engine.State())
		writeJSONError(w, http.StatusBadGateway, "Login retry after verification failed", err.Error())
		return
	}

	if err := engine.LoginStep3(req.Context()); err != nil {
		a.saveState(body.SessionID, engine.State())
		writeJSONError(w, http.StatusBadGateway, "Token exchange failed", err.Error())
		return
	}

	if err := a.saveState(body.SessionID, engine.State()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to persist session", err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, LoginResponse{
		SessionID: body.SessionID,
		Status:    StatusAuthenticated,
		State:     engine.State().State.String(),
	})
}

// HandleExport handles GET /api/v1/sessions/{id}/export.
func (a *SessionsAPI) HandleExport(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, err := a.loadState(id)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "Unknown session", err.Error())
		return
	}

	data, err := session.Export(state, time.Now())
	if err != nil {
		writeJSONError(w, http.StatusConflict, "Session is not authenticated", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, data)
}

// HandleDelete handles DELETE /api/v1/sessions/{id}.
func (a *SessionsAPI) HandleDelete(w http.ResponseWriter, req *http.Request, id string) {
	if err := a.store.Delete(id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to delete session", err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// saveState serializes the client state into the store.
func (a *SessionsAPI) saveState(id string, state *auth.ClientState) error {
	payload, err := session.MarshalState(state)
	if err != nil {
		return err
	}
	return a.store.Put(id, state.State.String(), payload)
}

// loadState restores the client state of a stored session.
func (a *SessionsAPI) loadState(id string) (*auth.ClientState, error) {
	stored, err := a.store.Get(id)
	if err != nil {
		return nil, err
	}
	return session.UnmarshalState(stored.Payload)
}
