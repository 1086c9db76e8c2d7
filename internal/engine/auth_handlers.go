package engine

import (
	"encoding/json"
	"net/http"
)

// AuthHandlers contains the session endpoint handlers
type AuthHandlers struct {
	engine *Engine
}

func NewAuthHandlers(engine *Engine) *AuthHandlers {
	return &AuthHandlers{engine: engine}
}

// Login handles POST /api/v1/auth/login
func (ah *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeErrorResponse(w, http.StatusBadRequest, "email and password are required", "")
		return
	}

	token, u, err := ah.engine.sessions.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAPIError(ah.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, SessionResponse{Token: token, User: toUserResponse(u)})
}

// CreateSession handles POST /api/v1/auth/sessions. It exchanges an API key
// for a short-lived session token.
func (ah *AuthHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-API-Key")
	}
	if req.APIKey == "" {
		writeErrorResponse(w, http.StatusBadRequest, "api_key is required", "")
		return
	}

	token, u, err := ah.engine.sessions.LoginWithAPIKey(r.Context(), req.APIKey)
	if err != nil {
		writeAPIError(ah.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, SessionResponse{Token: token, User: toUserResponse(u)})
}

// GetProfile handles GET /api/v1/auth/profile
func (ah *AuthHandlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	ah.engine.TrackOperation()
	defer ah.engine.UntrackOperation()

	u, ok := requestUser(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "user not found in context", "")
		return
	}
	writeJSONResponse(w, http.StatusOK, toUserResponse(u))
}
