package engine

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/geodepot/geodepot/internal/services/scope"
	"github.com/geodepot/geodepot/internal/services/user"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	userContextKey  contextKey = "user"
	factsContextKey contextKey = "facts"
)

// Middleware authenticates requests and attaches permission facts.
type Middleware struct {
	engine *Engine
}

func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

// AuthenticationMiddleware resolves the caller from either an X-API-Key
// header or a Bearer session token, then snapshots their permission facts
// for the rest of the request. Facts never change mid-request.
func (m *Middleware) AuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.shouldSkipAuth(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		key := r.Header.Get("X-API-Key")
		token := extractBearerToken(r)
		if key == "" && token == "" {
			writeErrorResponse(w, http.StatusUnauthorized,
				"an X-API-Key header or Bearer session token is required", "")
			return
		}

		u, err := m.authenticate(ctx, key, token)
		if err != nil {
			writeAPIError(m.engine, w, err)
			return
		}

		facts, err := m.engine.scopes.FactsForUser(ctx, u.ID)
		if err != nil {
			writeAPIError(m.engine, w, err)
			return
		}

		reqCtx := context.WithValue(r.Context(), userContextKey, u)
		reqCtx = context.WithValue(reqCtx, factsContextKey, facts)
		next.ServeHTTP(w, r.WithContext(reqCtx))
	})
}

func (m *Middleware) authenticate(ctx context.Context, key, token string) (*user.User, error) {
	if key != "" {
		return m.engine.users.AuthenticateAPIKey(ctx, key)
	}
	return m.engine.sessions.ValidateSession(ctx, token)
}

func (m *Middleware) shouldSkipAuth(r *http.Request) bool {
	path := r.URL.Path
	if strings.HasSuffix(path, "/health") && r.Method == http.MethodGet {
		return true
	}
	if strings.HasSuffix(path, "/auth/login") && r.Method == http.MethodPost {
		return true
	}
	if strings.HasSuffix(path, "/auth/sessions") && r.Method == http.MethodPost {
		return true
	}
	return false
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requestUser returns the authenticated user stored by the middleware.
func requestUser(r *http.Request) (*user.User, bool) {
	u, ok := r.Context().Value(userContextKey).(*user.User)
	return u, ok && u != nil
}

// requestFacts returns the caller's permission facts snapshot.
func requestFacts(r *http.Request) (*scope.Facts, bool) {
	f, ok := r.Context().Value(factsContextKey).(*scope.Facts)
	return f, ok && f != nil
}
