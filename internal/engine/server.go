package engine

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/pkg/health"
)

// Server binds the HTTP routes to their handlers.
type Server struct {
	engine           *Engine
	router           *mux.Router
	authHandler      *AuthHandlers
	userHandler      *UserHandlers
	metaHandler      *MetaHandlers
	namespaceHandler *NamespaceHandlers
	localityHandler  *LocalityHandlers
	layerHandler     *LayerHandlers
	geographyHandler *GeographyHandlers
	forkHandler      *ForkHandlers
	debugHandler     *DebugHandlers
	middleware       *Middleware
}

func NewServer(engine *Engine) *Server {
	s := &Server{
		engine:           engine,
		router:           mux.NewRouter(),
		authHandler:      NewAuthHandlers(engine),
		userHandler:      NewUserHandlers(engine),
		metaHandler:      NewMetaHandlers(engine),
		namespaceHandler: NewNamespaceHandlers(engine),
		localityHandler:  NewLocalityHandlers(engine),
		layerHandler:     NewLayerHandlers(engine),
		geographyHandler: NewGeographyHandlers(engine),
		forkHandler:      NewForkHandlers(engine),
		debugHandler:     NewDebugHandlers(engine),
		middleware:       NewMiddleware(engine),
	}
	s.setupRoutes()
	s.setupMiddleware()
	return s
}

// Router exposes the configured handler tree.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, If-None-Match")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Logging middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.engine.logger.Debugf("%s %s took %s", r.Method, r.URL.Path, time.Since(start))
		})
	})

	s.router.Use(s.middleware.AuthenticationMiddleware)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Authentication
	api.HandleFunc("/auth/login", s.authHandler.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/sessions", s.authHandler.CreateSession).Methods(http.MethodPost)
	api.HandleFunc("/auth/profile", s.authHandler.GetProfile).Methods(http.MethodGet)

	// Users, API keys, and scope grants
	api.HandleFunc("/users", s.userHandler.CreateUser).Methods(http.MethodPost)
	api.HandleFunc("/api-keys", s.userHandler.CreateAPIKey).Methods(http.MethodPost)
	api.HandleFunc("/api-keys", s.userHandler.DeactivateAPIKey).Methods(http.MethodDelete)
	api.HandleFunc("/users/{user_id}/scopes", s.userHandler.GrantScope).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/scopes", s.userHandler.RevokeScope).Methods(http.MethodDelete)

	// Object metadata
	api.HandleFunc("/meta", s.metaHandler.CreateMeta).Methods(http.MethodPost)
	api.HandleFunc("/meta/{uuid}", s.metaHandler.GetMeta).Methods(http.MethodGet)

	// Namespaces
	api.HandleFunc("/namespaces", s.namespaceHandler.ListNamespaces).Methods(http.MethodGet)
	api.HandleFunc("/namespaces", s.namespaceHandler.CreateNamespace).Methods(http.MethodPost)
	api.HandleFunc("/namespaces/{namespace}", s.namespaceHandler.ShowNamespace).Methods(http.MethodGet)

	// Localities (global, not namespaced)
	api.HandleFunc("/localities", s.localityHandler.ListLocalities).Methods(http.MethodGet)
	api.HandleFunc("/localities", s.localityHandler.CreateLocalities).Methods(http.MethodPost)
	api.HandleFunc("/localities/{ref:.+}/parent", s.localityHandler.ReparentLocality).Methods(http.MethodPut)
	api.HandleFunc("/localities/{ref:.+}", s.localityHandler.ShowLocality).Methods(http.MethodGet)

	// Layers and set mapping
	api.HandleFunc("/layers/{namespace}", s.layerHandler.ListLayers).Methods(http.MethodGet)
	api.HandleFunc("/layers/{namespace}", s.layerHandler.CreateLayer).Methods(http.MethodPost)
	api.HandleFunc("/layers/{namespace}/{layer}", s.layerHandler.ShowLayer).Methods(http.MethodGet)
	api.HandleFunc("/layers/{namespace}/{layer}/localities/{locality:.+}",
		s.layerHandler.MapLocality).Methods(http.MethodPut)
	api.HandleFunc("/layers/{namespace}/{layer}/localities/{locality:.+}",
		s.layerHandler.ListMembers).Methods(http.MethodGet)

	// Geographies
	api.HandleFunc("/geographies/{namespace}", s.geographyHandler.ImportGeographies).Methods(http.MethodPost)
	api.HandleFunc("/geographies/{namespace}", s.geographyHandler.PatchGeographies).Methods(http.MethodPatch)
	api.HandleFunc("/geographies/{namespace}/{path:.+}", s.geographyHandler.ShowGeography).Methods(http.MethodGet)

	// Cross-namespace forking
	api.HandleFunc("/fork", s.forkHandler.Fork).Methods(http.MethodPost)
	api.HandleFunc("/fork/check", s.forkHandler.CheckFork).Methods(http.MethodPost)

	// Admin introspection
	api.HandleFunc("/debug/logs", s.debugHandler.RecentLogs).Methods(http.MethodGet)
	api.HandleFunc("/debug/metrics", s.debugHandler.Metrics).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, checks, lastHealthy := s.engine.Health(r.Context())

	resp := HealthResponse{Status: string(status), Checks: make(map[string]string, len(checks))}
	if !lastHealthy.IsZero() {
		resp.LastHealthy = &lastHealthy
	}
	for _, c := range checks {
		msg := string(c.Status)
		if c.Message != "" {
			msg = c.Message
		}
		resp.Checks[c.Name] = msg
	}

	code := http.StatusOK
	if status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, resp)
}
