// Package engine wires the domain services behind the HTTP API.
package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geodepot/geodepot/internal/auth"
	"github.com/geodepot/geodepot/internal/services/changestamp"
	"github.com/geodepot/geodepot/internal/services/fork"
	"github.com/geodepot/geodepot/internal/services/geography"
	"github.com/geodepot/geodepot/internal/services/layer"
	"github.com/geodepot/geodepot/internal/services/locality"
	"github.com/geodepot/geodepot/internal/services/meta"
	"github.com/geodepot/geodepot/internal/services/namespace"
	"github.com/geodepot/geodepot/internal/services/scope"
	"github.com/geodepot/geodepot/internal/services/user"
	"github.com/geodepot/geodepot/pkg/config"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/health"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Engine owns the HTTP server and every domain service.
type Engine struct {
	config *config.Config
	logger *logger.Logger
	server *http.Server

	db      *database.PostgreSQL
	cache   *database.Redis
	checker *health.Checker

	users       *user.Service
	scopes      *scope.Service
	metas       *meta.Service
	stamps      *changestamp.Service
	namespaces  *namespace.Service
	localities  *locality.Service
	layers      *layer.Service
	geographies *geography.Service
	forks       *fork.Service
	sessions    *auth.Service

	logs *logBuffer

	state struct {
		sync.Mutex
		isRunning         bool
		ongoingOperations int32
	}
	metrics struct {
		requestsProcessed int64
		errors            int64
	}
}

// NewEngine builds the service graph. The cache may be nil.
func NewEngine(cfg *config.Config, db *database.PostgreSQL, cache *database.Redis, authCfg auth.Config, log *logger.Logger) *Engine {
	e := &Engine{
		config: cfg,
		logger: log,
		db:     db,
		cache:  cache,
	}

	e.users = user.NewService(db, log)
	e.scopes = scope.NewService(db, log)
	e.metas = meta.NewService(db, log)
	e.stamps = changestamp.NewService(db, cache, log)
	e.namespaces = namespace.NewService(db, e.stamps, log)
	e.localities = locality.NewService(db, e.stamps, log)
	e.layers = layer.NewService(db, e.stamps, log)
	e.geographies = geography.NewService(db, e.stamps, log)
	e.forks = fork.NewService(db, e.namespaces, e.localities, e.layers, e.geographies, e.stamps, log)
	e.sessions = auth.NewService(e.users, e.scopes, e.metas, authCfg, log)

	e.logs = newLogBuffer(logBufferSize)
	go e.logs.run(log.Subscribe())

	e.checker = health.NewChecker()
	return e
}

// Start serves HTTP until the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.state.Lock()
	if e.state.isRunning {
		e.state.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.state.isRunning = true
	e.state.Unlock()

	addr := e.config.GetOrDefault("http.listen.address", ":8080")
	server := NewServer(e)
	e.server = &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.logger.Infof("HTTP API listening on %s", addr)
	err := e.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop drains in-flight requests and shuts the server down.
func (e *Engine) Stop(ctx context.Context) error {
	e.state.Lock()
	running := e.state.isRunning
	e.state.isRunning = false
	e.state.Unlock()
	if !running || e.server == nil {
		return nil
	}
	e.logger.Info("Shutting down HTTP API")
	return e.server.Shutdown(ctx)
}

// TrackOperation marks the start of a request for draining and metrics.
func (e *Engine) TrackOperation() {
	e.state.Lock()
	e.state.ongoingOperations++
	e.state.Unlock()
	atomic.AddInt64(&e.metrics.requestsProcessed, 1)
}

// UntrackOperation marks the end of a request.
func (e *Engine) UntrackOperation() {
	e.state.Lock()
	e.state.ongoingOperations--
	e.state.Unlock()
}

func (e *Engine) trackError() {
	atomic.AddInt64(&e.metrics.errors, 1)
}

// Bootstrap ensures an admin account with every scope exists.
func (e *Engine) Bootstrap(ctx context.Context, name, email, password string) (*user.User, error) {
	return e.sessions.Bootstrap(ctx, name, email, password)
}

// Health probes the engine's dependencies and reports overall status along
// with the time the checker last saw everything healthy.
func (e *Engine) Health(ctx context.Context) (health.Status, []health.Check, time.Time) {
	e.checker.RunCheck("database", func() error { return e.db.Ping(ctx) })
	if e.cache != nil {
		e.checker.RunCheck("cache", func() error { return e.cache.Client().Ping(ctx).Err() })
	}
	return e.checker.OverallStatus(), e.checker.Checks(), e.checker.LastHealthy()
}
