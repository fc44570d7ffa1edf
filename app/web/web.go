// Package web implements the HTTP server for task CRUD
package web

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/go-playground/validator/v10"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/go-taskbench/taskbench/app/store"
)

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store

// DefaultName is reported by /info unless overridden
const DefaultName = "go-routegroup"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Store defines task persistence used by handlers
type Store interface {
	Create(ctx context.Context, t store.NewTask) (store.Task, error)
	Get(ctx context.Context, id int64) (store.Task, error)
	List(ctx context.Context) ([]store.Task, error)
	Update(ctx context.Context, id int64, t store.NewTask) (store.Task, error)
	Delete(ctx context.Context, id int64) (int64, error)
	Stats() sql.DBStats
}

// Config holds server configuration
type Config struct {
	Store     Store
	Name      string // server implementation name reported by /info, used by benchmark as file name part
	Version   string
	Throttle  int64   // max in-flight requests, 0 for unlimited
	RateLimit float64 // max requests per second per client ip, 0 to disable
	SizeLimit int64   // max request body size, defaults to 64KB
}

// Server represents the web server
type Server struct {
	store     Store
	name      string
	version   string
	throttle  int64
	rateLimit float64
	sizeLimit int64
	validate  *validator.Validate
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("web server initialization failed: Store is required")
	}
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("web server initialization failed: invalid server name %q, only letters, digits, dot, dash and underscore allowed", name)
	}
	sizeLimit := cfg.SizeLimit
	if sizeLimit <= 0 {
		sizeLimit = 64 * 1024
	}

	return &Server{
		store:     cfg.Store,
		name:      name,
		version:   cfg.Version,
		throttle:  cfg.Throttle,
		rateLimit: cfg.RateLimit,
		sizeLimit: sizeLimit,
		validate:  validator.New(),
	}, nil
}

// Run starts the web server and blocks until ctx canceled
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server %q on %s", s.name, address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware - applied to all routes
	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.AppInfo("taskbench", "taskbench", s.version),
		rest.Ping,
		rest.SizeLimit(s.sizeLimit),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)
	if s.throttle > 0 {
		router.Use(rest.Throttle(s.throttle))
	}
	if s.rateLimit > 0 {
		lmt := tollbooth.NewLimiter(s.rateLimit, nil)
		lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"}) // RealIP already resolved it
		router.Use(tollbooth.HTTPMiddleware(lmt))
	}

	router.HandleFunc("GET /{$}", s.handleHello)
	router.HandleFunc("GET /info", s.handleInfo)
	router.HandleFunc("GET /status", s.handleStatus)

	router.Group().Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		api.HandleFunc("POST /tasks", s.handleCreateTask)
		api.HandleFunc("GET /tasks", s.handleListTasks)
		api.HandleFunc("GET /tasks/{$}", s.handleListTasks)
		api.HandleFunc("GET /tasks/{id}", s.handleGetTask)
		api.HandleFunc("PUT /tasks/{id}", s.handleUpdateTask)
		api.HandleFunc("DELETE /tasks/{id}", s.handleDeleteTask)
	})

	return router
}

// handleHello returns greeting, used by benchmark as a baseline without store access
func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	s.writeText(w, http.StatusOK, "Hello, world!")
}

// handleInfo returns server implementation name
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeText(w, http.StatusOK, s.name)
}

// statusResponse is the JSON response for /status
type statusResponse struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	MaxOpen        int    `json:"max_open"`
	Open           int    `json:"open"`
	InUse          int    `json:"in_use"`
	Idle           int    `json:"idle"`
	WaitCount      int64  `json:"wait_count"`
	WaitDurationMs int64  `json:"wait_duration_ms"`
}

// handleStatus reports store pool statistics, shows queueing on the connection pool under load
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.store.Stats()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Name:           s.name,
		Version:        s.version,
		MaxOpen:        st.MaxOpenConnections,
		Open:           st.OpenConnections,
		InUse:          st.InUse,
		Idle:           st.Idle,
		WaitCount:      st.WaitCount,
		WaitDurationMs: st.WaitDuration.Milliseconds(),
	})
}

func (s *Server) writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}
