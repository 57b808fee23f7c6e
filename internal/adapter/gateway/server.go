package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
	"github.com/cfieandres/cyphr-tableau/internal/infra/config"
	"github.com/cfieandres/cyphr-tableau/internal/infra/metrics"
	"github.com/cfieandres/cyphr-tableau/internal/infra/middleware"
	"github.com/cfieandres/cyphr-tableau/internal/usecase"
	"github.com/cfieandres/cyphr-tableau/internal/usecase/multiagent"
)

// Deps holds the collaborators behind the HTTP routes. Logs and Metrics
// are optional; without Logs the /api/logs routes are not mounted.
type Deps struct {
	Dispatcher *usecase.Dispatcher
	Registry   *multiagent.Registry
	Sessions   *usecase.SessionStore
	Logs       domain.RequestLogStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Version    string
}

// Server is the HTTP front end of the backend.
type Server struct {
	cfg     config.ServerConfig
	deps    Deps
	auth    Authenticator
	logger  *slog.Logger
	router  *mux.Router
	started time.Time
	now     func() time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server. A nil auth leaves admin routes open.
func NewServer(cfg config.ServerConfig, deps Deps, auth Authenticator) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		auth:    auth,
		logger:  deps.Logger,
		started: time.Now(),
		now:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, string(domain.CodeNotFound), "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.HandleFunc("/", s.handleBanner).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/route", s.handleRoute).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/endpoints", requireAdmin(s.auth, s.handleListEndpoints)).Methods(http.MethodGet)
	api.HandleFunc("/endpoints", requireAdmin(s.auth, s.handleUpsertEndpoint)).Methods(http.MethodPost)
	api.HandleFunc("/endpoints/{path:.+}", requireAdmin(s.auth, s.handleGetEndpoint)).Methods(http.MethodGet)
	api.HandleFunc("/endpoints/{path:.+}", requireAdmin(s.auth, s.handleDeleteEndpoint)).Methods(http.MethodDelete)

	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/messages", s.handleAppendMessage).Methods(http.MethodPost)

	if s.deps.Logs != nil {
		api.HandleFunc("/logs", requireAdmin(s.auth, s.handleListLogs)).Methods(http.MethodGet)
		api.HandleFunc("/logs", requireAdmin(s.auth, s.handlePurgeLogs)).Methods(http.MethodDelete)
		api.HandleFunc("/logs/stats", requireAdmin(s.auth, s.handleLogStats)).Methods(http.MethodGet)
		api.HandleFunc("/logs/{id}", requireAdmin(s.auth, s.handleGetLog)).Methods(http.MethodGet)
	}

	// Direct endpoint calls. Registered last so fixed routes win; paths
	// under /api never reach it.
	r.HandleFunc("/{endpoint:.+}", s.handleDirect).Methods(http.MethodPost)
	return r
}

// Handler returns the router wrapped in the middleware chain. ctx bounds
// the rate limiter's background cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	var h http.Handler = s.router
	if s.cfg.MaxBodyBytes > 0 {
		h = middleware.MaxBytes(s.cfg.MaxBodyBytes)(h)
	}
	if s.cfg.RateLimit.Enabled {
		h = middleware.RateLimit(ctx, s.cfg.RateLimit, s.cfg.TrustedProxies)(h)
	}
	h = cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: s.cfg.CORS.AllowCredentials,
	}).Handler(h)
	h = middleware.SecurityHeaders(h)
	h = middleware.AccessLog(s.logger, s.deps.Metrics, s.routeName)(h)
	h = middleware.RequestID(h)
	h = middleware.Recover(s.logger)(h)
	return h
}

// routeName returns the matched route template, keeping metric labels
// bounded.
func (s *Server) routeName(r *http.Request) string {
	var match mux.RouteMatch
	if s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	tls := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
	s.logger.Info("gateway started", "addr", s.BoundAddr(), "tls", tls)

	go func() {
		<-ctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Warn("gateway shutdown", "error", err)
		}
	}()

	if tls {
		err = srv.ServeTLS(listener, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	} else {
		err = srv.Serve(listener)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Info("gateway stopping")
	return srv.Shutdown(ctx)
}

// BoundAddr returns the actual listen address after Start. Useful when
// the configured port is 0.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// fail writes err as a response and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := HTTPStatus(err); status >= http.StatusInternalServerError {
		s.logger.Warn("request failed",
			"request_id", middleware.RequestIDFrom(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeDomainError(w, err)
}
