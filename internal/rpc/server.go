package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mqc3/scheduler/internal/clock"
	"github.com/mqc3/scheduler/internal/statusmsg"
	"github.com/mqc3/scheduler/internal/tokenservice"
)

// ServerConfig configures the shared HTTP-level concerns of either the
// submission or execution server.
type ServerConfig struct {
	ListenAddr     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// buildHandler wraps routes with the common middleware chain: recovery,
// request id, CORS, auth, rate limit. Order matches the admin API's
// applyMiddleware, with JWT auth swapped for the token service and the
// hand-rolled bucket swapped for golang.org/x/time/rate.
func buildHandler(router *mux.Router, cfg ServerConfig, tokens *tokenservice.Client, catalog *statusmsg.Catalog, clk clock.Clock, logger *zap.Logger) http.Handler {
	limiters := NewLimiters(cfg.RateLimitRPS, cfg.RateLimitBurst)

	var handler http.Handler = router
	handler = RateLimitMiddleware(limiters, catalog)(handler)
	handler = AuthMiddleware(tokens, catalog, clk, logger)(handler)
	handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = RecoveryMiddleware(catalog, logger)(handler)
	return handler
}

// Server pairs an http.Server with graceful shutdown, used for both the
// submission and execution listeners (§5: two independent RPC servers
// sharing process-wide state through the job manager).
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

func newServer(cfg ServerConfig, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// NewSubmissionHTTPServer builds the submission server's net/http.Server,
// fully wired with middleware and routes.
func NewSubmissionHTTPServer(cfg ServerConfig, s *SubmissionServer, tokens *tokenservice.Client, catalog *statusmsg.Catalog, clk clock.Clock, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s.Routes(router)
	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	return newServer(cfg, buildHandler(router, cfg, tokens, catalog, clk, logger), logger)
}

// NewExecutionHTTPServer builds the execution server's net/http.Server.
func NewExecutionHTTPServer(cfg ServerConfig, s *ExecutionServer, tokens *tokenservice.Client, catalog *statusmsg.Catalog, clk clock.Clock, logger *zap.Logger) *Server {
	router := mux.NewRouter()
	s.Routes(router)
	router.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	return newServer(cfg, buildHandler(router, cfg, tokens, catalog, clk, logger), logger)
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ListenAndServe starts the server; it blocks until Shutdown is called or
// a fatal listener error occurs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting RPC server", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
