package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/people/pkg/httputil"
	"github.com/platinummonkey/people/pkg/observability"
)

// DefaultMaxBodyBytes bounds request bodies when ServerConfig leaves it unset
const DefaultMaxBodyBytes = 1 << 20

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	MaxBodyBytes int64
}

// ServerDeps are the server's collaborators. Everything except Service and
// Logger is optional.
type ServerDeps struct {
	Service  PersonService
	Guards   Guards
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Logger   logrus.FieldLogger
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a new API server with every route mounted
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	router := mux.NewRouter()
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	if deps.Health != nil {
		observability.RegisterHealthRoutes(router, deps.Health)
	}
	if deps.Registry != nil {
		observability.RegisterMetricsEndpoint(router, deps.Registry)
	}

	NewPersonHandlers(deps.Service, deps.Logger).RegisterRoutes(router, deps.Guards)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.MaxBytesMiddleware(cfg.MaxBodyBytes),
	)
	return &Server{router: router, handler: chain(router)}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
