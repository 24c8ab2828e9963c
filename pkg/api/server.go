package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/dormshare/pkg/httputil"
	"github.com/platinummonkey/dormshare/pkg/middleware"
	"github.com/platinummonkey/dormshare/pkg/observability"
	"github.com/platinummonkey/dormshare/pkg/rbac"
	"github.com/platinummonkey/dormshare/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxBodyBytes caps request bodies on the API router
const DefaultMaxBodyBytes = 1 << 20

// Deps are the components the API routes are built from
type Deps struct {
	Authorizer *middleware.Authorizer
	Sessions   *session.Handlers
	RBAC       *rbac.Handlers
	Logger     *observability.Logger
	// MaxBodyBytes defaults to DefaultMaxBodyBytes
	MaxBodyBytes int64
}

// Server is the HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
	authz   *middleware.Authorizer
	logger  *observability.Logger
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	s := &Server{
		router: mux.NewRouter(),
		authz:  deps.Authorizer,
		logger: logger.WithField("component", "api"),
	}
	s.setupRoutes(deps)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxBody),
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "dormshare.api")
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	if deps.Sessions != nil {
		s.router.HandleFunc("/auth/refresh", deps.Sessions.Refresh).Methods("POST")
		s.router.HandleFunc("/auth/logout", deps.Sessions.Logout).Methods("POST")
	}

	if deps.RBAC != nil {
		admin := s.router.PathPrefix("/admin").Subrouter()
		s.protect(admin, "/roles", "GET", deps.RBAC.ListRoles, middleware.RequirePermissions("role:manage", "role:assign"))
		s.protect(admin, "/roles/{role}/permissions", "POST", deps.RBAC.GrantPermissions, middleware.RequirePermissions("role:manage"))
		s.protect(admin, "/roles/{role}/permissions/{code}", "DELETE", deps.RBAC.RevokePermission, middleware.RequirePermissions("role:manage"))
		s.protect(admin, "/users/{id}/access", "GET", deps.RBAC.GetPrincipalAccess, middleware.RequirePermissions("role:assign", "user:read"))
		s.protect(admin, "/users/{id}/roles", "POST", deps.RBAC.AssignRoles, middleware.RequirePermissions("role:assign"))
		s.protect(admin, "/users/{id}/roles/{role}", "DELETE", deps.RBAC.RemoveRole, middleware.RequirePermissions("role:assign"))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	s.protect(api, "/me", "GET", s.me, middleware.Authenticated())
	s.protect(api, "/bills", "GET", s.listBills, middleware.RequirePermissions("bill:read").On("bill", "read"))
	s.protect(api, "/bills/{id}", "DELETE", s.deleteBill, middleware.RequirePermissions("bill:delete").On("bill", "delete"))
}

func (s *Server) protect(router *mux.Router, path, method string, h http.HandlerFunc, req middleware.Requirement) {
	router.Handle(path, s.authz.Require(req)(h)).Methods(method)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router exposes the underlying router for additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// NewHealthRouter serves liveness, readiness and, when registry is non-nil,
// Prometheus metrics. It is meant for the separate health port.
func NewHealthRouter(health *observability.HealthChecker, registry *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health/live", health.Liveness).Methods("GET")
	router.HandleFunc("/health/ready", health.Readiness).Methods("GET")
	if registry != nil {
		router.Handle("/metrics", observability.Handler(registry)).Methods("GET")
	}
	return router
}
