package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"noteprompt/internal/models"
)

type routeOptions struct {
	otelService string
	apiLimiter  func(http.Handler) http.Handler
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.otelService = serviceName
	}
}

// WithRateLimiter protects the /api/v1/ratelimit routes with the given
// middleware, typically ratelimit.Middleware with the api policy.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.apiLimiter = middleware
	}
}

// SetupRoutes configures the HTTP routes for the API
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var options routeOptions
	for _, opt := range opts {
		opt(&options)
	}

	router := mux.NewRouter()

	if options.otelService != "" {
		router.Use(otelmux.Middleware(options.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Preflights match the real endpoints only and do not count against the api policy
	api.HandleFunc("/ratelimit/{endpoint:check|policies|violations}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods("OPTIONS")

	limited := api.PathPrefix("/ratelimit").Subrouter()
	if options.apiLimiter != nil {
		limited.Use(options.apiLimiter)
	}
	limited.HandleFunc("/check", handlers.CheckRateLimit).Methods("POST")
	limited.HandleFunc("/check", methodNotAllowedHandler).Methods("GET", "PUT", "DELETE", "PATCH")
	limited.HandleFunc("/policies", handlers.ListPolicies).Methods("GET")
	limited.HandleFunc("/policies", methodNotAllowedHandler).Methods("POST", "PUT", "DELETE", "PATCH")
	limited.HandleFunc("/violations", handlers.ListViolations).Methods("GET")
	limited.HandleFunc("/violations", methodNotAllowedHandler).Methods("POST", "PUT", "DELETE", "PATCH")

	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	router.NotFoundHandler = http.HandlerFunc(notFoundHandler)

	return router
}
