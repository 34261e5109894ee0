package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"noteprompt/internal/models"
	"noteprompt/internal/quota"
)

// maxCheckBodyBytes bounds the check request body.
const maxCheckBodyBytes = 4 << 10

// Handlers contains HTTP handlers for the limiter API
type Handlers struct {
	service   quota.ServiceInterface
	version   string
	startedAt time.Time
}

// HandlerOption configures optional Handlers dependencies.
type HandlerOption func(*Handlers)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) HandlerOption {
	return func(h *Handlers) {
		h.version = v
	}
}

// NewHandlers creates a new handlers instance
func NewHandlers(service quota.ServiceInterface, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		service:   service,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CheckRateLimit records one request against a named policy and reports the
// decision. Both outcomes are answered with 200; a denial has allowed=false.
// POST /api/v1/ratelimit/check
func (h *Handlers) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req models.CheckRequest
	body := http.MaxBytesReader(w, r.Body, maxCheckBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	response, err := h.service.Check(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if !response.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfter))
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// ListPolicies handles policy list requests
// GET /api/v1/ratelimit/policies
func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.service.Policies(r.Context()))
}

// ListViolations handles audit trail requests
// GET /api/v1/ratelimit/violations?identifier=&policy=&since=&limit=
func (h *Handlers) ListViolations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	req := &models.ListViolationsRequest{
		Identifier: query.Get("identifier"),
		Policy:     query.Get("policy"),
	}

	if sinceParam := query.Get("since"); sinceParam != "" {
		since, err := time.Parse(time.RFC3339, sinceParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		req.Since = since
	}

	if limitParam := query.Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "limit must be an integer")
			return
		}
		req.Limit = limit
	}

	response, err := h.service.Violations(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
// The audit store is secondary: when it is unreachable the service still
// decides requests, so the report is degraded rather than unhealthy.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = h.version
	response.Uptime = time.Since(h.startedAt).Round(time.Second).String()

	response.AddComponent("api", models.StatusHealthy, "API is operational")
	response.AddComponent("limiter", models.StatusHealthy, "Limiter is operational")

	if err := h.service.Ping(r.Context()); err != nil {
		slog.Warn("Health check storage ping failed", "error", err)
		response.Status = models.StatusDegraded
		response.AddComponent("storage", models.StatusUnhealthy, "Storage is unreachable")
	} else {
		response.AddComponent("storage", models.StatusHealthy, "Storage is operational")
	}

	if n, ok := h.service.Entries(); ok {
		response.AddMetric("limiter_entries", n)
	}
	response.AddMetric("policies", len(h.service.Policies(r.Context()).Policies))

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeServiceError maps a quota.ServiceError onto its status and code. Any
// other error is reported as an internal error.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *quota.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.StatusCode >= http.StatusInternalServerError {
			slog.Error("Request failed", "code", svcErr.Code, "error", err)
		}
		h.writeErrorResponse(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}

	slog.Error("Request failed", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	writeJSON(w, statusCode, data)
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	writeJSON(w, statusCode, models.NewErrorResponse(message, errorCode))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so only log it
		slog.Error("Error encoding JSON response", "error", err)
	}
}
