package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"noteprompt/internal/api"
	"noteprompt/internal/config"
	"noteprompt/internal/models"
	"noteprompt/internal/observability"
	"noteprompt/internal/quota"
	"noteprompt/internal/ratelimit"
	"noteprompt/internal/storage"
	"noteprompt/internal/version"
)

// Integration tests that run the whole stack end-to-end: YAML config, Redis
// limiter (miniredis), SQLite audit storage, instrumentation and the router.

type stack struct {
	server   *httptest.Server
	metrics  *httptest.Server
	service  *quota.Service
	provider *observability.Provider
}

func writeConfig(t *testing.T, redisAddr string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "violations.db")

	content := fmt.Sprintf(`
config_version: "1.0.0"
limiter:
  backend: redis
  protect_api: true
  redis:
    addr: %q
    key_prefix: "it:"
  policies:
    login:
      window: 1m
      max_requests: 3
    api:
      window: 1m
      max_requests: 50
storage:
  type: sqlite
  database:
    dsn: %q
  audit:
    enabled: true
    writes_per_second: 100
    burst: 100
    retention: 1h
logging:
  level: error
metrics:
  enabled: true
  path: /metrics
`, redisAddr, dbPath)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg, err := config.Load(writeConfig(t, mr.Addr()))
	require.NoError(t, err)

	provider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	require.NoError(t, err)
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	store, err := storage.NewFactory().Create(cfg.Storage)
	require.NoError(t, err)
	instrumentedStore, err := observability.NewInstrumentedStorage(store)
	require.NoError(t, err)
	t.Cleanup(func() { instrumentedStore.Close() })

	client, err := ratelimit.DialRedis(ctx, cfg.Limiter.Redis.Addr, cfg.Limiter.Redis.Password,
		cfg.Limiter.Redis.DB, cfg.Limiter.Redis.PoolSize)
	require.NoError(t, err)
	limiter, err := observability.NewInstrumentedLimiter(
		ratelimit.NewRedisLimiter(client, ratelimit.WithKeyPrefix(cfg.Limiter.Redis.KeyPrefix)))
	require.NoError(t, err)
	t.Cleanup(func() { limiter.Close() })

	service := quota.NewService(limiter, cfg.Limiter.Policies,
		quota.WithAudit(instrumentedStore, cfg.Storage.Audit))

	handlers := api.NewHandlers(service, api.WithVersion(version.Version))
	router := api.SetupRoutes(handlers, cfg,
		api.WithRateLimiter(ratelimit.Middleware(limiter, ratelimit.PolicyAPI, cfg.Limiter.Policies[ratelimit.PolicyAPI])))

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	metrics := httptest.NewServer(observability.NewMetricsServer(0, cfg.Metrics.Path, provider).Handler())
	t.Cleanup(metrics.Close)

	return &stack{server: server, metrics: metrics, service: service, provider: provider}
}

func (s *stack) check(t *testing.T, identifier, policy string) (*http.Response, models.CheckResponse) {
	t.Helper()
	body, err := json.Marshal(models.CheckRequest{Identifier: identifier, Policy: policy})
	require.NoError(t, err)

	resp, err := http.Post(s.server.URL+"/api/v1/ratelimit/check", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decision models.CheckResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	}
	return resp, decision
}

func TestIntegration_LoginFlow(t *testing.T) {
	s := newStack(t)

	// Step 1: three login attempts fit the configured policy
	for i := 1; i <= 3; i++ {
		resp, decision := s.check(t, "198.51.100.23", ratelimit.PolicyLogin)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, decision.Allowed, "attempt %d", i)
		assert.Equal(t, 3-i, decision.Remaining)
		assert.Equal(t, 3, decision.Limit)
	}

	// Step 2: the fourth is denied with a retry hint
	resp, decision := s.check(t, "198.51.100.23", ratelimit.PolicyLogin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.GreaterOrEqual(t, decision.RetryAfter, 1)
	assert.LessOrEqual(t, decision.RetryAfter, 60)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Step 3: another client and another policy are unaffected
	_, decision = s.check(t, "198.51.100.24", ratelimit.PolicyLogin)
	assert.True(t, decision.Allowed)
	_, decision = s.check(t, "198.51.100.23", ratelimit.PolicyVerifyEmail)
	assert.True(t, decision.Allowed)

	// Step 4: the denial is in the SQLite audit trail
	resp, err := http.Get(s.server.URL + "/api/v1/ratelimit/violations?identifier=198.51.100.23")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var violations models.ListViolationsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&violations))
	require.Equal(t, 1, violations.Count)
	assert.Equal(t, ratelimit.PolicyLogin, violations.Violations[0].Policy)
	assert.Equal(t, int64(60000), violations.Violations[0].WindowMs)

	// Step 5: retention leaves fresh violations alone and removes old ones
	removed, err := s.service.PurgeExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.service.PurgeExpired(context.Background(), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestIntegration_PoliciesAndErrors(t *testing.T) {
	s := newStack(t)

	resp, err := http.Get(s.server.URL + "/api/v1/ratelimit/policies")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var policies models.ListPoliciesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&policies))
	byName := make(map[string]models.PolicyInfo, len(policies.Policies))
	for _, p := range policies.Policies {
		byName[p.Name] = p
	}
	assert.Equal(t, 3, byName[ratelimit.PolicyLogin].MaxRequests)
	assert.Equal(t, 3, byName[ratelimit.PolicySendVerification].MaxRequests)

	resp, _ = s.check(t, "198.51.100.23", "password_reset")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.check(t, "", ratelimit.PolicyLogin)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIntegration_HealthAndMetrics(t *testing.T) {
	s := newStack(t)

	s.check(t, "198.51.100.23", ratelimit.PolicyLogin)

	resp, err := http.Get(s.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Equal(t, models.StatusHealthy, health.Components["storage"].Status)
	// Redis does not count its keys
	assert.NotContains(t, health.Metrics, "limiter_entries")

	resp, err = http.Get(s.metrics.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, "ratelimit_decisions"), "decision counter missing from /metrics")
	assert.Contains(t, text, `policy="login"`)
	assert.Contains(t, text, "storage_operation_duration")
}
