package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sistemagestao/sistemagestao/internal/observability"
	_ "github.com/sistemagestao/sistemagestao/internal/testing/guard"
)

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Cleanup(RefreshTestMode)
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, LockBackendMemory, cfg.LockBackend)
	require.Equal(t, 30*time.Second, cfg.LockTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.True(t, cfg.MigrateOnStart)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownLockBackend(t *testing.T) {
	t.Setenv("LOCK_BACKEND", "zookeeper")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "LOCK_BACKEND")

	t.Setenv("LOCK_BACKEND", LockBackendRedis)
	t.Setenv("LOCK_WAIT", "0s")
	_, err = LoadConfig()
	require.Error(t, err)
}

func newTestRouter(ready func(*http.Request) error) http.Handler {
	return NewRouter(RouterParams{
		Config:  &Config{AppEnv: "test", RateLimitPerMinute: 0},
		Metrics: observability.NewMetrics(),
		Ready:   ready,
	})
}

func TestRouterHealthAndMetrics(t *testing.T) {
	h := newTestRouter(nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `sistemagestao_http_requests_total{code="200",route="/healthz"} 1`), rr.Body.String())
}

func TestRouterReadiness(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	newTestRouter(func(*http.Request) error { return errors.New("db down") }).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(RouterParams{Config: &Config{RateLimitPerMinute: 2}})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
