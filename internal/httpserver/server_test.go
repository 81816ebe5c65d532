package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleLiveness_AlwaysOK(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadiness_UnavailableWhenReporterNotReady(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop(), Reporter: notReadyReporter{}})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleReadiness_OKWhenNoReporterConfigured(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth_ServiceUnavailableWhenStatusNotConfigured(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealth_EncodesStatusProvider(t *testing.T) {
	s := New(Config{
		Logger: zerolog.Nop(),
		Status: func() any { return map[string]string{"ok": "yes"} },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":"yes"}`, rec.Body.String())
}

func TestHandleTasks_ServiceUnavailableWhenNotConfigured(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleWebSocket_ServiceUnavailableWhenHubNotConfigured(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type notReadyReporter struct{}

func (notReadyReporter) Ready() bool { return false }
