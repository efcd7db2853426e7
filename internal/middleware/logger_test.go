package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	method, route, status string
}

func (*recordingMetrics) IncUploads(string)    {}
func (*recordingMetrics) IncDeliveries(string) {}
func (*recordingMetrics) IncOrphanedBlobs()    {}
func (*recordingMetrics) IncSweptBlobs()       {}
func (m *recordingMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.method, m.route, m.status = method, route, status
}

func TestLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	m := &recordingMetrics{}

	r := chi.NewRouter()
	r.Use(Logger(log, m))
	r.Get("/api/v1/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/SECRETSECRETSECRETSECR", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "GET", m.method)
	assert.Equal(t, "/api/v1/files/{id}", m.route)
	assert.Equal(t, "404", m.status)
	assert.Contains(t, buf.String(), "route=/api/v1/files/{id}")
	assert.NotContains(t, buf.String(), "SECRETSECRET")
}

func TestLoggerDefaultsToOK(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	r := chi.NewRouter()
	r.Use(Logger(log, nil))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, buf.String(), "status=200")
}
