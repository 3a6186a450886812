package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lms-api/internal/service"
)

func opsRouter(checks map[string]Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterOps(router, NewMetricsHandler(service.NewMetricsService(), checks, zap.NewNop()))
	return router
}

type readiness struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func probe(t *testing.T, router *gin.Engine, path string) (int, readiness) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body readiness
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthAlwaysOK(t *testing.T) {
	code, body := probe(t, opsRouter(nil), "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReadyAllUp(t *testing.T) {
	up := func(context.Context) error { return nil }
	code, body := probe(t, opsRouter(map[string]Pinger{"postgres": up, "redis": up}), "/ready")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"postgres": "up", "redis": "up"}, body.Dependencies)
}

func TestReadyDegradedWhenOneDown(t *testing.T) {
	checks := map[string]Pinger{
		"postgres": func(context.Context) error { return nil },
		"mongo":    func(context.Context) error { return errors.New("no reachable servers") },
	}
	code, body := probe(t, opsRouter(checks), "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "down", body.Dependencies["mongo"])
	assert.Equal(t, "up", body.Dependencies["postgres"])
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	rec := httptest.NewRecorder()
	opsRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}
