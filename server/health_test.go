package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexherrero/tradecore/broker"
)

func TestHealthzAlwaysOK(t *testing.T) {
	h := NewHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.Healthz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestReadyzReturns503WhenAnyCheckFails(t *testing.T) {
	h := NewHandler(nil,
		NewChecker("order.coordinator", func() bool { return true }),
		NewChecker("signal.coordinator", func() bool { return false }),
	)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ready"])
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "not_ready", checks["signal.coordinator"])
}

func TestReadyzReturns200WhenAllChecksPass(t *testing.T) {
	h := NewHandler(nil, NewChecker("order.coordinator", func() bool { return true }))
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()

	h.Readyz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDebugStatusReportsBrokerConnections(t *testing.T) {
	registry := broker.NewRegistry()
	mock := broker.NewMockAdapter()
	_, err := mock.Connect(context.Background(), broker.Credentials{})
	require.NoError(t, err)
	registry.Register("ub-1", mock)

	h := NewHandler(registry)
	req := httptest.NewRequest(http.MethodGet, "/debug/status", nil)
	rec := httptest.NewRecorder()

	h.DebugStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	brokers := body["brokers"].(map[string]interface{})
	require.Contains(t, brokers, "ub-1")
}
