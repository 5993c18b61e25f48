package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/config"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

func TestHealth(t *testing.T) {
	cfg := &config.Config{Version: "test", Env: "test"}
	h := NewHealthHandler(cfg, nil, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestPing(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	h := NewHealthHandler(cfg, store.NewMockExecutor(), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "sage-engine", resp.Service)
	assert.Equal(t, "ok", resp.StudyStore)
}

func TestPing_StoreDown(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	exec := store.NewMockExecutor()
	exec.PingFunc = func(ctx context.Context) error { return errors.New("connection refused") }
	h := NewHealthHandler(cfg, exec, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unreachable", resp.StudyStore)
}
