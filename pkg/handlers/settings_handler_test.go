package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/middleware"
	"github.com/sage-clinical/sage-engine/pkg/settings"
)

func newSettingsMux(t *testing.T) (*http.ServeMux, *settings.Service) {
	t.Helper()
	svc, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	mux := http.NewServeMux()
	NewSettingsHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux, svc
}

func asAdmin(req *http.Request) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(),
		&middleware.Identity{UserID: "u-1", Username: "admin"}))
}

func TestSettingsSetAndGet(t *testing.T) {
	mux, svc := newSettingsMux(t)

	req := asAdmin(httptest.NewRequest(http.MethodPut, "/api/settings/cache_ttl_seconds",
		strings.NewReader(`{"value":"1800"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	st, err := svc.Get("cache_ttl_seconds")
	require.NoError(t, err)
	assert.Equal(t, "1800", st.Value)
	assert.Equal(t, "admin", st.UpdatedBy)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/cache_ttl_seconds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1800")
}

func TestSettingsGet_NotFound(t *testing.T) {
	mux, _ := newSettingsMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsGet_SensitiveMasked(t *testing.T) {
	mux, svc := newSettingsMux(t)
	require.NoError(t, svc.Set(context.Background(), "llm_api_key", "sk-secret", "admin"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/llm_api_key", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-secret")
	assert.Contains(t, rec.Body.String(), settings.MaskedValue)
}

func TestSettingsHistory(t *testing.T) {
	mux, svc := newSettingsMux(t)
	ctx := context.Background()
	require.NoError(t, svc.Set(ctx, "llm_temperature", "0.0", "admin"))
	require.NoError(t, svc.Set(ctx, "llm_temperature", "0.2", "admin"))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings/llm_temperature/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Changes []settings.Change `json:"changes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Changes, 2)
	assert.Equal(t, "0.2", resp.Changes[0].NewValue)
}
