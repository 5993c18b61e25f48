package settings

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSetAndGet(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "cache_ttl_seconds", "1800", "admin"))

	st, err := s.Get("cache_ttl_seconds")
	require.NoError(t, err)
	assert.Equal(t, "1800", st.Value)
	assert.Equal(t, "admin", st.UpdatedBy)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestService(t)

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, "fallback", s.GetOr("missing", "fallback"))
}

func TestSet_Overwrite(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "max_result_rows", "1000", "admin"))
	require.NoError(t, s.Set(ctx, "max_result_rows", "2000", "admin2"))

	st, err := s.Get("max_result_rows")
	require.NoError(t, err)
	assert.Equal(t, "2000", st.Value)
	assert.Equal(t, "admin2", st.UpdatedBy)
}

func TestHistory_RecordsOldAndNew(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "llm_temperature", "0.0", "admin"))
	require.NoError(t, s.Set(ctx, "llm_temperature", "0.2", "admin"))

	history, err := s.History(ctx, "llm_temperature", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first.
	assert.Equal(t, "0.0", history[0].OldValue)
	assert.Equal(t, "0.2", history[0].NewValue)
	assert.Equal(t, "", history[1].OldValue)
	assert.Equal(t, "0.0", history[1].NewValue)
}

func TestSensitiveValuesMasked(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "llm_api_key", "sk-abc123", "admin"))
	require.NoError(t, s.Set(ctx, "llm_api_key", "sk-def456", "admin"))

	// Get returns the real value for internal use.
	st, err := s.Get("llm_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-def456", st.Value)

	// Listings mask it.
	for _, listed := range s.List() {
		if listed.Key == "llm_api_key" {
			assert.Equal(t, MaskedValue, listed.Value)
		}
	}

	// The audit trail never stores the secret.
	history, err := s.History(ctx, "llm_api_key", 10)
	require.NoError(t, err)
	for _, c := range history {
		assert.NotContains(t, c.OldValue, "sk-")
		assert.NotContains(t, c.NewValue, "sk-")
	}
}

func TestList_SortedByKey(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "zeta", "1", "a"))
	require.NoError(t, s.Set(ctx, "alpha", "2", "a"))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Key)
	assert.Equal(t, "zeta", list[1].Key)
}

func TestCacheSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.db")

	s1, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s1.Set(context.Background(), "cache_enabled", "true", "admin"))
	require.NoError(t, s1.Close())

	s2, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, "true", s2.GetOr("cache_enabled", "false"))
}

func TestIsSensitive(t *testing.T) {
	assert.True(t, IsSensitive("llm_api_key"))
	assert.True(t, IsSensitive("AUDIT_SIGNATURE_SECRET"))
	assert.True(t, IsSensitive("db_password"))
	assert.False(t, IsSensitive("cache_ttl_seconds"))
	assert.False(t, IsSensitive("max_result_rows"))
}
