package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	writeConfigFile(t, "env: test\n")

	cfg, err := Load("v-test")
	require.NoError(t, err)

	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "duckdb", cfg.Data.Driver)
	assert.Equal(t, 2, cfg.System.MaxCorrectionAttempts)
	assert.Equal(t, 3600, cfg.System.CacheTTLSeconds)
	assert.True(t, cfg.Audit.ChecksumEnabled)
	assert.Contains(t, cfg.Audit.ExcludedPaths, "/health")
	assert.Contains(t, cfg.Audit.ExcludedPaths, "/audit")
}

func TestLoad_InvalidProvider(t *testing.T) {
	writeConfigFile(t, "llm:\n  provider: cohere\n")

	_, err := Load("v-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestLoad_InvalidThresholdOrder(t *testing.T) {
	writeConfigFile(t, "llm:\n  high_threshold: 50\n  medium_threshold: 60\n")

	_, err := Load("v-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds")
}

func TestLLMConfig_RequestTimeoutClamped(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		want    time.Duration
	}{
		{name: "below floor clamps to 30s", seconds: 5, want: 30 * time.Second},
		{name: "default passes through", seconds: 60, want: 60 * time.Second},
		{name: "above ceiling clamps to 300s", seconds: 900, want: 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := LLMConfig{RequestTimeoutSeconds: tt.seconds}
			assert.Equal(t, tt.want, c.RequestTimeout())
		})
	}
}

func TestDataConfig_AllowedTypes(t *testing.T) {
	c := DataConfig{AllowedFileTypes: "CSV, parquet , ,xpt"}
	assert.Equal(t, []string{"csv", "parquet", "xpt"}, c.AllowedTypes())
}
