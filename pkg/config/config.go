package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for sage-engine.
// Configuration comes from config.yaml with environment variable overrides;
// environment variables always win. Secrets (API keys, signing secrets) must
// only come from environment variables (yaml:"-" fields).
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	General    GeneralConfig    `yaml:"general"`
	Auth       AuthConfig       `yaml:"auth"`
	LLM        LLMConfig        `yaml:"llm"`
	Data       DataConfig       `yaml:"data"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Audit      AuditConfig      `yaml:"audit"`
	System     SystemConfig     `yaml:"system"`
}

// GeneralConfig holds site-level settings.
type GeneralConfig struct {
	SiteName        string `yaml:"site_name" env:"SITE_NAME" env-default:"SAGE"`
	DefaultTheme    string `yaml:"default_theme" env:"DEFAULT_THEME" env-default:"light"`
	Timezone        string `yaml:"timezone" env:"TIMEZONE" env-default:"UTC"`
	MaintenanceMode bool   `yaml:"maintenance_mode" env:"MAINTENANCE_MODE" env-default:"false"`
}

// AuthConfig holds authentication-related settings. The engine only verifies
// identity; token minting and user management live elsewhere.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWTSecret is the HMAC secret for bearer-token verification.
	JWTSecret string `yaml:"-" env:"AUTH_JWT_SECRET"` // Secret - not in YAML

	SessionTimeoutMinutes  int `yaml:"session_timeout_minutes" env:"AUTH_SESSION_TIMEOUT_MINUTES" env-default:"30"`
	FailedAttemptThreshold int `yaml:"failed_attempt_threshold" env:"AUTH_FAILED_ATTEMPT_THRESHOLD" env-default:"5"`
	LockoutMinutes         int `yaml:"lockout_minutes" env:"AUTH_LOCKOUT_MINUTES" env-default:"15"`
	PasswordMinLength      int `yaml:"password_min_length" env:"AUTH_PASSWORD_MIN_LENGTH" env-default:"12"`
}

// LLMConfig holds language model provider settings.
type LLMConfig struct {
	Provider              string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Model                 string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey                string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	BaseURL               string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Temperature           float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens             int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds" env:"LLM_REQUEST_TIMEOUT_SECONDS" env-default:"60"`

	// Confidence level cutoffs reported with every answer.
	HighThreshold   float64 `yaml:"high_threshold" env:"LLM_HIGH_THRESHOLD" env-default:"80"`
	MediumThreshold float64 `yaml:"medium_threshold" env:"LLM_MEDIUM_THRESHOLD" env-default:"60"`
	LowThreshold    float64 `yaml:"low_threshold" env:"LLM_LOW_THRESHOLD" env-default:"40"`
}

// RequestTimeout returns the LLM call timeout clamped to the supported
// 30s..300s window.
func (c *LLMConfig) RequestTimeout() time.Duration {
	secs := c.RequestTimeoutSeconds
	if secs < 30 {
		secs = 30
	}
	if secs > 300 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// DataConfig holds study data store settings.
type DataConfig struct {
	Driver            string `yaml:"driver" env:"DATA_DRIVER" env-default:"duckdb"`
	DuckDBPath        string `yaml:"duckdb_path" env:"DATA_DUCKDB_PATH" env-default:"data/study.duckdb"`
	DuckDBMemoryMB    int    `yaml:"duckdb_memory_mb" env:"DATA_DUCKDB_MEMORY_MB" env-default:"2048"`
	DuckDBThreads     int    `yaml:"duckdb_threads" env:"DATA_DUCKDB_THREADS" env-default:"4"`
	PostgresDSN       string `yaml:"-" env:"DATA_POSTGRES_DSN"` // Secret - not in YAML
	MaxUploadMB       int    `yaml:"max_upload_mb" env:"DATA_MAX_UPLOAD_MB" env-default:"200"`
	AllowedFileTypes  string `yaml:"allowed_file_types" env:"DATA_ALLOWED_FILE_TYPES" env-default:"csv,sas7bdat,xpt,parquet"`
}

// AllowedTypes returns the parsed allowed upload file extensions.
func (c *DataConfig) AllowedTypes() []string {
	parts := strings.Split(c.AllowedFileTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

// MetadataConfig holds metadata curation workflow settings.
type MetadataConfig struct {
	ApprovalRequired bool   `yaml:"approval_required" env:"METADATA_APPROVAL_REQUIRED" env-default:"true"`
	AutoDraft        bool   `yaml:"auto_draft" env:"METADATA_AUTO_DRAFT" env-default:"true"`
	WorkflowStyle    string `yaml:"workflow_style" env:"METADATA_WORKFLOW_STYLE" env-default:"single_approver"`
}

// DictionaryConfig holds entity dictionary and fuzzy matching settings.
type DictionaryConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" env:"DICTIONARY_FUZZY_THRESHOLD" env-default:"70"`
	VectorWeight   float64 `yaml:"vector_weight" env:"DICTIONARY_VECTOR_WEIGHT" env-default:"0.6"`
	FuzzyWeight    float64 `yaml:"fuzzy_weight" env:"DICTIONARY_FUZZY_WEIGHT" env-default:"0.4"`
	EmbeddingModel string  `yaml:"embedding_model" env:"DICTIONARY_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
}

// AuditConfig holds the tamper-evident audit trail settings.
type AuditConfig struct {
	DBPath           string `yaml:"db_path" env:"AUDIT_DB_PATH" env-default:"data/audit.db"`
	RetentionDays    int    `yaml:"retention_days" env:"AUDIT_RETENTION_DAYS" env-default:"2555"`
	LogRequests      bool   `yaml:"log_requests" env:"AUDIT_LOG_REQUESTS" env-default:"true"`
	LogQueries       bool   `yaml:"log_queries" env:"AUDIT_LOG_QUERIES" env-default:"true"`
	LogResponses     bool   `yaml:"log_responses" env:"AUDIT_LOG_RESPONSES" env-default:"false"`
	ChecksumEnabled  bool   `yaml:"checksum_enabled" env:"AUDIT_CHECKSUM_ENABLED" env-default:"true"`
	ExportFormat     string `yaml:"export_format" env:"AUDIT_EXPORT_FORMAT" env-default:"csv"`
	SignatureSecret  string `yaml:"-" env:"AUDIT_SIGNATURE_SECRET"` // Secret - not in YAML
	ExcludedPathsStr string `yaml:"excluded_paths" env:"AUDIT_EXCLUDED_PATHS" env-default:"/health,/ping,/docs,/audit,/static"`

	// ExcludedPaths is parsed from ExcludedPathsStr (not from the config file).
	ExcludedPaths []string `yaml:"-"`
}

// SystemConfig holds cache and query execution settings.
type SystemConfig struct {
	CacheEnabled            bool `yaml:"cache_enabled" env:"SYSTEM_CACHE_ENABLED" env-default:"true"`
	CacheTTLSeconds         int  `yaml:"cache_ttl_seconds" env:"SYSTEM_CACHE_TTL_SECONDS" env-default:"3600"`
	CacheMaxSize            int  `yaml:"cache_max_size" env:"SYSTEM_CACHE_MAX_SIZE" env-default:"500"`
	QueryTimeoutSeconds     int  `yaml:"query_timeout_seconds" env:"SYSTEM_QUERY_TIMEOUT_SECONDS" env-default:"30"`
	MaxConcurrentQueries    int  `yaml:"max_concurrent_queries" env:"SYSTEM_MAX_CONCURRENT_QUERIES" env-default:"8"`
	MaxResultRows           int  `yaml:"max_result_rows" env:"SYSTEM_MAX_RESULT_ROWS" env-default:"10000"`
	MaxCorrectionAttempts   int  `yaml:"max_correction_attempts" env:"SYSTEM_MAX_CORRECTION_ATTEMPTS" env-default:"2"`
	DashboardRefreshSeconds int  `yaml:"dashboard_refresh_seconds" env:"SYSTEM_DASHBOARD_REFRESH_SECONDS" env-default:"30"`
}

// QueryTimeout returns the executor wall-clock timeout.
func (c *SystemConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry time-to-live.
func (c *SystemConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Audit.ExcludedPaths = parseExcludedPaths(cfg.Audit.ExcludedPathsStr)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}

	switch c.Data.Driver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("data.driver must be duckdb or postgres, got %q", c.Data.Driver)
	}

	if c.System.MaxCorrectionAttempts < 0 || c.System.MaxCorrectionAttempts > 3 {
		return fmt.Errorf("system.max_correction_attempts must be between 0 and 3")
	}
	if c.System.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("system.query_timeout_seconds must be positive")
	}
	if !(c.LLM.HighThreshold > c.LLM.MediumThreshold && c.LLM.MediumThreshold > c.LLM.LowThreshold) {
		return fmt.Errorf("confidence thresholds must be strictly decreasing: high > medium > low")
	}
	return nil
}

// parseExcludedPaths parses the comma-separated audit exclusion prefixes.
func parseExcludedPaths(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
