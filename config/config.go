package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Pool holds connection pool parameters applied to every data source pool.
type Pool struct {
	MaxOpenConns    int           // Upper bound on total connections per pool
	MaxIdleConns    int           // Idle connections kept warm
	ConnMaxLifetime time.Duration // Recycle connections older than this
	ConnMaxIdleTime time.Duration // Close connections idle longer than this
	ProbeTimeout    time.Duration // Budget for the first-open ping
	ProbeRetries    int           // Linear-backoff retries on the first open
}

// Timeouts holds the per-stage deadlines of a turn.
type Timeouts struct {
	LLMAttempt time.Duration // Single provider call
	LLMOverall time.Duration // All retries together
	SQLExec    time.Duration // Query execution
	Retrieval  time.Duration // Knowledge retrieval
	SchemaLoad time.Duration // Catalog load
	Turn       time.Duration // Hard ceiling per turn
}

// Retrieval holds per-lane caps for the knowledge retriever.
type Retrieval struct {
	TermLimit    int // Max terms injected into the prompt
	ExampleLimit int // Max SQL examples (dialect-filtered)
	ArticleLimit int // Max knowledge articles
}

// LLM holds router behavior shared by all providers.
type LLM struct {
	MaxRetries  int           // Retries on transient failures and 5xx
	BackoffBase time.Duration // First backoff step, doubled per retry
	BackoffCap  time.Duration // Backoff ceiling
	RateLimit   float64       // Client-side requests/second per provider, 0 disables
}

// Embedding configures the optional vector lane. An empty APIKey disables it.
type Embedding struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Log holds logger output settings.
type Log struct {
	Dir        string // Log directory, empty logs to stderr only
	Level      string // logrus level name
	MaxSizeMB  int    // Rotation threshold per file
	MaxBackups int    // Rotated files kept
}

// Config is the process configuration, loaded from the environment.
type Config struct {
	HTTPAddr       string   // Listen address
	DBPath         string   // Self-storage sqlite file
	SecretKey      string   // Passphrase for the secrets cipher (required)
	JWTSecret      string   // HMAC secret for bearer tokens (required)
	AllowedOrigins []string // CORS origins

	RowLimit           int // Result row cap per query
	SQLMaxLength       int // Validator length ceiling in bytes
	MaxConcurrentTurns int // Global worker bound
	HistoryTurns       int // Transcript turns offered to the composer
	PromptTokenBudget  int // Composer budget when the model sets none

	SchemaCacheTTL time.Duration

	Pool      Pool
	Timeouts  Timeouts
	Retrieval Retrieval
	LLM       LLM
	Embedding Embedding
	Log       Log
}

// Load reads configuration from the environment under the DATACHAT_ prefix,
// applying the documented defaults for everything but the two secrets.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DATACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_path", "datachat.db")
	v.SetDefault("allowed_origins", "*")

	v.SetDefault("row_limit", 1000)
	v.SetDefault("sql_max_length", 8000)
	v.SetDefault("max_concurrent_turns", 32)
	v.SetDefault("history_turns", 5)
	v.SetDefault("prompt_token_budget", 8192)
	v.SetDefault("schema_cache_ttl", "5m")

	v.SetDefault("pool_max_open", 10)
	v.SetDefault("pool_max_idle", 5)
	v.SetDefault("pool_conn_lifetime", "30m")
	v.SetDefault("pool_conn_idle_time", "10m")
	v.SetDefault("probe_timeout", "5s")
	v.SetDefault("probe_retries", 3)

	v.SetDefault("llm_attempt_timeout", "30s")
	v.SetDefault("llm_overall_timeout", "60s")
	v.SetDefault("sql_timeout", "30s")
	v.SetDefault("retrieval_timeout", "2s")
	v.SetDefault("schema_timeout", "5s")
	v.SetDefault("turn_timeout", "120s")

	v.SetDefault("retrieval_term_limit", 8)
	v.SetDefault("retrieval_example_limit", 4)
	v.SetDefault("retrieval_article_limit", 4)

	v.SetDefault("llm_max_retries", 3)
	v.SetDefault("llm_backoff_base", "500ms")
	v.SetDefault("llm_backoff_cap", "8s")
	v.SetDefault("llm_rate_limit", 0.0)

	v.SetDefault("embedding_api_key", "")
	v.SetDefault("embedding_base_url", "")
	v.SetDefault("embedding_model", "text-embedding-3-small")

	v.SetDefault("log_dir", "logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)

	cfg := Config{
		HTTPAddr:       v.GetString("http_addr"),
		DBPath:         v.GetString("db_path"),
		SecretKey:      v.GetString("secret_key"),
		JWTSecret:      v.GetString("jwt_secret"),
		AllowedOrigins: splitOrigins(v.GetString("allowed_origins")),

		RowLimit:           v.GetInt("row_limit"),
		SQLMaxLength:       v.GetInt("sql_max_length"),
		MaxConcurrentTurns: v.GetInt("max_concurrent_turns"),
		HistoryTurns:       v.GetInt("history_turns"),
		PromptTokenBudget:  v.GetInt("prompt_token_budget"),
		SchemaCacheTTL:     v.GetDuration("schema_cache_ttl"),

		Pool: Pool{
			MaxOpenConns:    v.GetInt("pool_max_open"),
			MaxIdleConns:    v.GetInt("pool_max_idle"),
			ConnMaxLifetime: v.GetDuration("pool_conn_lifetime"),
			ConnMaxIdleTime: v.GetDuration("pool_conn_idle_time"),
			ProbeTimeout:    v.GetDuration("probe_timeout"),
			ProbeRetries:    v.GetInt("probe_retries"),
		},
		Timeouts: Timeouts{
			LLMAttempt: v.GetDuration("llm_attempt_timeout"),
			LLMOverall: v.GetDuration("llm_overall_timeout"),
			SQLExec:    v.GetDuration("sql_timeout"),
			Retrieval:  v.GetDuration("retrieval_timeout"),
			SchemaLoad: v.GetDuration("schema_timeout"),
			Turn:       v.GetDuration("turn_timeout"),
		},
		Retrieval: Retrieval{
			TermLimit:    v.GetInt("retrieval_term_limit"),
			ExampleLimit: v.GetInt("retrieval_example_limit"),
			ArticleLimit: v.GetInt("retrieval_article_limit"),
		},
		LLM: LLM{
			MaxRetries:  v.GetInt("llm_max_retries"),
			BackoffBase: v.GetDuration("llm_backoff_base"),
			BackoffCap:  v.GetDuration("llm_backoff_cap"),
			RateLimit:   v.GetFloat64("llm_rate_limit"),
		},
		Embedding: Embedding{
			APIKey:  v.GetString("embedding_api_key"),
			BaseURL: v.GetString("embedding_base_url"),
			Model:   v.GetString("embedding_model"),
		},
		Log: Log{
			Dir:        v.GetString("log_dir"),
			Level:      v.GetString("log_level"),
			MaxSizeMB:  v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields that have no usable default.
func (c Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("DATACHAT_SECRET_KEY is required")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("DATACHAT_JWT_SECRET is required")
	}
	if c.RowLimit <= 0 {
		return errors.New("row limit must be positive")
	}
	if c.MaxConcurrentTurns <= 0 {
		return errors.New("max concurrent turns must be positive")
	}
	if c.Timeouts.Turn < c.Timeouts.LLMOverall {
		return errors.New("turn timeout must cover the LLM budget")
	}
	return nil
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
