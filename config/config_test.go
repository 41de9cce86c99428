package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATACHAT_SECRET_KEY", "test-secret")
	t.Setenv("DATACHAT_JWT_SECRET", "test-jwt")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.RowLimit != 1000 {
		t.Errorf("RowLimit = %d, want 1000", cfg.RowLimit)
	}
	if cfg.Timeouts.LLMAttempt != 30*time.Second {
		t.Errorf("LLMAttempt = %v, want 30s", cfg.Timeouts.LLMAttempt)
	}
	if cfg.Timeouts.LLMOverall != 60*time.Second {
		t.Errorf("LLMOverall = %v, want 60s", cfg.Timeouts.LLMOverall)
	}
	if cfg.Timeouts.SQLExec != 30*time.Second {
		t.Errorf("SQLExec = %v, want 30s", cfg.Timeouts.SQLExec)
	}
	if cfg.Timeouts.Retrieval != 2*time.Second {
		t.Errorf("Retrieval = %v, want 2s", cfg.Timeouts.Retrieval)
	}
	if cfg.Timeouts.SchemaLoad != 5*time.Second {
		t.Errorf("SchemaLoad = %v, want 5s", cfg.Timeouts.SchemaLoad)
	}
	if cfg.Timeouts.Turn != 120*time.Second {
		t.Errorf("Turn = %v, want 120s", cfg.Timeouts.Turn)
	}
	if cfg.Retrieval.TermLimit != 8 || cfg.Retrieval.ExampleLimit != 4 || cfg.Retrieval.ArticleLimit != 4 {
		t.Errorf("retrieval caps = %+v", cfg.Retrieval)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DATACHAT_HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("DATACHAT_ROW_LIMIT", "200")
	t.Setenv("DATACHAT_SQL_TIMEOUT", "10s")
	t.Setenv("DATACHAT_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9100" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.RowLimit != 200 {
		t.Errorf("RowLimit = %d", cfg.RowLimit)
	}
	if cfg.Timeouts.SQLExec != 10*time.Second {
		t.Errorf("SQLExec = %v", cfg.Timeouts.SQLExec)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("DATACHAT_SECRET_KEY", "")
	t.Setenv("DATACHAT_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without secrets")
	}

	t.Setenv("DATACHAT_SECRET_KEY", "k")
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded without jwt secret")
	}
}

func TestValidateTurnCoversLLM(t *testing.T) {
	setRequired(t)
	t.Setenv("DATACHAT_TURN_TIMEOUT", "10s") // below the 60s LLM budget

	if _, err := Load(); err == nil {
		t.Fatal("Load accepted turn timeout below LLM budget")
	}
}
