package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected an error without DATABASE_URL")
	}
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("ANALYSIS_PROVIDER", "")
	t.Setenv("EDITING_PROVIDER", "")
	t.Setenv("QUEUE_BATCH_SIZE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port mismatch: got %q want %q", cfg.Port, "8080")
	}
	if cfg.AnalysisProvider != "gemini" || cfg.EditingProvider != "gemini" {
		t.Fatalf("provider defaults mismatch: %q / %q", cfg.AnalysisProvider, cfg.EditingProvider)
	}
	if cfg.QueueBatchSize != 10 {
		t.Fatalf("QueueBatchSize mismatch: got %d want 10", cfg.QueueBatchSize)
	}
	if cfg.QueueVisibilityTimeout != 5*time.Minute {
		t.Fatalf("QueueVisibilityTimeout mismatch: got %v", cfg.QueueVisibilityTimeout)
	}
	if cfg.ProviderMaxAttempts != 3 {
		t.Fatalf("ProviderMaxAttempts mismatch: got %d want 3", cfg.ProviderMaxAttempts)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("ANALYSIS_PROVIDER", "openai")
	t.Setenv("EDITING_PROVIDER", "qwen")
	t.Setenv("PROVIDER_CALL_TIMEOUT_SECONDS", "90")
	t.Setenv("QUEUE_MAX_RECEIVE_COUNT", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AnalysisProvider != "openai" {
		t.Fatalf("AnalysisProvider mismatch: got %q", cfg.AnalysisProvider)
	}
	if cfg.EditingProvider != "qwen" {
		t.Fatalf("EditingProvider mismatch: got %q", cfg.EditingProvider)
	}
	if cfg.ProviderCallTimeout != 90*time.Second {
		t.Fatalf("ProviderCallTimeout mismatch: got %v", cfg.ProviderCallTimeout)
	}
	if cfg.QueueMaxReceiveCount != 7 {
		t.Fatalf("QueueMaxReceiveCount mismatch: got %d", cfg.QueueMaxReceiveCount)
	}
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	if got := getEnvInt("SOME_INT", 42); got != 42 {
		t.Fatalf("expected fallback 42, got %d", got)
	}
}
