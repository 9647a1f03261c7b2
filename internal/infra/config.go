package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	WebhookURL string

	AnalysisProvider string
	EditingProvider  string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OpenAIOrg     string

	QwenAPIKey  string
	QwenModel   string
	QwenBaseURL string

	ProviderCallTimeout time.Duration
	ProviderMaxAttempts int
	ProviderRetryBase   time.Duration

	QueuePollInterval      time.Duration
	QueueBatchSize         int
	QueueVisibilityTimeout time.Duration
	QueueMaxReceiveCount   int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),

		AnalysisProvider: getEnv("ANALYSIS_PROVIDER", "gemini"),
		EditingProvider:  getEnv("EDITING_PROVIDER", "gemini"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:     os.Getenv("OPENAI_ORG"),

		QwenAPIKey:  os.Getenv("DASHSCOPE_API_KEY"),
		QwenModel:   getEnv("QWEN_MODEL", "qwen-image-edit"),
		QwenBaseURL: getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),

		ProviderCallTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_CALL_TIMEOUT_SECONDS", 60)),
		ProviderMaxAttempts: getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
		ProviderRetryBase:   time.Millisecond * time.Duration(getEnvInt("PROVIDER_RETRY_BASE_MS", 200)),

		QueuePollInterval:      time.Second * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_SECONDS", 2)),
		QueueBatchSize:         getEnvInt("QUEUE_BATCH_SIZE", 10),
		QueueVisibilityTimeout: time.Second * time.Duration(getEnvInt("QUEUE_VISIBILITY_TIMEOUT_SECONDS", 300)),
		QueueMaxReceiveCount:   getEnvInt("QUEUE_MAX_RECEIVE_COUNT", 5),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
