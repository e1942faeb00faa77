package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	OTel      OTelConfig
	LLM       LLMConfig
	Knowledge KnowledgeConfig
	Cache     CacheConfig
	Scanner   ScannerConfig
	Env       string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// KnowledgeConfig configures the remote deprecation knowledge service.
// When URL is empty only the builtin local catalog is consulted.
type KnowledgeConfig struct {
	URL      string
	APIKey   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// CacheConfig selects the backing store for the knowledge cache.
// With an empty RedisURL an in-process TTL cache is used.
type CacheConfig struct {
	RedisURL string
}

type ScannerConfig struct {
	MaxTokensPerBatch    int
	MaxFilesPerBatch     int
	MaxRetries           int
	BreakerFailThreshold int
	BreakerResetTimeout  time.Duration
	CostPerMillionTokens float64
}

func Load() (Config, error) {
	if getEnv("CODERENEW_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env: getEnv("CODERENEW_ENV", "development"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "coderenew-scanner"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			MaxTokens:   getEnvInt("OPENAI_MAX_TOKENS", 8192),
			Temperature: getEnvFloat("OPENAI_TEMPERATURE", 0),
		},
		Knowledge: KnowledgeConfig{
			URL:      getEnv("WP_KNOWLEDGE_URL", ""),
			APIKey:   getEnv("WP_KNOWLEDGE_API_KEY", ""),
			Timeout:  getEnvDuration("WP_KNOWLEDGE_TIMEOUT", 5*time.Second),
			CacheTTL: getEnvDuration("WP_KNOWLEDGE_CACHE_TTL", time.Hour),
		},
		Cache: CacheConfig{
			RedisURL: getEnv("REDIS_URL", ""),
		},
		Scanner: ScannerConfig{
			MaxTokensPerBatch:    getEnvInt("SCANNER_MAX_TOKENS_PER_BATCH", 150000),
			MaxFilesPerBatch:     getEnvInt("SCANNER_MAX_FILES_PER_BATCH", 20),
			MaxRetries:           getEnvInt("SCANNER_MAX_RETRIES", 3),
			BreakerFailThreshold: getEnvInt("SCANNER_BREAKER_FAIL_THRESHOLD", 5),
			BreakerResetTimeout:  getEnvDuration("SCANNER_BREAKER_RESET_TIMEOUT", 30*time.Second),
			CostPerMillionTokens: getEnvFloat("SCANNER_COST_PER_MILLION_TOKENS", 3.0),
		},
	}

	if cfg.Scanner.MaxTokensPerBatch <= 0 {
		return Config{}, fmt.Errorf("SCANNER_MAX_TOKENS_PER_BATCH must be positive")
	}
	if cfg.Scanner.MaxFilesPerBatch <= 0 {
		return Config{}, fmt.Errorf("SCANNER_MAX_FILES_PER_BATCH must be positive")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func (c LLMConfig) Enabled() bool {
	return c.APIKey != ""
}

func (c KnowledgeConfig) Enabled() bool {
	return c.URL != ""
}

func (c CacheConfig) UseRedis() bool {
	return c.RedisURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
