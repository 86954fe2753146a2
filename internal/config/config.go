package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures all runtime configuration for the autofill service.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	LLM      LLMConfig
	Autofill AutofillConfig
	Outbox   OutboxConfig
	Kafka    KafkaConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	DSN string
}

// LLMConfig holds the Gemini client settings.
type LLMConfig struct {
	APIKey string
	Model  string
}

// AutofillConfig tunes the orchestrator.
type AutofillConfig struct {
	CostCredits     int64
	PipelineTimeout time.Duration
}

// OutboxConfig tunes the dispatcher and the per-entry retry ceiling.
type OutboxConfig struct {
	MaxAttempts       int
	PollInterval      time.Duration
	HandlerTimeout    time.Duration
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	WorkerConcurrency int
	ReclaimInterval   time.Duration
	StaleAfter        time.Duration
}

// KafkaConfig points the completion publisher at its brokers and topic. An
// empty broker list disables Kafka delivery (events are logged instead).
type KafkaConfig struct {
	Brokers        []string
	CompletedTopic string
}

// Load reads configuration from the environment, falling back to a local
// .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "development"),
			Port:     getInt("PORT", 8080),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", "host=localhost user=postgres password=password dbname=autofill port=5432 sslmode=disable"),
		},
		LLM: LLMConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		Autofill: AutofillConfig{
			CostCredits:     int64(getInt("AUTOFILL_COST_CREDITS", 3)),
			PipelineTimeout: getDuration("AUTOFILL_PIPELINE_TIMEOUT_SECONDS", 120*time.Second),
		},
		Outbox: OutboxConfig{
			MaxAttempts:       getInt("OUTBOX_MAX_ATTEMPTS", 5),
			PollInterval:      getDuration("OUTBOX_POLL_INTERVAL_SECONDS", 2*time.Second),
			HandlerTimeout:    getDuration("OUTBOX_HANDLER_TIMEOUT_SECONDS", 30*time.Second),
			BaseBackoff:       getDuration("OUTBOX_BASE_BACKOFF_SECONDS", 1*time.Second),
			MaxBackoff:        getDuration("OUTBOX_MAX_BACKOFF_SECONDS", 60*time.Second),
			WorkerConcurrency: getInt("OUTBOX_WORKER_CONCURRENCY", 4),
			ReclaimInterval:   getDuration("OUTBOX_RECLAIM_INTERVAL_SECONDS", 60*time.Second),
			StaleAfter:        getDuration("OUTBOX_STALE_AFTER_SECONDS", 300*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:        getList("KAFKA_BROKERS"),
			CompletedTopic: getEnv("KAFKA_COMPLETED_TOPIC", "autofill.completed"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Autofill.CostCredits < 0 {
		return fmt.Errorf("config: AUTOFILL_COST_CREDITS cannot be negative")
	}
	if c.Outbox.MaxAttempts < 1 {
		return fmt.Errorf("config: OUTBOX_MAX_ATTEMPTS must be >= 1")
	}
	if c.Outbox.WorkerConcurrency < 1 {
		return fmt.Errorf("config: OUTBOX_WORKER_CONCURRENCY must be >= 1")
	}
	if c.Outbox.StaleAfter <= c.Outbox.HandlerTimeout {
		return fmt.Errorf("config: OUTBOX_STALE_AFTER_SECONDS must exceed the handler timeout")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func getList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
