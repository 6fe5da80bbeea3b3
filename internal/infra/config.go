package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Queue backends.
const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
	QueueRedis    = "redis"
)

// Resource backends.
const (
	ResourcesHTTP       = "http"
	ResourcesFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	ProvidersConfig string
	ProviderTimeout time.Duration
	OpenAIOrg       string
	QwenPromptExt   bool
	QwenWatermark   bool

	QueueBackend      string
	DatabaseURL       string
	RedisURL          string
	RedisQueueKey     string
	QueuePollInterval time.Duration

	WorkerCount  int
	ItemTimeout  time.Duration
	JobRetention time.Duration

	JobsServiceURL      string
	ResourcesServiceURL string
	AssetsServiceURL    string
	ServiceMaxAttempts  int
	ServiceTimeout      time.Duration

	ResourceBackend string
	StoragePath     string

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		ProvidersConfig: getEnv("PROVIDERS_CONFIG", "providers.yaml"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		OpenAIOrg:       os.Getenv("OPENAI_ORG"),
		QwenPromptExt:   getEnvBool("QWEN_PROMPT_EXTEND", false),
		QwenWatermark:   getEnvBool("QWEN_WATERMARK", false),

		QueueBackend:      strings.ToLower(getEnv("QUEUE_BACKEND", QueueMemory)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		RedisQueueKey:     getEnv("REDIS_QUEUE_KEY", "genpipe:queue"),
		QueuePollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),

		WorkerCount:  getEnvInt("WORKER_COUNT", 4),
		ItemTimeout:  getEnvDuration("ITEM_TIMEOUT", 10*time.Minute),
		JobRetention: getEnvDuration("JOB_RETENTION", time.Hour),

		JobsServiceURL:      os.Getenv("JOBS_SERVICE_URL"),
		ResourcesServiceURL: os.Getenv("RESOURCES_SERVICE_URL"),
		AssetsServiceURL:    os.Getenv("ASSETS_SERVICE_URL"),
		ServiceMaxAttempts:  getEnvInt("SERVICE_MAX_ATTEMPTS", 3),
		ServiceTimeout:      getEnvDuration("SERVICE_TIMEOUT", 30*time.Second),

		ResourceBackend: strings.ToLower(getEnv("RESOURCE_BACKEND", ResourcesHTTP)),
		StoragePath:     getEnv("STORAGE_PATH", "./storage"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	switch cfg.QueueBackend {
	case QueueMemory:
	case QueuePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres queue")
		}
	case QueueRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis queue")
		}
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	switch cfg.ResourceBackend {
	case ResourcesHTTP:
		if cfg.ResourcesServiceURL == "" {
			return nil, fmt.Errorf("RESOURCES_SERVICE_URL is required")
		}
	case ResourcesFilesystem:
	default:
		return nil, fmt.Errorf("unknown RESOURCE_BACKEND %q", cfg.ResourceBackend)
	}

	if cfg.JobsServiceURL == "" {
		return nil, fmt.Errorf("JOBS_SERVICE_URL is required")
	}
	if cfg.AssetsServiceURL == "" {
		return nil, fmt.Errorf("ASSETS_SERVICE_URL is required")
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
