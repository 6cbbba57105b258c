// Package config loads clinrel configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
)

// BlobBackend identifies where upload/output artifacts are stored.
type BlobBackend string

const (
	BlobBackendBadger BlobBackend = "badger"
	BlobBackendGCS    BlobBackend = "gcs"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// LLM classifier
	LLMProvider     Provider `yaml:"llm_provider"`
	LLMModel        string   `yaml:"llm_model"`
	OpenAIAPIKey    string   `yaml:"openai_api_key"`
	AnthropicAPIKey string   `yaml:"anthropic_api_key"`
	OllamaHost      string   `yaml:"ollama_host"`

	// Classification batching
	ClassifyBatchSize   int `yaml:"classify_batch_size"`
	ClassifyConcurrency int `yaml:"classify_concurrency"`
	ClassifyMaxAttempts int `yaml:"classify_max_attempts"`
	ClassifyCallBudget  int `yaml:"classify_call_budget"`

	// Blob store
	BlobBackend BlobBackend   `yaml:"blob_backend"`
	BadgerPath  string        `yaml:"badger_path"`
	GCSBucket   string        `yaml:"gcs_bucket"`
	GCSKeyFile  string        `yaml:"gcs_key_file"`
	CacheMaxAge time.Duration `yaml:"cache_max_age"`

	// HTTP server
	ServerAddr string `yaml:"server_addr"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from environment variables, applying an optional
// YAML overlay file pointed to by CLINREL_CONFIG first so that env vars win.
func Load() (Config, error) {
	cfg := Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "clinrel",
		SurrealDBDatabase:  "pairs",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider: ProviderOpenAI,
		LLMModel:    "gpt-4o-mini",
		OllamaHost:  "http://localhost:11434",

		ClassifyBatchSize:   10,
		ClassifyConcurrency: 4,
		ClassifyMaxAttempts: 3,
		ClassifyCallBudget:  50,

		BlobBackend: BlobBackendBadger,
		BadgerPath:  defaultBadgerPath(),
		CacheMaxAge: 30 * 24 * time.Hour,

		ServerAddr: ":8486",

		LogFile:  "/tmp/clinrel.log",
		LogLevel: slog.LevelInfo,
	}

	if path := os.Getenv("CLINREL_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.SurrealDBURL, "CLINREL_SURREALDB_URL")
	setEnv(&cfg.SurrealDBNamespace, "CLINREL_SURREALDB_NAMESPACE")
	setEnv(&cfg.SurrealDBDatabase, "CLINREL_SURREALDB_DATABASE")
	setEnv(&cfg.SurrealDBUser, "CLINREL_SURREALDB_USER")
	setEnv(&cfg.SurrealDBPass, "CLINREL_SURREALDB_PASS")
	setEnv(&cfg.SurrealDBAuthLevel, "CLINREL_SURREALDB_AUTH_LEVEL")

	if v := os.Getenv("CLINREL_LLM_PROVIDER"); v != "" {
		cfg.LLMProvider = Provider(strings.ToLower(v))
	}
	setEnv(&cfg.LLMModel, "CLINREL_LLM_MODEL")
	setEnv(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setEnv(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setEnv(&cfg.OllamaHost, "OLLAMA_HOST")

	setEnvInt(&cfg.ClassifyBatchSize, "CLINREL_CLASSIFY_BATCH_SIZE")
	setEnvInt(&cfg.ClassifyConcurrency, "CLINREL_CLASSIFY_CONCURRENCY")
	setEnvInt(&cfg.ClassifyMaxAttempts, "CLINREL_CLASSIFY_MAX_ATTEMPTS")
	setEnvInt(&cfg.ClassifyCallBudget, "CLINREL_LLM_MAX_CALLS_PER_JOB")

	if v := os.Getenv("CLINREL_BLOB_BACKEND"); v != "" {
		cfg.BlobBackend = BlobBackend(strings.ToLower(v))
	}
	setEnv(&cfg.BadgerPath, "CLINREL_BADGER_PATH")
	setEnv(&cfg.GCSBucket, "CLINREL_GCS_BUCKET")
	setEnv(&cfg.GCSKeyFile, "CLINREL_GCS_KEY_FILE")
	if v := os.Getenv("CLINREL_CACHE_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheMaxAge = d
		}
	}

	setEnv(&cfg.ServerAddr, "CLINREL_SERVER_ADDR")

	setEnv(&cfg.LogFile, "CLINREL_LOG_FILE")
	if v := os.Getenv("CLINREL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setEnvInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func defaultBadgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/clinrel-blobs"
	}
	return home + "/.clinrel/blobs"
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
