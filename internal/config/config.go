package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const fileEnv = "CASEFILE_CONFIG"

var validate = validator.New()

type Config struct {
	APIBaseURL string `yaml:"api_base_url" validate:"required,url"`
	APIToken   string `yaml:"api_token"`
	LogLevel   string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	UploadAllowedMimeTypes []string `yaml:"upload_allowed_mime_types" validate:"min=1,dive,required"`
	UploadMaxSizeBytes     int64    `yaml:"upload_max_size_bytes" validate:"gt=0"`
	UploadConcurrency      int      `yaml:"upload_concurrency" validate:"gte=1,lte=32"`

	BulkConcurrency int  `yaml:"bulk_concurrency" validate:"gte=1,lte=32"`
	BulkBatchTags   bool `yaml:"bulk_batch_tags"`

	PageSize int `yaml:"page_size" validate:"gte=1,lte=200"`

	AnalysisTimeoutSeconds int `yaml:"analysis_timeout_seconds" validate:"gt=0"`
	AskTimeoutSeconds      int `yaml:"ask_timeout_seconds" validate:"gt=0"`
	AskPendingSeconds      int `yaml:"ask_pending_seconds" validate:"gte=0"`

	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds" validate:"gt=0"`
	RequestRatePerSecond  float64 `yaml:"request_rate_per_second" validate:"gte=0"`
	RequestBurst          int     `yaml:"request_burst" validate:"gte=0"`

	RetryMaxAttempts      int     `yaml:"retry_max_attempts" validate:"gte=1"`
	RetryInitialBackoffMS int     `yaml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int     `yaml:"retry_max_backoff_ms"`
	RetryMultiplier       float64 `yaml:"retry_multiplier" validate:"gte=1"`
	BreakerEnabled        bool    `yaml:"breaker_enabled"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	DownloadDir string `yaml:"download_dir"`

	MinIOEndpoint  string `yaml:"minio_endpoint"`
	MinIOAccessKey string `yaml:"minio_access_key"`
	MinIOSecretKey string `yaml:"minio_secret_key"`
	MinIOBucket    string `yaml:"minio_bucket" validate:"required_with=MinIOEndpoint"`
	MinIOPrefix    string `yaml:"minio_prefix"`
	MinIOUseSSL    bool   `yaml:"minio_use_ssl"`

	MetricsAddr string `yaml:"metrics_addr"`

	TracingExporter    string  `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout"`
	TracingSampleRatio float64 `yaml:"tracing_sample_ratio" validate:"gte=0,lte=1"`
}

func defaults() Config {
	return Config{
		APIBaseURL: "http://localhost:3000",
		LogLevel:   "info",

		UploadAllowedMimeTypes: []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"text/plain",
		},
		UploadMaxSizeBytes: 50 << 20,
		UploadConcurrency:  3,

		BulkConcurrency: 4,

		PageSize: 20,

		AnalysisTimeoutSeconds: 300,
		AskTimeoutSeconds:      120,
		AskPendingSeconds:      60,

		RequestTimeoutSeconds: 30,
		RequestRatePerSecond:  10,
		RequestBurst:          20,

		RetryMaxAttempts:      3,
		RetryInitialBackoffMS: 200,
		RetryMaxBackoffMS:     2000,
		RetryMultiplier:       2,
		BreakerEnabled:        true,

		NATSSubject: "casefile.documents.lifecycle",

		DownloadDir: "./downloads",

		TracingSampleRatio: 1,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CASEFILE_CONFIG, then environment variables, each layer overriding the previous.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv(fileEnv); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	cfg = Config{
		APIBaseURL: mustEnv("CASEFILE_API_URL", cfg.APIBaseURL),
		APIToken:   mustEnv("CASEFILE_API_TOKEN", cfg.APIToken),
		LogLevel:   mustEnv("LOG_LEVEL", cfg.LogLevel),

		UploadAllowedMimeTypes: mustEnvList("UPLOAD_ALLOWED_MIME_TYPES", cfg.UploadAllowedMimeTypes),
		UploadMaxSizeBytes:     mustEnvInt64("UPLOAD_MAX_SIZE_BYTES", cfg.UploadMaxSizeBytes),
		UploadConcurrency:      mustEnvInt("UPLOAD_CONCURRENCY", cfg.UploadConcurrency),

		BulkConcurrency: mustEnvInt("BULK_CONCURRENCY", cfg.BulkConcurrency),
		BulkBatchTags:   mustEnvBool("BULK_BATCH_TAGS", cfg.BulkBatchTags),

		PageSize: mustEnvInt("PAGE_SIZE", cfg.PageSize),

		AnalysisTimeoutSeconds: mustEnvInt("ANALYSIS_TIMEOUT_SECONDS", cfg.AnalysisTimeoutSeconds),
		AskTimeoutSeconds:      mustEnvInt("ASK_TIMEOUT_SECONDS", cfg.AskTimeoutSeconds),
		AskPendingSeconds:      mustEnvInt("ASK_PENDING_SECONDS", cfg.AskPendingSeconds),

		RequestTimeoutSeconds: mustEnvInt("REQUEST_TIMEOUT_SECONDS", cfg.RequestTimeoutSeconds),
		RequestRatePerSecond:  mustEnvFloat("REQUEST_RATE_PER_SECOND", cfg.RequestRatePerSecond),
		RequestBurst:          mustEnvInt("REQUEST_BURST", cfg.RequestBurst),

		RetryMaxAttempts:      mustEnvInt("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts),
		RetryInitialBackoffMS: mustEnvInt("RETRY_INITIAL_BACKOFF_MS", cfg.RetryInitialBackoffMS),
		RetryMaxBackoffMS:     mustEnvInt("RETRY_MAX_BACKOFF_MS", cfg.RetryMaxBackoffMS),
		RetryMultiplier:       mustEnvFloat("RETRY_MULTIPLIER", cfg.RetryMultiplier),
		BreakerEnabled:        mustEnvBool("BREAKER_ENABLED", cfg.BreakerEnabled),

		NATSURL:     mustEnv("NATS_URL", cfg.NATSURL),
		NATSSubject: mustEnv("NATS_SUBJECT", cfg.NATSSubject),

		DownloadDir: mustEnv("DOWNLOAD_DIR", cfg.DownloadDir),

		MinIOEndpoint:  mustEnv("MINIO_ENDPOINT", cfg.MinIOEndpoint),
		MinIOAccessKey: mustEnv("MINIO_ACCESS_KEY", cfg.MinIOAccessKey),
		MinIOSecretKey: mustEnv("MINIO_SECRET_KEY", cfg.MinIOSecretKey),
		MinIOBucket:    mustEnv("MINIO_BUCKET", cfg.MinIOBucket),
		MinIOPrefix:    mustEnv("MINIO_PREFIX", cfg.MinIOPrefix),
		MinIOUseSSL:    mustEnvBool("MINIO_USE_SSL", cfg.MinIOUseSSL),

		MetricsAddr: mustEnv("METRICS_ADDR", cfg.MetricsAddr),

		TracingExporter:    mustEnv("TRACING_EXPORTER", cfg.TracingExporter),
		TracingSampleRatio: mustEnvFloat("TRACING_SAMPLE_RATIO", cfg.TracingSampleRatio),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every field outside its allowed range in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			problems = append(problems, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutSeconds) * time.Second
}

func (c Config) AskTimeout() time.Duration {
	return time.Duration(c.AskTimeoutSeconds) * time.Second
}

func (c Config) AskPendingWindow() time.Duration {
	return time.Duration(c.AskPendingSeconds) * time.Second
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func overlayFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// mustEnvList splits a comma-separated value, dropping blanks.
func mustEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
