package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Extract  ExtractConfig
	LLM      LLMConfig
	Worker   WorkerConfig
	Blob     BlobConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// IsSQLite reports whether the DSN points at an embedded SQLite database.
func (c DatabaseConfig) IsSQLite() bool {
	return strings.HasPrefix(c.DSN, "sqlite:") || strings.HasPrefix(c.DSN, "file:")
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	GRPCAddr        string
	ShutdownTimeout time.Duration
}

// ExtractConfig holds text-extraction configuration
type ExtractConfig struct {
	Pdftotext string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	ExtractModel string
	MaxTokens    int64
	Timeout      time.Duration
	RPS          float64
	MaxRetries   int
}

// WorkerConfig holds analysis queue configuration
type WorkerConfig struct {
	Workers        int
	QueueSize      int
	JobTimeout     time.Duration
	ReaperSchedule string
	StaleAfter     time.Duration
}

// BlobConfig holds uploaded-file storage configuration
type BlobConfig struct {
	Dir string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Extract: ExtractConfig{
			Pdftotext: getEnv("PDFTOTEXT_BIN", "pdftotext"),
		},
		LLM: LLMConfig{
			APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL:      getEnv("ANTHROPIC_BASE_URL", ""),
			Model:        getEnv("ANTHROPIC_MODEL", "claude-opus-4-5-20251101"),
			ExtractModel: getEnv("ANTHROPIC_EXTRACT_MODEL", "claude-sonnet-4-5"),
			MaxTokens:    int64(getEnvAsInt("LLM_MAX_TOKENS", 12000)),
			Timeout:      getEnvAsDuration("LLM_TIMEOUT", 5*time.Minute),
			RPS:          getEnvAsFloat("LLM_RPS", 1),
			MaxRetries:   getEnvAsInt("LLM_MAX_RETRIES", 2),
		},
		Worker: WorkerConfig{
			Workers:        getEnvAsInt("WORKERS", 4),
			QueueSize:      getEnvAsInt("QUEUE_SIZE", 256),
			JobTimeout:     getEnvAsDuration("JOB_TIMEOUT", 6*time.Minute),
			ReaperSchedule: getEnv("REAPER_SCHEDULE", "@every 5m"),
			StaleAfter:     getEnvAsDuration("STALE_AFTER", 15*time.Minute),
		},
		Blob: BlobConfig{
			Dir: getEnv("BLOB_DIR", "./data/blobs"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Worker.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKERS must be positive", ErrInvalidInput)
	}
	if c.Blob.Dir == "" {
		return NewAppError("CONFIG_ERROR", "BLOB_DIR is required", ErrInvalidInput)
	}
	return nil
}
