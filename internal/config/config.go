// Package config reads VAULTSIGN_* environment variables, optionally seeded
// from a .env file, and exposes them as typed values.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers accepted by VAULTSIGN_STORAGE.
const (
	StorageMemory = "memory"
	StorageMinio  = "minio"
	StorageS3     = "s3"
)

// Config represents runtime configuration shared by the server, the worker
// and the CLI.
type Config struct {
	Address     string
	Environment string
	LogLevel    string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorageDriver string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3Bucket      string
	S3UseSSL      bool

	SigningSecret []byte
	JWTSecret     []byte
	SignedURLTTL  time.Duration
	MaxFileSize   int64
	PublicBaseURL string

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	KafkaBrokers []string
	KafkaTopic   string

	ConflictThreshold  float64
	ComposeConcurrency int
	WorkerConcurrency  int
}

const (
	defaultAddress       = ":8080"
	defaultEnvironment   = "local"
	defaultLogLevel      = "info"
	defaultMaxFileSize   = 25 << 20 // 25 MiB
	defaultSignedTTL     = 15 * time.Minute
	defaultBucket        = "vaultsign"
	defaultRegion        = "us-east-1"
	defaultPublicBaseURL = "http://localhost:8080"
	defaultSMTPFrom      = "VaultSign <no-reply@vaultsign.local>"
	defaultKafkaTopic    = "vaultsign.events"
	defaultThreshold     = 0.20
	defaultCompose       = 4
	defaultWorkerCount   = 5

	// devJWTSecret lets the CLI mint tokens for a local server.
	devJWTSecret = "vaultsign-local-dev"
)

// Load reads configuration from a .env file when present, then from the
// environment, falling back to defaults.
func Load() (*Config, error) {
	if err := loadDotEnv(readEnv("VAULTSIGN_ENV_FILE", ".env")); err != nil {
		return nil, err
	}
	cfg := &Config{
		Address:            readEnv("VAULTSIGN_ADDRESS", defaultAddress),
		Environment:        readEnv("VAULTSIGN_ENVIRONMENT", defaultEnvironment),
		LogLevel:           readEnv("VAULTSIGN_LOG_LEVEL", defaultLogLevel),
		DatabaseURL:        readEnv("VAULTSIGN_DATABASE_URL", ""),
		RedisAddr:          readEnv("VAULTSIGN_REDIS_ADDR", ""),
		RedisPassword:      readEnv("VAULTSIGN_REDIS_PASSWORD", ""),
		RedisDB:            parseInt("VAULTSIGN_REDIS_DB", 0),
		StorageDriver:      strings.ToLower(readEnv("VAULTSIGN_STORAGE", StorageMemory)),
		S3Endpoint:         readEnv("VAULTSIGN_S3_ENDPOINT", ""),
		S3AccessKey:        readEnv("VAULTSIGN_S3_ACCESS_KEY", ""),
		S3SecretKey:        readEnv("VAULTSIGN_S3_SECRET_KEY", ""),
		S3Region:           readEnv("VAULTSIGN_S3_REGION", defaultRegion),
		S3Bucket:           readEnv("VAULTSIGN_S3_BUCKET", defaultBucket),
		S3UseSSL:           parseBool("VAULTSIGN_S3_SSL", false),
		SigningSecret:      parseSecret("VAULTSIGN_SIGNING_SECRET"),
		JWTSecret:          parseSecret("VAULTSIGN_JWT_SECRET"),
		SignedURLTTL:       parseDuration("VAULTSIGN_SIGNED_TTL", defaultSignedTTL),
		MaxFileSize:        parseInt64("VAULTSIGN_MAX_FILE_BYTES", defaultMaxFileSize),
		PublicBaseURL:      strings.TrimRight(readEnv("VAULTSIGN_PUBLIC_URL", defaultPublicBaseURL), "/"),
		SMTPAddr:           readEnv("VAULTSIGN_SMTP_ADDR", ""),
		SMTPUser:           readEnv("VAULTSIGN_SMTP_USER", ""),
		SMTPPassword:       readEnv("VAULTSIGN_SMTP_PASSWORD", ""),
		SMTPFrom:           readEnv("VAULTSIGN_SMTP_FROM", defaultSMTPFrom),
		KafkaBrokers:       parseList("VAULTSIGN_KAFKA_BROKERS", ""),
		KafkaTopic:         readEnv("VAULTSIGN_KAFKA_TOPIC", defaultKafkaTopic),
		ConflictThreshold:  parseFloat("VAULTSIGN_CONFLICT_THRESHOLD", defaultThreshold),
		ComposeConcurrency: parseInt("VAULTSIGN_COMPOSE_CONCURRENCY", defaultCompose),
		WorkerConcurrency:  parseInt("VAULTSIGN_WORKERS", defaultWorkerCount),
	}
	if cfg.SigningSecret == nil {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SigningSecret = secret
	}
	if cfg.JWTSecret == nil && cfg.Local() {
		cfg.JWTSecret = []byte(devJWTSecret)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = defaultSignedTTL
	}
	if cfg.ConflictThreshold <= 0 || cfg.ConflictThreshold > 1 {
		cfg.ConflictThreshold = defaultThreshold
	}
	if cfg.ComposeConcurrency <= 0 {
		cfg.ComposeConcurrency = defaultCompose
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = defaultWorkerCount
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWTSecret) == 0 {
		return errors.New("config: VAULTSIGN_JWT_SECRET is required outside local environments")
	}
	switch c.StorageDriver {
	case StorageMemory:
	case StorageMinio, StorageS3:
		if c.S3Endpoint == "" && c.StorageDriver == StorageMinio {
			return errors.New("config: VAULTSIGN_S3_ENDPOINT is required for the minio driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.StorageDriver)
	}
	return nil
}

// Local reports whether the process runs on a developer machine.
func (c *Config) Local() bool {
	return c.Environment == defaultEnvironment
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	// Variables already set in the environment win over the file.
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("config: generate signing secret: %w", err)
	}
	return buf, nil
}
