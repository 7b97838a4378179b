package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for imagevault.
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	MinIO     MinIOConfig
	Metrics   MetricsConfig
	Upload    UploadConfig
	Thumbnail ThumbnailConfig
	Sweep     SweepConfig
}

// ServerConfig parameterizes the operational HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// MinIOConfig carries MinIO connection and bucket information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	// OpTimeout bounds each put/get/delete call.
	OpTimeout time.Duration
	// PresignTTL is the lifetime of download links.
	PresignTTL time.Duration
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// UploadConfig limits accepted payloads.
type UploadConfig struct {
	MaxBytes int64
}

// ThumbnailConfig controls the generator and its retry policy.
type ThumbnailConfig struct {
	Width          int
	Height         int
	Quality        int
	Workers        int
	QueueSize      int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// SweepConfig controls recovery of generation work lost across restarts.
type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("IMAGEVAULT_HOST", "0.0.0.0"),
			Port:         getInt("IMAGEVAULT_PORT", 8080),
			ReadTimeout:  getDuration("IMAGEVAULT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("IMAGEVAULT_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("IMAGEVAULT_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "imagevault"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "imagevault"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
			MaxConns: int32(getInt("POSTGRES_MAX_CONNS", 10)),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "imagevault"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "imagevault"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
			OpTimeout:       getDuration("MINIO_OP_TIMEOUT", 30*time.Second),
			PresignTTL:      getDuration("MINIO_PRESIGN_TTL", 15*time.Minute),
		},
		Metrics: MetricsConfig{
			PrometheusPath: getString("IMAGEVAULT_METRICS_PATH", "/metrics"),
		},
		Upload: UploadConfig{
			MaxBytes: int64(getInt("IMAGEVAULT_UPLOAD_MAX_BYTES", 20*1024*1024)),
		},
		Thumbnail: ThumbnailConfig{
			Width:          getInt("THUMBNAIL_WIDTH", 150),
			Height:         getInt("THUMBNAIL_HEIGHT", 150),
			Quality:        getInt("THUMBNAIL_JPEG_QUALITY", 85),
			Workers:        getInt("THUMBNAIL_WORKERS", 4),
			QueueSize:      getInt("THUMBNAIL_QUEUE_SIZE", 256),
			BaseDelay:      getDuration("THUMBNAIL_RETRY_BASE_DELAY", time.Second),
			MaxDelay:       getDuration("THUMBNAIL_RETRY_MAX_DELAY", 30*time.Second),
			AttemptTimeout: getDuration("THUMBNAIL_ATTEMPT_TIMEOUT", 2*time.Minute),
		},
		Sweep: SweepConfig{
			Interval:   getDuration("SWEEP_INTERVAL", time.Minute),
			StaleAfter: getDuration("SWEEP_STALE_AFTER", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Thumbnail.Width <= 0 || c.Thumbnail.Height <= 0 {
		return fmt.Errorf("thumbnail bounds must be positive, got %dx%d", c.Thumbnail.Width, c.Thumbnail.Height)
	}
	if c.Thumbnail.Quality < 1 || c.Thumbnail.Quality > 100 {
		return fmt.Errorf("thumbnail jpeg quality must be within 1..100, got %d", c.Thumbnail.Quality)
	}
	if c.Thumbnail.Workers <= 0 {
		return fmt.Errorf("thumbnail workers must be positive, got %d", c.Thumbnail.Workers)
	}
	if c.MinIO.Bucket == "" {
		return fmt.Errorf("minio bucket is required")
	}
	return nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
