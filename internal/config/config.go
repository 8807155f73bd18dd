package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	StoreFile  string `env:"STORE_FILE" envDefault:"speakers_database.json"`
	SamplesDir string `env:"SAMPLES_DIR" envDefault:"registered_speakers"`

	CorpusDir             string `env:"CORPUS_DIR"`
	CorpusIDPrefix        string `env:"CORPUS_ID_PREFIX"`
	CorpusSamplesPerGroup int    `env:"CORPUS_SAMPLES_PER_GROUP" envDefault:"3"`

	InboxDir string `env:"INBOX_DIR"`

	MatchThreshold float64 `env:"MATCH_THRESHOLD" envDefault:"0.7"`
	MaxUploadMB    int     `env:"MAX_UPLOAD_MB" envDefault:"32"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken   string `env:"AUTH_TOKEN"`
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL switches the store document from STORE_FILE to Postgres.
	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"4"`
	DatabaseDocument string `env:"DATABASE_DOCUMENT" envDefault:"default"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"speaker-id"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"speaker-id"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	S3 S3Config `envPrefix:"S3_"`
}

// S3Config configures optional S3 backup of raw enrollment samples.
type S3Config struct {
	Bucket        string        `env:"BUCKET"`
	Endpoint      string        `env:"ENDPOINT"`
	Region        string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey     string        `env:"ACCESS_KEY"`
	SecretKey     string        `env:"SECRET_KEY"`
	Prefix        string        `env:"PREFIX"`
	PresignExpiry time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	// LocalCache keeps SAMPLES_DIR as the primary copy with S3 as backup.
	// When false, samples live only in S3.
	LocalCache bool `env:"LOCAL_CACHE" envDefault:"true"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	StoreFile   string
	SamplesDir  string
	DatabaseURL string
	CorpusDir   string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.StoreFile != "" {
		cfg.StoreFile = overrides.StoreFile
	}
	if overrides.SamplesDir != "" {
		cfg.SamplesDir = overrides.SamplesDir
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.CorpusDir != "" {
		cfg.CorpusDir = overrides.CorpusDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and option combinations.
func (c *Config) Validate() error {
	var errs []error
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("MATCH_THRESHOLD must be in (0, 1], got %v", c.MatchThreshold))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB))
	}
	if c.CorpusSamplesPerGroup <= 0 {
		errs = append(errs, fmt.Errorf("CORPUS_SAMPLES_PER_GROUP must be positive, got %d", c.CorpusSamplesPerGroup))
	}
	if c.DatabaseURL == "" && c.StoreFile == "" {
		errs = append(errs, errors.New("one of STORE_FILE or DATABASE_URL is required"))
	}
	if c.SamplesDir == "" && !(c.S3.Enabled() && !c.S3.LocalCache) {
		errs = append(errs, errors.New("SAMPLES_DIR is required unless samples are stored only in S3"))
	}
	if c.S3.Enabled() && (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		errs = append(errs, errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// AllowedOrigins splits CORS_ORIGINS into a list. Empty means any origin.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// MaxUploadBytes is MAX_UPLOAD_MB in bytes.
func (c *Config) MaxUploadBytes() int64 { return int64(c.MaxUploadMB) << 20 }
