// Package config loads runtime configuration for the dynasty server and CLI.
//
// Values are layered: built-in defaults, then an optional YAML file read with
// viper, then DYNASTY_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"dynastycore/internal/core"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "DYNASTY_"

// Storage selects the record store.
type Storage struct {
	Driver      string `mapstructure:"driver" env:"DRIVER" validate:"oneof=memory sqlite postgres"`
	SQLitePath  string `mapstructure:"sqlite_path" env:"SQLITE_PATH" validate:"required_if=Driver sqlite"`
	PostgresDSN string `mapstructure:"postgres_dsn" env:"POSTGRES_DSN" validate:"required_if=Driver postgres"`
}

// S3 configures the S3 media backend.
type S3 struct {
	Bucket          string `mapstructure:"bucket" env:"BUCKET"`
	Region          string `mapstructure:"region" env:"REGION"`
	Endpoint        string `mapstructure:"endpoint" env:"ENDPOINT"`
	PathStyle       bool   `mapstructure:"path_style" env:"PATH_STYLE"`
	KeyPrefix       string `mapstructure:"key_prefix" env:"KEY_PREFIX"`
	AccessKeyID     string `mapstructure:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `mapstructure:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// Blob selects the media backend used to sign profile image URLs.
type Blob struct {
	Driver        string        `mapstructure:"driver" env:"DRIVER" validate:"oneof=memory s3"`
	MemoryBaseURL string        `mapstructure:"memory_base_url" env:"MEMORY_BASE_URL"`
	URLExpiry     time.Duration `mapstructure:"url_expiry" env:"URL_EXPIRY" validate:"gte=0"`
	S3            S3            `mapstructure:"s3" envPrefix:"S3_"`
}

// Retry configures conflict retries.
type Retry struct {
	MaxAttempts     int           `mapstructure:"max_attempts" env:"MAX_ATTEMPTS" validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" env:"INITIAL_INTERVAL" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" env:"MAX_INTERVAL" validate:"gtefield=InitialInterval"`
}

// HTTP configures the RPC listener.
type HTTP struct {
	Addr            string        `mapstructure:"addr" env:"ADDR" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" env:"FORMAT" validate:"oneof=text json"`
}

// Telemetry configures metrics and tracing export.
type Telemetry struct {
	ServiceName  string `mapstructure:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" env:"OTLP_INSECURE"`
	Metrics      bool   `mapstructure:"metrics" env:"METRICS"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Storage       Storage       `mapstructure:"storage" envPrefix:"STORAGE_"`
	Blob          Blob          `mapstructure:"blob" envPrefix:"BLOB_"`
	Retry         Retry         `mapstructure:"retry" envPrefix:"RETRY_"`
	InvitationTTL time.Duration `mapstructure:"invitation_ttl" env:"INVITATION_TTL" validate:"gt=0"`
	HTTP          HTTP          `mapstructure:"http" envPrefix:"HTTP_"`
	Log           Log           `mapstructure:"log" envPrefix:"LOG_"`
	Telemetry     Telemetry     `mapstructure:"telemetry" envPrefix:"TELEMETRY_"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	retry := core.DefaultRetryPolicy()
	return Config{
		Storage: Storage{Driver: string(core.StorageSQLite), SQLitePath: "dynasty.db"},
		Blob:    Blob{Driver: "memory", URLExpiry: 15 * time.Minute},
		Retry: Retry{
			MaxAttempts:     retry.MaxAttempts,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
		},
		InvitationTTL: core.DefaultInvitationTTL,
		HTTP:          HTTP{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:           Log{Level: "info", Format: "text"},
		Telemetry:     Telemetry{ServiceName: "dynasty", Metrics: true},
	}
}

// Options controls Load.
type Options struct {
	// File is an optional YAML config path. A missing file is an error only
	// when the path was given explicitly.
	File string
	// Environ overrides the process environment; nil reads os.Environ.
	Environ map[string]string
	// Flags, when set, overrides values for every flag the user changed.
	Flags Flags
}

// Flags reports command-line overrides.
type Flags interface {
	Apply(cfg *Config) error
}

// Load resolves configuration from every layer and validates the result.
func Load(opts Options) (Config, error) {
	cfg := Defaults()
	if opts.File != "" {
		if err := mergeFile(&cfg, opts.File); err != nil {
			return Config{}, err
		}
	}
	envOpts := env.Options{Prefix: EnvPrefix}
	if opts.Environ != nil {
		envOpts.Environment = opts.Environ
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if opts.Flags != nil {
		if err := opts.Flags.Apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("apply flags: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return errors.New("invalid config: blob.s3.bucket required for s3 driver")
	}
	return nil
}

// StorageConfig maps the storage section onto the core store factory.
func (c Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
	}
}

// RetryPolicy maps the retry section onto the service policy.
func (c Config) RetryPolicy() core.RetryPolicy {
	return core.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// NewLogger builds the process slog logger writing to w.
func (l Log) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
