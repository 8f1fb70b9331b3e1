package dashauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/dashauth/transport"
)

// Config is the complete session manager configuration. Field tags serve
// both struct validation and viper decoding.
type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Renewal RenewalConfig `mapstructure:"renewal" yaml:"renewal"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// APIConfig describes the authentication backend.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// StorageConfig selects and configures the credential store.
type StorageConfig struct {
	Backend   string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory file redis sqlite"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"required"`
	// Path is the credential file of the file backend.
	Path string `mapstructure:"path" yaml:"path"`
	// DSN is the database path of the sqlite backend.
	DSN       string        `mapstructure:"dsn" yaml:"dsn"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr" validate:"omitempty,hostname_port"`
	RedisDB   int           `mapstructure:"redis_db" yaml:"redis_db" validate:"gte=0"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl" yaml:"redis_ttl" validate:"gte=0"`
}

// RenewalConfig drives the auto-renewal scheduler and the refresh failure
// policy.
type RenewalConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval  time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	Threshold time.Duration `mapstructure:"threshold" yaml:"threshold" validate:"gt=0"`
	// TransientRetries is how many times a refresh that failed with a
	// transient kind is retried before the failure policy applies.
	TransientRetries int           `mapstructure:"transient_retries" yaml:"transient_retries" validate:"gte=0,lte=10"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff" validate:"gte=0"`
	// StrictTeardown tears the session down on every refresh failure.
	StrictTeardown bool `mapstructure:"strict_teardown" yaml:"strict_teardown"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size" validate:"gte=0"`
	DropIfFull bool `mapstructure:"drop_if_full" yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled" yaml:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms" yaml:"enable_latency_histograms"`
}

// DefaultConfig returns the defaults: a 10s transport timeout, renewal every
// 4 minutes for tokens within 5 minutes of expiry, two transient retries and
// an in-memory store.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL: transport.DefaultBaseURL,
			Timeout: transport.DefaultTimeout,
		},
		Storage: StorageConfig{
			Backend:   BackendMemory,
			Namespace: "dashauth",
		},
		Renewal: RenewalConfig{
			Enabled:          true,
			Interval:         4 * time.Minute,
			Threshold:        5 * time.Minute,
			TransientRetries: 2,
			RetryBackoff:     time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, formatValidationErrors(err))
	}

	switch c.Storage.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("%w: Storage.Path is required for the file backend", ErrInvalidConfig)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("%w: Storage.DSN is required for the sqlite backend", ErrInvalidConfig)
		}
	}

	// A token must be seen at least once inside the threshold window before
	// it expires.
	if c.Renewal.Threshold <= c.Renewal.Interval {
		return fmt.Errorf("%w: Renewal.Threshold must be greater than Renewal.Interval", ErrInvalidConfig)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Config.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "url":
			msgs = append(msgs, field+" must be a valid URL")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "hostname_port":
			msgs = append(msgs, field+" must be a valid host:port")
		case "gt", "gte", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be %s %s", field, e.Tag(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
