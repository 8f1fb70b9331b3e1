package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrEthical07/dashauth"
)

const envPrefix = "DASHAUTH"

type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	v      *viper.Viper
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "dashauth",
		Short: "Client-side session manager for dashboard backends",
		Long: `dashauth keeps an authenticated session against a dashboard auth backend.

Configuration:
  Config is loaded from dashauth.yaml in the current directory or
  $HOME/.dashauth/. Environment variables override it with the DASHAUTH_
  prefix, for example DASHAUTH_API_BASE_URL=https://auth.example.com/api.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.logLevel, opts.logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.logger = logger
			return initViper(opts.v, opts.configFile)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./dashauth.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newServeCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newStatusCmd(opts),
	)
	return cmd
}

func initViper(v *viper.Viper, configFile string) error {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("dashauth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".dashauth"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// setDefaults registers every key so environment overrides apply even
// without a config file. The CLI keeps credentials on disk between runs.
func setDefaults(v *viper.Viper) {
	d := dashauth.DefaultConfig()

	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.user_agent", "dashauth-cli")

	v.SetDefault("storage.backend", dashauth.BackendFile)
	v.SetDefault("storage.namespace", d.Storage.Namespace)
	v.SetDefault("storage.path", defaultCredentialPath())
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_ttl", 0)

	v.SetDefault("renewal.enabled", d.Renewal.Enabled)
	v.SetDefault("renewal.interval", d.Renewal.Interval)
	v.SetDefault("renewal.threshold", d.Renewal.Threshold)
	v.SetDefault("renewal.transient_retries", d.Renewal.TransientRetries)
	v.SetDefault("renewal.retry_backoff", d.Renewal.RetryBackoff)
	v.SetDefault("renewal.strict_teardown", d.Renewal.StrictTeardown)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}

func defaultCredentialPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".dashauth", "credentials.json")
	}
	return filepath.Join(home, ".dashauth", "credentials.json")
}

// loadConfig decodes and validates the merged configuration.
func loadConfig(v *viper.Viper) (dashauth.Config, error) {
	var cfg dashauth.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	handlerOpts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (must be text or json)", format)
}

// parseLogLevel returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildManager opens a manager for one command. cfg may be adjusted by the
// caller before it is passed in.
func buildManager(opts *rootOptions, cfg dashauth.Config, extra ...func(*dashauth.Builder)) (*dashauth.Manager, error) {
	if cfg.Storage.Backend == dashauth.BackendFile {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o700); err != nil {
			return nil, fmt.Errorf("create credential directory: %w", err)
		}
	}
	b := dashauth.New().
		WithConfig(cfg).
		WithLogger(opts.logger)
	for _, fn := range extra {
		fn(b)
	}
	return b.Build()
}
