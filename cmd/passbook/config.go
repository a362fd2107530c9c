package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/passbook/extension"
)

// config is the full CLI configuration. Every key can come from the config
// file, a PASSBOOK_ environment variable or a flag, in increasing priority.
type config struct {
	extension.Config `mapstructure:",squash"`

	Log  logConfig  `mapstructure:"log"`
	HTTP httpConfig `mapstructure:"http"`
}

type logConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type httpConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// newViper returns a viper instance with defaults registered for every key,
// so that environment variables are seen by Unmarshal.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("PASSBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	d := extension.DefaultConfig()
	v.SetDefault("driver", d.Driver)
	v.SetDefault("dsn", "")
	v.SetDefault("publish_cost", d.PublishCost)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("retention_window", d.RetentionWindow)
	v.SetDefault("sweep_interval", d.SweepInterval)
	v.SetDefault("reminder_cooldown", time.Duration(0))
	v.SetDefault("disable_migrate", false)
	v.SetDefault("disable_sweeper", false)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	return v
}

// loadConfig reads the optional config file and decodes every source into a
// config.
func loadConfig(v *viper.Viper) (config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg logConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
