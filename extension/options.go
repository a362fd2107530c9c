package extension

import (
	"log/slog"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/plugin"
	"github.com/xraph/passbook/store"
)

// Option configures the Passbook Forge extension.
type Option func(*Extension)

// WithStore sets the store for the passbook engine. It takes precedence over
// Config.Driver.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithLogger sets the logger handed to the engine.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithEngineOption passes a passbook.Option through to the underlying engine.
func WithEngineOption(opt passbook.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a passbook plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, passbook.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSweeper prevents the retention sweeper from starting.
func WithDisableSweeper() Option {
	return func(e *Extension) { e.config.DisableSweeper = true }
}

// WithDriver selects the store driver and its DSN.
func WithDriver(driver, dsn string) Option {
	return func(e *Extension) {
		e.config.Driver = driver
		e.config.DSN = dsn
	}
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithPublishCost sets the credits debited per published event.
func WithPublishCost(n int64) Option {
	return func(e *Extension) { e.config.PublishCost = n }
}

// WithBatchSize sets the write batch size for sync and sweep.
func WithBatchSize(n int) Option {
	return func(e *Extension) { e.config.BatchSize = n }
}

// WithRetentionWindow sets how long inactive groups keep their content.
func WithRetentionWindow(d time.Duration) Option {
	return func(e *Extension) { e.config.RetentionWindow = d }
}

// WithSweepInterval sets how often the retention sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}
