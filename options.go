package passbook

import (
	"log/slog"
	"time"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/plugin"
)

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin. A plugin whose name is already taken is
// skipped with a warning.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		if err := e.plugins.Register(p); err != nil {
			e.pluginErrs = append(e.pluginErrs, err)
		}
	}
}

// WithPublishCost sets the number of credits debited per published event.
// Non-positive values are ignored.
func WithPublishCost(cost int64) Option {
	return func(e *Engine) {
		if cost > 0 {
			e.publishCost = cost
		}
	}
}

// WithBatchSize bounds the number of writes per store commit during sync
// and sweep.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetentionWindow sets how long an expired group is kept before the
// sweeper deletes it.
func WithRetentionWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retentionWindow = d
		}
	}
}

// WithSweepInterval sets the period of the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sweepInterval = d
		}
	}
}

// WithReminderCooldown sets the minimum gap between low-balance reminders.
func WithReminderCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.reminderCooldown = d
		}
	}
}

// WithBundles replaces the catalog used for automatic top-ups.
func WithBundles(bundles ...credit.Bundle) Option {
	return func(e *Engine) {
		e.bundles = credit.NewCatalog(bundles...)
	}
}

// WithClock overrides the time source. Tests use it to pin now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithoutSweeper disables the background retention worker. Sweep can still
// be called directly.
func WithoutSweeper() Option {
	return func(e *Engine) {
		e.sweeper = false
	}
}

// WithoutMigrate skips store migration in Start.
func WithoutMigrate() Option {
	return func(e *Engine) {
		e.skipMigrate = true
	}
}
