package extension

import (
	"time"

	"github.com/xraph/passbook"
)

// Store drivers understood by Config.Driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Config holds the Passbook extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.passbook" or "passbook" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSweeper prevents the background retention sweeper from running.
	DisableSweeper bool `json:"disable_sweeper" mapstructure:"disable_sweeper" yaml:"disable_sweeper"`

	// Driver selects the store when none was provided programmatically
	// (memory, sqlite, postgres or mongo; default: memory).
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"`

	// DSN is the sqlite path, postgres connection string or mongodb uri
	// for Driver.
	DSN string `json:"dsn" mapstructure:"dsn" yaml:"dsn"`

	// PublishCost is the number of credits debited per published event (default: 1).
	PublishCost int64 `json:"publish_cost" mapstructure:"publish_cost" yaml:"publish_cost"`

	// BatchSize caps the writes per batch in sync and sweep (default: 450).
	BatchSize int `json:"batch_size" mapstructure:"batch_size" yaml:"batch_size"`

	// RetentionWindow is how long a group may stay inactive before its
	// content is deleted (default: 720h).
	RetentionWindow time.Duration `json:"retention_window" mapstructure:"retention_window" yaml:"retention_window"`

	// SweepInterval is how often the retention sweeper runs (default: 24h).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// ReminderCooldown suppresses repeated low-balance reminders for an
	// account. Zero keeps the engine default.
	ReminderCooldown time.Duration `json:"reminder_cooldown" mapstructure:"reminder_cooldown" yaml:"reminder_cooldown"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverMemory,
		PublishCost:     passbook.DefaultPublishCost,
		BatchSize:       passbook.DefaultBatchSize,
		RetentionWindow: passbook.DefaultRetentionWindow,
		SweepInterval:   passbook.DefaultSweepInterval,
	}
}
