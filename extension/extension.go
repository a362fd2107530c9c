// Package extension provides the Forge extension adapter for Passbook.
//
// It implements the forge.Extension interface to integrate Passbook
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.passbook" or "passbook" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/memory"
	"github.com/xraph/passbook/store/mongo"
	"github.com/xraph/passbook/store/postgres"
	"github.com/xraph/passbook/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "passbook"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Credit ledger and group subscription lifecycle"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Passbook as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *passbook.Engine
	store      store.Store
	engineOpts []passbook.Option
	logger     *slog.Logger
}

// New creates a new Passbook Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Passbook engine.
// This is nil until Register is called.
func (e *Extension) Engine() *passbook.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// opens the store, builds the engine and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil {
		s, err := OpenStore(context.Background(), e.config.Driver, e.config.DSN)
		if err != nil {
			return err
		}
		e.store = s
	}

	e.engine = passbook.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*passbook.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("passbook: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("passbook: store not initialized")
	}
	return e.store.Ping(ctx)
}

// OpenStore opens the store named by driver. An empty driver selects the
// in-memory store.
func OpenStore(ctx context.Context, driver, dsn string) (store.Store, error) {
	switch driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverSQLite:
		if dsn == "" {
			return nil, fmt.Errorf("passbook: sqlite driver requires a dsn")
		}
		return sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("passbook: postgres driver requires a dsn")
		}
		return postgres.Open(ctx, dsn)
	case DriverMongo:
		if dsn == "" {
			return nil, fmt.Errorf("passbook: mongo driver requires a dsn")
		}
		return mongo.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("passbook: unknown store driver %q", driver)
	}
}

// buildEngineOpts constructs passbook.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []passbook.Option {
	opts := make([]passbook.Option, 0, len(e.engineOpts)+8)

	if e.logger != nil {
		opts = append(opts, passbook.WithLogger(e.logger))
	}
	opts = append(opts, EngineOptions(e.config)...)

	// Pass-through engine options win over config.
	return append(opts, e.engineOpts...)
}

// EngineOptions maps cfg onto engine options. Zero values keep the engine
// defaults.
func EngineOptions(cfg Config) []passbook.Option {
	var opts []passbook.Option
	if cfg.PublishCost > 0 {
		opts = append(opts, passbook.WithPublishCost(cfg.PublishCost))
	}
	if cfg.BatchSize > 0 {
		opts = append(opts, passbook.WithBatchSize(cfg.BatchSize))
	}
	if cfg.RetentionWindow > 0 {
		opts = append(opts, passbook.WithRetentionWindow(cfg.RetentionWindow))
	}
	if cfg.SweepInterval > 0 {
		opts = append(opts, passbook.WithSweepInterval(cfg.SweepInterval))
	}
	if cfg.ReminderCooldown > 0 {
		opts = append(opts, passbook.WithReminderCooldown(cfg.ReminderCooldown))
	}
	if cfg.DisableSweeper {
		opts = append(opts, passbook.WithoutSweeper())
	}
	if cfg.DisableMigrate {
		opts = append(opts, passbook.WithoutMigrate())
	}
	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("passbook: configuration is required but not found in config files; " +
				"ensure 'extensions.passbook' or 'passbook' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("passbook: configuration loaded",
		forge.F("driver", e.config.Driver),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_sweeper", e.config.DisableSweeper),
		forge.F("publish_cost", e.config.PublishCost),
		forge.F("batch_size", e.config.BatchSize),
		forge.F("retention_window", e.config.RetentionWindow),
		forge.F("sweep_interval", e.config.SweepInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.passbook", "passbook"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("passbook: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("passbook: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.Driver == "" {
		cfg.Driver = defaults.Driver
	}
	if cfg.PublishCost <= 0 {
		cfg.PublishCost = defaults.PublishCost
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.RetentionWindow <= 0 {
		cfg.RetentionWindow = defaults.RetentionWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML takes precedence; programmatic values fill gaps and bool flags
// override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSweeper {
		yamlConfig.DisableSweeper = true
	}

	if yamlConfig.Driver == "" && programmaticConfig.Driver != "" {
		yamlConfig.Driver = programmaticConfig.Driver
		yamlConfig.DSN = programmaticConfig.DSN
	}
	if yamlConfig.PublishCost == 0 {
		yamlConfig.PublishCost = programmaticConfig.PublishCost
	}
	if yamlConfig.BatchSize == 0 {
		yamlConfig.BatchSize = programmaticConfig.BatchSize
	}
	if yamlConfig.RetentionWindow == 0 {
		yamlConfig.RetentionWindow = programmaticConfig.RetentionWindow
	}
	if yamlConfig.SweepInterval == 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.ReminderCooldown == 0 {
		yamlConfig.ReminderCooldown = programmaticConfig.ReminderCooldown
	}

	return mergeWithDefaults(yamlConfig)
}
