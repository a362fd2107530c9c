package passbook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/plugin"
	"github.com/xraph/passbook/store"
)

// Defaults used when no option overrides them.
const (
	DefaultPublishCost     int64 = 1
	DefaultBatchSize             = 450
	DefaultRetentionWindow       = 30 * 24 * time.Hour
	DefaultSweepInterval         = 24 * time.Hour
)

// Engine is the passbook core: it debits credits for published events,
// follows group subscriptions and removes the content of groups whose
// subscription lapsed long ago.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	clock   func() time.Time

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Configuration
	publishCost      int64
	batchSize        int
	retentionWindow  time.Duration
	sweepInterval    time.Duration
	reminderCooldown time.Duration
	bundles          credit.Catalog
	sweeper          bool
	skipMigrate      bool

	// pluginErrs holds WithPlugin failures until the logger is final.
	pluginErrs []error
}

// New creates a new Engine. A nil store is accepted; every operation then
// reports the store as unavailable.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            s,
		plugins:          plugin.NewRegistry(),
		logger:           slog.Default(),
		clock:            time.Now,
		stopChan:         make(chan struct{}),
		publishCost:      DefaultPublishCost,
		batchSize:        DefaultBatchSize,
		retentionWindow:  DefaultRetentionWindow,
		sweepInterval:    DefaultSweepInterval,
		reminderCooldown: credit.DefaultReminderCooldown,
		bundles:          credit.DefaultCatalog(),
		sweeper:          true,
	}

	for _, opt := range opts {
		opt(e)
	}
	for _, err := range e.pluginErrs {
		e.logger.Warn("plugin not registered", "error", err)
	}
	e.pluginErrs = nil

	return e
}

// Store returns the backing store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

func (e *Engine) now() time.Time { return e.clock().UTC() }

// Start migrates the store, initializes plugins and starts the retention
// sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if e.store == nil {
		return ErrStoreUnavailable
	}

	if !e.skipMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.sweeper {
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.cancel = cancel
		e.wg.Add(1)
		go e.sweepWorker(wctx)
	}

	e.logger.Info("passbook started",
		"publish_cost", e.publishCost,
		"batch_size", e.batchSize,
		"retention_window", e.retentionWindow,
		"sweep_interval", e.sweepInterval,
		"sweeper", e.sweeper,
	)

	return nil
}

// Stop shuts down the engine and closes the store. It is safe to call more
// than once.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopChan)
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()

		e.plugins.EmitShutdown(context.Background())

		if e.store != nil {
			err = e.store.Close()
		}
		e.logger.Info("passbook stopped")
	})
	return err
}
