package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

// DefaultTimeout bounds every hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook interfaces are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onEventPublished           []OnEventPublished
	onPublishRejected          []OnPublishRejected
	onCreditsDebited           []OnCreditsDebited
	onCreditsReplenished       []OnCreditsReplenished
	onLowBalance               []OnLowBalance
	onSubscriptionTransitioned []OnSubscriptionTransitioned
	onEventsHidden             []OnEventsHidden
	onEventsRestored           []OnEventsRestored
	onGroupSwept               []OnGroupSwept
	onSweepCompleted           []OnSweepCompleted
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout overrides the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnEventPublished); ok {
		r.onEventPublished = append(r.onEventPublished, v)
	}
	if v, ok := p.(OnPublishRejected); ok {
		r.onPublishRejected = append(r.onPublishRejected, v)
	}
	if v, ok := p.(OnCreditsDebited); ok {
		r.onCreditsDebited = append(r.onCreditsDebited, v)
	}
	if v, ok := p.(OnCreditsReplenished); ok {
		r.onCreditsReplenished = append(r.onCreditsReplenished, v)
	}
	if v, ok := p.(OnLowBalance); ok {
		r.onLowBalance = append(r.onLowBalance, v)
	}
	if v, ok := p.(OnSubscriptionTransitioned); ok {
		r.onSubscriptionTransitioned = append(r.onSubscriptionTransitioned, v)
	}
	if v, ok := p.(OnEventsHidden); ok {
		r.onEventsHidden = append(r.onEventsHidden, v)
	}
	if v, ok := p.(OnEventsRestored); ok {
		r.onEventsRestored = append(r.onEventsRestored, v)
	}
	if v, ok := p.(OnGroupSwept); ok {
		r.onGroupSwept = append(r.onGroupSwept, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", Implements(p),
	)
	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnEventPublished", reflect.TypeFor[OnEventPublished]()},
	{"OnPublishRejected", reflect.TypeFor[OnPublishRejected]()},
	{"OnCreditsDebited", reflect.TypeFor[OnCreditsDebited]()},
	{"OnCreditsReplenished", reflect.TypeFor[OnCreditsReplenished]()},
	{"OnLowBalance", reflect.TypeFor[OnLowBalance]()},
	{"OnSubscriptionTransitioned", reflect.TypeFor[OnSubscriptionTransitioned]()},
	{"OnEventsHidden", reflect.TypeFor[OnEventsHidden]()},
	{"OnEventsRestored", reflect.TypeFor[OnEventsRestored]()},
	{"OnGroupSwept", reflect.TypeFor[OnGroupSwept]()},
	{"OnSweepCompleted", reflect.TypeFor[OnSweepCompleted]()},
}

// Implements lists the hook interfaces p satisfies.
func Implements(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs fn for every plugin in hooks, logging failures.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// snapshot copies a hook slice under the read lock.
func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitEventPublished emits a published event.
func (r *Registry) EmitEventPublished(ctx context.Context, evt *event.Event, balance int64) {
	emit(ctx, r, "OnEventPublished", snapshot(r, &r.onEventPublished), func(p OnEventPublished) error {
		return p.OnEventPublished(ctx, evt, balance)
	})
}

// EmitPublishRejected emits a rejected publish request.
func (r *Registry) EmitPublishRejected(ctx context.Context, userID, groupID string, err error) {
	emit(ctx, r, "OnPublishRejected", snapshot(r, &r.onPublishRejected), func(p OnPublishRejected) error {
		return p.OnPublishRejected(ctx, userID, groupID, err)
	})
}

// EmitCreditsDebited emits a committed debit.
func (r *Registry) EmitCreditsDebited(ctx context.Context, userID id.UserID, entry credit.Entry) {
	emit(ctx, r, "OnCreditsDebited", snapshot(r, &r.onCreditsDebited), func(p OnCreditsDebited) error {
		return p.OnCreditsDebited(ctx, userID, entry)
	})
}

// EmitCreditsReplenished emits a committed automatic top-up.
func (r *Registry) EmitCreditsReplenished(ctx context.Context, userID id.UserID, bundle credit.Bundle, entry credit.Entry) {
	emit(ctx, r, "OnCreditsReplenished", snapshot(r, &r.onCreditsReplenished), func(p OnCreditsReplenished) error {
		return p.OnCreditsReplenished(ctx, userID, bundle, entry)
	})
}

// EmitLowBalance emits a low-balance reminder.
func (r *Registry) EmitLowBalance(ctx context.Context, userID id.UserID, balance, threshold int64) {
	emit(ctx, r, "OnLowBalance", snapshot(r, &r.onLowBalance), func(p OnLowBalance) error {
		return p.OnLowBalance(ctx, userID, balance, threshold)
	})
}

// EmitSubscriptionTransitioned emits a group subscription change.
func (r *Registry) EmitSubscriptionTransitioned(ctx context.Context, groupID id.GroupID, from subscription.Status, change subscription.Change) {
	emit(ctx, r, "OnSubscriptionTransitioned", snapshot(r, &r.onSubscriptionTransitioned), func(p OnSubscriptionTransitioned) error {
		return p.OnSubscriptionTransitioned(ctx, groupID, from, change)
	})
}

// EmitEventsHidden emits a committed hide batch.
func (r *Registry) EmitEventsHidden(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) {
	emit(ctx, r, "OnEventsHidden", snapshot(r, &r.onEventsHidden), func(p OnEventsHidden) error {
		return p.OnEventsHidden(ctx, groupID, eventIDs)
	})
}

// EmitEventsRestored emits a committed restore batch.
func (r *Registry) EmitEventsRestored(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) {
	emit(ctx, r, "OnEventsRestored", snapshot(r, &r.onEventsRestored), func(p OnEventsRestored) error {
		return p.OnEventsRestored(ctx, groupID, eventIDs)
	})
}

// EmitGroupSwept emits a deleted group.
func (r *Registry) EmitGroupSwept(ctx context.Context, groupID id.GroupID, events int) {
	emit(ctx, r, "OnGroupSwept", snapshot(r, &r.onGroupSwept), func(p OnGroupSwept) error {
		return p.OnGroupSwept(ctx, groupID, events)
	})
}

// EmitSweepCompleted emits the end of a sweep run.
func (r *Registry) EmitSweepCompleted(ctx context.Context, groups, events int, elapsed time.Duration) {
	emit(ctx, r, "OnSweepCompleted", snapshot(r, &r.onSweepCompleted), func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, groups, events, elapsed)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins must never block publishing or sync.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
