// Package plugin provides an extensible plugin system for Passbook.
// Plugins can hook into publishing, subscription and retention events to
// extend functionality (metrics, audit trails, mailers).
package plugin

import (
	"context"
	"time"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Publishing hooks
// ──────────────────────────────────────────────────

// OnEventPublished is called after a publish transaction commits.
type OnEventPublished interface {
	Plugin
	OnEventPublished(ctx context.Context, evt *event.Event, balance int64) error
}

// OnPublishRejected is called when a publish request fails a precondition.
type OnPublishRejected interface {
	Plugin
	OnPublishRejected(ctx context.Context, userID, groupID string, err error) error
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsDebited is called for every committed debit entry.
type OnCreditsDebited interface {
	Plugin
	OnCreditsDebited(ctx context.Context, userID id.UserID, entry credit.Entry) error
}

// OnCreditsReplenished is called after an automatic top-up commits.
type OnCreditsReplenished interface {
	Plugin
	OnCreditsReplenished(ctx context.Context, userID id.UserID, bundle credit.Bundle, entry credit.Entry) error
}

// OnLowBalance is called when a reminder-mode account crosses its threshold
// and no reminder went out within the cooldown. Mailers hook in here.
type OnLowBalance interface {
	Plugin
	OnLowBalance(ctx context.Context, userID id.UserID, balance, threshold int64) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransitioned is called once per group after its new
// subscription state is written.
type OnSubscriptionTransitioned interface {
	Plugin
	OnSubscriptionTransitioned(ctx context.Context, groupID id.GroupID, from subscription.Status, change subscription.Change) error
}

// OnEventsHidden is called after a batch of events is hidden by a sync.
type OnEventsHidden interface {
	Plugin
	OnEventsHidden(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) error
}

// OnEventsRestored is called after a batch of events is restored by a sync.
type OnEventsRestored interface {
	Plugin
	OnEventsRestored(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) error
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnGroupSwept is called after a group and its events are deleted.
type OnGroupSwept interface {
	Plugin
	OnGroupSwept(ctx context.Context, groupID id.GroupID, events int) error
}

// OnSweepCompleted is called at the end of every sweep run.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, groups, events int, elapsed time.Duration) error
}
