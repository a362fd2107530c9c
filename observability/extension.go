// Package observability provides a metrics extension for Passbook that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/plugin"
	"github.com/xraph/passbook/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnEventPublished           = (*MetricsExtension)(nil)
	_ plugin.OnPublishRejected          = (*MetricsExtension)(nil)
	_ plugin.OnCreditsDebited           = (*MetricsExtension)(nil)
	_ plugin.OnCreditsReplenished       = (*MetricsExtension)(nil)
	_ plugin.OnLowBalance               = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionTransitioned = (*MetricsExtension)(nil)
	_ plugin.OnEventsHidden             = (*MetricsExtension)(nil)
	_ plugin.OnEventsRestored           = (*MetricsExtension)(nil)
	_ plugin.OnGroupSwept               = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted           = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Passbook plugin to track publishing and retention.
type MetricsExtension struct {
	factory MetricFactory

	// Publishing metrics
	EventsPublished       Counter
	EventsPublishedHidden Counter
	PublishRejected       Counter
	PublishStoreErrors    Counter

	// Credit metrics
	CreditsDebited     Counter
	CreditsReplenished Counter
	AutoTopUps         Counter
	LowBalanceAlerts   Counter
	BalanceAfter       Histogram

	// Subscription metrics
	SubscriptionExpired Counter
	SubscriptionRenewed Counter
	SubscriptionUpdated Counter
	EventsHidden        Counter
	EventsRestored      Counter

	// Retention metrics
	GroupsSwept   Counter
	EventsSwept   Counter
	SweepRuns     Counter
	SweepDuration Histogram
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		EventsPublished:       factory.Counter("passbook.events.published"),
		EventsPublishedHidden: factory.Counter("passbook.events.published_hidden"),
		PublishRejected:       factory.Counter("passbook.publish.rejected"),
		PublishStoreErrors:    factory.Counter("passbook.publish.store_errors"),

		CreditsDebited:     factory.Counter("passbook.credits.debited"),
		CreditsReplenished: factory.Counter("passbook.credits.replenished"),
		AutoTopUps:         factory.Counter("passbook.credits.auto_topups"),
		LowBalanceAlerts:   factory.Counter("passbook.credits.low_balance_alerts"),
		BalanceAfter:       factory.Histogram("passbook.credits.balance_after"),

		SubscriptionExpired: factory.Counter("passbook.subscription.expired"),
		SubscriptionRenewed: factory.Counter("passbook.subscription.renewed"),
		SubscriptionUpdated: factory.Counter("passbook.subscription.updated"),
		EventsHidden:        factory.Counter("passbook.events.hidden"),
		EventsRestored:      factory.Counter("passbook.events.restored"),

		GroupsSwept:   factory.Counter("passbook.retention.groups_swept"),
		EventsSwept:   factory.Counter("passbook.retention.events_swept"),
		SweepRuns:     factory.Counter("passbook.retention.sweeps"),
		SweepDuration: factory.Histogram("passbook.retention.sweep_latency_ms"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Publishing hooks
// ──────────────────────────────────────────────────

// OnEventPublished implements plugin.OnEventPublished.
func (m *MetricsExtension) OnEventPublished(_ context.Context, evt *event.Event, balance int64) error {
	m.EventsPublished.Inc()
	if !evt.IsVisible {
		m.EventsPublishedHidden.Inc()
	}
	m.BalanceAfter.Observe(float64(balance))
	return nil
}

// OnPublishRejected implements plugin.OnPublishRejected.
func (m *MetricsExtension) OnPublishRejected(_ context.Context, _, _ string, err error) error {
	if passbook.IsCallerError(err) {
		m.PublishRejected.Inc()
	} else {
		m.PublishStoreErrors.Inc()
	}
	return nil
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsDebited implements plugin.OnCreditsDebited.
func (m *MetricsExtension) OnCreditsDebited(_ context.Context, _ id.UserID, entry credit.Entry) error {
	m.CreditsDebited.Add(float64(entry.Amount))
	return nil
}

// OnCreditsReplenished implements plugin.OnCreditsReplenished.
func (m *MetricsExtension) OnCreditsReplenished(_ context.Context, _ id.UserID, bundle credit.Bundle, _ credit.Entry) error {
	m.AutoTopUps.Inc()
	m.CreditsReplenished.Add(float64(bundle.Credits))
	return nil
}

// OnLowBalance implements plugin.OnLowBalance.
func (m *MetricsExtension) OnLowBalance(_ context.Context, _ id.UserID, _, _ int64) error {
	m.LowBalanceAlerts.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransitioned implements plugin.OnSubscriptionTransitioned.
func (m *MetricsExtension) OnSubscriptionTransitioned(_ context.Context, _ id.GroupID, _ subscription.Status, change subscription.Change) error {
	switch {
	case !change.Crossed():
		m.SubscriptionUpdated.Inc()
	case change.Status.IsInactive():
		m.SubscriptionExpired.Inc()
	default:
		m.SubscriptionRenewed.Inc()
	}
	return nil
}

// OnEventsHidden implements plugin.OnEventsHidden.
func (m *MetricsExtension) OnEventsHidden(_ context.Context, _ id.GroupID, eventIDs []id.EventID) error {
	m.EventsHidden.Add(float64(len(eventIDs)))
	return nil
}

// OnEventsRestored implements plugin.OnEventsRestored.
func (m *MetricsExtension) OnEventsRestored(_ context.Context, _ id.GroupID, eventIDs []id.EventID) error {
	m.EventsRestored.Add(float64(len(eventIDs)))
	return nil
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnGroupSwept implements plugin.OnGroupSwept.
func (m *MetricsExtension) OnGroupSwept(_ context.Context, _ id.GroupID, events int) error {
	m.GroupsSwept.Inc()
	m.EventsSwept.Add(float64(events))
	return nil
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, _, _ int, elapsed time.Duration) error {
	m.SweepRuns.Inc()
	m.SweepDuration.Observe(float64(elapsed.Milliseconds()))
	return nil
}
