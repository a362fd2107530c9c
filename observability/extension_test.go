package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

func newTestExtension(t *testing.T) (*MetricsExtension, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetricsExtension(NewPrometheusFactory(reg)), reg
}

func counterValue(t *testing.T, c Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatalf("counter %T is not a prometheus.Counter", c)
	}
	return testutil.ToFloat64(pc)
}

func TestPublishMetrics(t *testing.T) {
	m, _ := newTestExtension(t)
	ctx := context.Background()

	visible := &event.Event{ID: id.NewEventID(), IsVisible: true}
	hidden := &event.Event{ID: id.NewEventID()}
	_ = m.OnEventPublished(ctx, visible, 4)
	_ = m.OnEventPublished(ctx, hidden, 3)
	_ = m.OnCreditsDebited(ctx, id.NewUserID(), credit.Entry{Amount: 1})
	_ = m.OnCreditsDebited(ctx, id.NewUserID(), credit.Entry{Amount: 2})
	_ = m.OnCreditsReplenished(ctx, id.NewUserID(), credit.Bundle{ID: "starter", Credits: 5}, credit.Entry{})
	_ = m.OnPublishRejected(ctx, "", "", passbook.ErrUnauthorized)
	_ = m.OnPublishRejected(ctx, "", "", errors.New("connection reset"))

	tests := []struct {
		name string
		c    Counter
		want float64
	}{
		{"published", m.EventsPublished, 2},
		{"published hidden", m.EventsPublishedHidden, 1},
		{"debited", m.CreditsDebited, 3},
		{"replenished", m.CreditsReplenished, 5},
		{"auto top-ups", m.AutoTopUps, 1},
		{"rejected", m.PublishRejected, 1},
		{"store errors", m.PublishStoreErrors, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, tt.c); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubscriptionMetrics(t *testing.T) {
	m, _ := newTestExtension(t)
	ctx := context.Background()
	now := time.Now()
	gid := id.NewGroupID()

	_ = m.OnSubscriptionTransitioned(ctx, gid, subscription.StatusActive,
		subscription.Transition(subscription.StatusActive, subscription.StatusPastDue, nil, now))
	_ = m.OnSubscriptionTransitioned(ctx, gid, subscription.StatusPastDue,
		subscription.Transition(subscription.StatusPastDue, subscription.StatusCanceled, &now, now))
	_ = m.OnSubscriptionTransitioned(ctx, gid, subscription.StatusCanceled,
		subscription.Transition(subscription.StatusCanceled, subscription.StatusActive, &now, now))
	_ = m.OnEventsHidden(ctx, gid, []id.EventID{id.NewEventID(), id.NewEventID()})
	_ = m.OnEventsRestored(ctx, gid, []id.EventID{id.NewEventID()})

	if got := counterValue(t, m.SubscriptionExpired); got != 1 {
		t.Errorf("expired = %v, want 1", got)
	}
	if got := counterValue(t, m.SubscriptionUpdated); got != 1 {
		t.Errorf("updated = %v, want 1", got)
	}
	if got := counterValue(t, m.SubscriptionRenewed); got != 1 {
		t.Errorf("renewed = %v, want 1", got)
	}
	if got := counterValue(t, m.EventsHidden); got != 2 {
		t.Errorf("hidden = %v, want 2", got)
	}
	if got := counterValue(t, m.EventsRestored); got != 1 {
		t.Errorf("restored = %v, want 1", got)
	}
}

func TestRetentionMetrics(t *testing.T) {
	m, reg := newTestExtension(t)
	ctx := context.Background()

	_ = m.OnGroupSwept(ctx, id.NewGroupID(), 4)
	_ = m.OnGroupSwept(ctx, id.NewGroupID(), 0)
	_ = m.OnSweepCompleted(ctx, 2, 4, 30*time.Millisecond)

	if got := counterValue(t, m.GroupsSwept); got != 2 {
		t.Errorf("groups swept = %v, want 2", got)
	}
	if got := counterValue(t, m.EventsSwept); got != 4 {
		t.Errorf("events swept = %v, want 4", got)
	}
	n, err := testutil.GatherAndCount(reg, "passbook_retention_sweep_latency_ms")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("sweep latency series = %d, want 1", n)
	}
}

func TestPrometheusFactoryReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPrometheusFactory(reg)
	b := NewPrometheusFactory(reg)

	c1 := a.Counter("passbook.events.published")
	c2 := b.Counter("passbook.events.published")
	c1.Inc()
	c2.Inc()

	if got := counterValue(t, c1); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}
	if a.Counter("passbook.events.published") != c1 {
		t.Error("factory should cache collectors by name")
	}
}

func TestMetricName(t *testing.T) {
	if got := metricName("passbook.retention.groups-swept"); got != "passbook_retention_groups_swept" {
		t.Errorf("metricName = %q", got)
	}
}
