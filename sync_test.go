package passbook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/memory"
	"github.com/xraph/passbook/store/storetest"
	"github.com/xraph/passbook/subscription"
)

// seedEvents stores events for g created at each offset from base.
func seedEvents(t *testing.T, s store.Store, g *group.Group, base time.Time, offsets ...time.Duration) []*event.Event {
	t.Helper()
	events := make([]*event.Event, 0, len(offsets))
	for _, off := range offsets {
		events = append(events, storetest.NewEvent(g.ID, g.OwnerID, base.Add(off)))
	}
	storetest.InsertEvents(t, s, events...)
	return events
}

func TestSyncSubscriptionHideRestoreScenario(t *testing.T) {
	for _, d := range []struct {
		name     string
		newStore func(t *testing.T) store.Store
	}{
		{"memory", func(*testing.T) store.Store { return memory.New() }},
		{"sqlite", newSQLiteStore},
	} {
		t.Run(d.name, func(t *testing.T) {
			rec := newHookRecorder()
			h := newHarness(t, d.newStore(t), passbook.WithPlugin(rec))
			ctx := context.Background()

			owner := h.openAccount(t, 1, nil)
			g := h.createGroup(t, owner)

			expiry := t0.Add(48 * time.Hour)
			events := seedEvents(t, h.store, g, expiry,
				-72*time.Hour, -24*time.Hour, -time.Minute, // before expiry
				0, 2*time.Hour, // at and after expiry
			)
			before, after := events[:3], events[3:]

			h.clock.Set(expiry)
			res, err := h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusPastDue, nil)
			if err != nil {
				t.Fatalf("SyncSubscription(past_due): %v", err)
			}
			if !res.Synced || res.Groups != 1 || res.Hidden != 2 || res.Restored != 0 {
				t.Fatalf("result = %+v, want 1 group, 2 hidden", res)
			}

			stored, err := h.engine.Group(ctx, g.ID)
			if err != nil {
				t.Fatalf("Group: %v", err)
			}
			if sub := stored.Subscription; sub.Status != subscription.StatusPastDue || sub.ExpiredAt == nil || !sub.ExpiredAt.Equal(expiry) || sub.RenewedAt != nil {
				t.Fatalf("subscription = %+v, want past_due expired at %v", sub, expiry)
			}

			got := h.events(t, g.ID)
			for _, e := range before {
				if s := got[e.ID.String()]; !s.IsVisible || !s.Hidden.IsZero() {
					t.Errorf("pre-expiry event %s hidden", e.ID)
				}
			}
			for _, e := range after {
				s := got[e.ID.String()]
				if s.IsVisible || !s.Hidden.IsSubscriptionExpired() || s.HiddenAt == nil || !s.HiddenAt.Equal(expiry) {
					t.Errorf("post-expiry event %s = %+v, want hidden at %v", e.ID, s, expiry)
				}
			}

			// A duplicate notification changes nothing.
			h.clock.Set(expiry.Add(time.Hour))
			res, err = h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusPastDue, nil)
			if err != nil {
				t.Fatalf("repeat SyncSubscription: %v", err)
			}
			if res.Hidden != 0 || res.Restored != 0 {
				t.Errorf("repeat result = %+v, want no visibility changes", res)
			}
			stored, _ = h.engine.Group(ctx, g.ID)
			if !stored.Subscription.ExpiredAt.Equal(expiry) {
				t.Errorf("repeat moved ExpiredAt to %v", stored.Subscription.ExpiredAt)
			}

			renewal := expiry.Add(30 * 24 * time.Hour)
			h.clock.Set(expiry.Add(72 * time.Hour))
			res, err = h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusActive, &renewal)
			if err != nil {
				t.Fatalf("SyncSubscription(active): %v", err)
			}
			if res.Hidden != 0 || res.Restored != 2 {
				t.Fatalf("result = %+v, want 2 restored", res)
			}

			got = h.events(t, g.ID)
			for _, e := range events {
				if s := got[e.ID.String()]; !s.IsVisible || !s.Hidden.IsZero() || s.HiddenAt != nil {
					t.Errorf("event %s = %+v, want visible", e.ID, s)
				}
			}

			stored, _ = h.engine.Group(ctx, g.ID)
			sub := stored.Subscription
			if sub.Status != subscription.StatusActive || sub.ExpiredAt != nil || sub.RenewedAt == nil {
				t.Errorf("subscription = %+v, want active with RenewedAt", sub)
			}
			if sub.RenewsAt == nil || !sub.RenewsAt.Equal(renewal) {
				t.Errorf("RenewsAt = %v, want %v", sub.RenewsAt, renewal)
			}

			if rec.hidden != 2 || rec.restored != 2 {
				t.Errorf("hooks hidden=%d restored=%d, want 2/2", rec.hidden, rec.restored)
			}
		})
	}
}

func TestSyncSubscriptionLeavesManualHides(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()

	owner := h.openAccount(t, 1, nil)
	g := h.createGroup(t, owner)

	moderated := storetest.NewEvent(g.ID, owner, t0.Add(time.Hour))
	moderated.Hide(event.Other("spam"), t0)
	fresh := storetest.NewEvent(g.ID, owner, t0.Add(2*time.Hour))
	storetest.InsertEvents(t, h.store, moderated, fresh)

	for _, status := range []subscription.Status{subscription.StatusCanceled, subscription.StatusActive} {
		if _, err := h.engine.SyncSubscription(ctx, owner.String(), status, nil); err != nil {
			t.Fatalf("SyncSubscription(%s): %v", status, err)
		}
		s := h.events(t, g.ID)[moderated.ID.String()]
		if s.IsVisible || s.Hidden.String() != "spam" {
			t.Errorf("after %s manual hide = %+v, want untouched", status, s)
		}
	}
	if s := h.events(t, g.ID)[fresh.ID.String()]; !s.IsVisible {
		t.Errorf("fresh event not restored: %+v", s)
	}
}

func TestSyncSubscriptionBatches(t *testing.T) {
	h := newMemoryHarness(t, passbook.WithBatchSize(2))
	ctx := context.Background()

	owner := h.openAccount(t, 1, nil)
	var groups []*group.Group
	for range 5 {
		g := h.createGroup(t, owner)
		seedEvents(t, h.store, g, t0, time.Minute, 2*time.Minute, 3*time.Minute)
		groups = append(groups, g)
	}
	other := h.createGroup(t, id.NewUserID())

	res, err := h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusNone, nil)
	if err != nil {
		t.Fatalf("SyncSubscription: %v", err)
	}
	if res.Groups != 5 || res.Hidden != 15 {
		t.Errorf("result = %+v, want 5 groups, 15 hidden", res)
	}
	for _, g := range groups {
		stored, _ := h.engine.Group(ctx, g.ID)
		if stored.Subscription.Status != subscription.StatusNone {
			t.Errorf("group %s status = %q", g.ID, stored.Subscription.Status)
		}
	}
	stored, _ := h.engine.Group(ctx, other.ID)
	if stored.Subscription.Status != subscription.StatusActive {
		t.Errorf("unrelated group status = %q, want active", stored.Subscription.Status)
	}
}

func TestSyncSubscriptionSoftFailures(t *testing.T) {
	ctx := context.Background()

	res, err := passbook.New(nil, passbook.WithLogger(quietLogger())).
		SyncSubscription(ctx, id.NewUserID().String(), subscription.StatusActive, nil)
	if err != nil || res.Synced {
		t.Errorf("nil store: result=%+v err=%v, want not synced", res, err)
	}

	h := newMemoryHarness(t)
	res, err = h.engine.SyncSubscription(ctx, "  ", subscription.StatusActive, nil)
	if err != nil || res.Synced {
		t.Errorf("empty user: result=%+v err=%v, want not synced", res, err)
	}

	if _, err := h.engine.SyncSubscription(ctx, "grp_x", subscription.StatusActive, nil); !errors.Is(err, passbook.ErrInvalidInput) {
		t.Errorf("malformed user = %v, want ErrInvalidInput", err)
	}

	res, err = h.engine.SyncSubscription(ctx, id.NewUserID().String(), subscription.StatusActive, nil)
	if err != nil || !res.Synced || res.Groups != 0 {
		t.Errorf("user without groups: result=%+v err=%v", res, err)
	}

	// A blank status would restore hidden events while leaving the group
	// unable to publish, so it is rejected before anything is written.
	owner := h.openAccount(t, 2, nil)
	g := h.createGroup(t, owner)
	if _, err := h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusPastDue, nil); err != nil {
		t.Fatalf("SyncSubscription(past_due): %v", err)
	}
	pub, err := h.engine.PublishEvent(ctx, owner.String(), g.ID.String(), draft("Hidden night"))
	if err != nil || pub.IsVisible {
		t.Fatalf("publish under past_due: result=%+v err=%v, want hidden", pub, err)
	}

	for _, status := range []subscription.Status{"", "   "} {
		res, err := h.engine.SyncSubscription(ctx, owner.String(), status, nil)
		var verr passbook.ValidationError
		if !errors.As(err, &verr) || verr.Field != "status" || res.Synced {
			t.Errorf("status %q: result=%+v err=%v, want status validation error", status, res, err)
		}
	}

	stored, err := h.engine.Group(ctx, g.ID)
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if stored.Subscription.Status != subscription.StatusPastDue {
		t.Errorf("status = %q, want past_due", stored.Subscription.Status)
	}
	if evt := h.events(t, g.ID)[pub.EventID.String()]; evt == nil || evt.IsVisible {
		t.Errorf("hidden event restored by a blank status: %+v", evt)
	}
}
