package passbook_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/store/memory"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

func TestPublishEventCreditScenario(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()

	owner := h.openAccount(t, 3, nil)
	g := h.createGroup(t, owner)

	for i := range 2 {
		res, err := h.engine.PublishEvent(ctx, owner.String(), g.ID.String(), draft(fmt.Sprintf("meetup %d", i)))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if !res.IsVisible || !res.HiddenReason.IsZero() {
			t.Errorf("publish %d: visible=%v reason=%q, want visible", i, res.IsVisible, res.HiddenReason)
		}
	}
	if got := h.balance(t, owner); got != 1 {
		t.Fatalf("balance after two publishes = %d, want 1", got)
	}

	if _, err := h.engine.SyncSubscription(ctx, owner.String(), subscription.StatusPastDue, nil); err != nil {
		t.Fatalf("SyncSubscription: %v", err)
	}

	res, err := h.engine.PublishEvent(ctx, owner.String(), g.ID.String(), draft("after expiry"))
	if err != nil {
		t.Fatalf("third publish: %v", err)
	}
	if res.IsVisible || !res.HiddenReason.IsSubscriptionExpired() {
		t.Errorf("third publish: visible=%v reason=%q, want hidden subscription_expired", res.IsVisible, res.HiddenReason)
	}
	if res.NewBalance != 0 {
		t.Errorf("NewBalance = %d, want 0", res.NewBalance)
	}

	stored := h.events(t, g.ID)[res.EventID.String()]
	if stored == nil || stored.IsVisible || stored.HiddenAt == nil {
		t.Errorf("stored event = %+v, want hidden with HiddenAt", stored)
	}

	_, err = h.engine.PublishEvent(ctx, owner.String(), g.ID.String(), draft("one too many"))
	if !errors.Is(err, passbook.ErrInsufficientCredits) {
		t.Fatalf("fourth publish = %v, want ErrInsufficientCredits", err)
	}
	if n := len(h.events(t, g.ID)); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}

	a, err := h.engine.Account(ctx, owner)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if len(a.History) != 3 {
		t.Fatalf("history = %d entries, want 3", len(a.History))
	}
	for i, want := range []int64{2, 1, 0} {
		e := a.History[i]
		if e.Type != credit.EntryDebit || e.Amount != 1 || e.BalanceAfter != want {
			t.Errorf("history[%d] = %+v, want debit of 1 leaving %d", i, e, want)
		}
	}
}

func TestPublishEventPreconditions(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()

	owner := h.openAccount(t, 5, nil)
	stranger := h.openAccount(t, 5, nil)
	broke := h.openAccount(t, 0, nil)
	g := h.createGroup(t, owner, broke)

	unprovisioned := &group.Group{
		Entity:  types.NewEntity(t0),
		ID:      id.NewGroupID(),
		Name:    "legacy",
		OwnerID: owner,
	}
	if err := h.store.CreateGroup(ctx, unprovisioned); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	tests := []struct {
		name    string
		userID  string
		groupID string
		draft   event.Draft
		wantErr error
		field   string
	}{
		{"missing user", "", g.ID.String(), draft("x"), passbook.ErrInvalidInput, "user_id"},
		{"malformed user", "not-a-user", g.ID.String(), draft("x"), passbook.ErrInvalidInput, "user_id"},
		{"group id as user", g.ID.String(), g.ID.String(), draft("x"), passbook.ErrInvalidInput, "user_id"},
		{"missing group", owner.String(), "", draft("x"), passbook.ErrMissingGroupAssociation, ""},
		{"malformed group", owner.String(), "grp_nope", draft("x"), passbook.ErrInvalidInput, "group_id"},
		{"missing title", owner.String(), g.ID.String(), event.Draft{Location: "a", HostName: "b", StartDate: "2026-04-01"}, passbook.ErrInvalidInput, "title"},
		{"bad start date", owner.String(), g.ID.String(), event.Draft{Title: "t", Location: "a", HostName: "b", StartDate: "soon"}, passbook.ErrInvalidInput, "start_date"},
		{"unknown account", id.NewUserID().String(), g.ID.String(), draft("x"), passbook.ErrAccountNotFound, ""},
		{"unknown group", owner.String(), id.NewGroupID().String(), draft("x"), passbook.ErrMissingGroupAssociation, ""},
		{"not an organizer", stranger.String(), g.ID.String(), draft("x"), passbook.ErrUnauthorized, ""},
		{"unprovisioned subscription", owner.String(), unprovisioned.ID.String(), draft("x"), passbook.ErrSubscriptionInactive, ""},
		{"no credits", broke.String(), g.ID.String(), draft("x"), passbook.ErrInsufficientCredits, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.engine.PublishEvent(ctx, tt.userID, tt.groupID, tt.draft)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PublishEvent = %v, want %v", err, tt.wantErr)
			}
			if res != nil {
				t.Errorf("result = %+v, want nil", res)
			}
			if !passbook.IsCallerError(err) {
				t.Errorf("IsCallerError(%v) = false", err)
			}
			if tt.field != "" {
				var ve passbook.ValidationError
				if !errors.As(err, &ve) || ve.Field != tt.field {
					t.Errorf("ValidationError field = %q, want %q", ve.Field, tt.field)
				}
			}
		})
	}

	// No precondition failure wrote anything.
	if n := len(h.events(t, g.ID)); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
	for _, u := range []id.UserID{owner, stranger} {
		if got := h.balance(t, u); got != 5 {
			t.Errorf("balance of %s = %d, want 5", u, got)
		}
	}
}

func TestPublishEventByOrganizer(t *testing.T) {
	h := newMemoryHarness(t)
	ctx := context.Background()

	owner := h.openAccount(t, 1, nil)
	organizer := h.openAccount(t, 4, nil)
	g := h.createGroup(t, owner, organizer)

	res, err := h.engine.PublishEvent(ctx, organizer.String(), g.ID.String(), draft("organizer night"))
	if err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if res.NewBalance != 3 {
		t.Errorf("NewBalance = %d, want 3", res.NewBalance)
	}
	if got := h.balance(t, owner); got != 1 {
		t.Errorf("owner balance = %d, want 1", got)
	}

	evt := h.events(t, g.ID)[res.EventID.String()]
	if evt == nil {
		t.Fatal("event not stored")
	}
	if evt.CreatedByID.String() != organizer.String() || evt.GroupID.String() != g.ID.String() {
		t.Errorf("event owner fields = %s/%s", evt.CreatedByID, evt.GroupID)
	}
	if !evt.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", evt.CreatedAt, t0)
	}
}

func TestPublishEventVisibilityByStatus(t *testing.T) {
	for _, status := range []subscription.Status{
		subscription.StatusActive,
		subscription.StatusTrialing,
		subscription.StatusPastDue,
		subscription.StatusCanceled,
		subscription.StatusNone,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newMemoryHarness(t)
			owner := h.openAccount(t, 1, nil)
			g := h.createGroup(t, owner)
			if _, err := h.engine.SyncSubscription(context.Background(), owner.String(), status, nil); err != nil {
				t.Fatalf("SyncSubscription: %v", err)
			}

			res, err := h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft("x"))
			if err != nil {
				t.Fatalf("PublishEvent: %v", err)
			}
			wantVisible := !status.IsInactive()
			if res.IsVisible != wantVisible {
				t.Errorf("IsVisible = %v, want %v", res.IsVisible, wantVisible)
			}
			if res.HiddenReason.IsSubscriptionExpired() == wantVisible {
				t.Errorf("HiddenReason = %q", res.HiddenReason)
			}
		})
	}
}

func TestPublishEventReplenishment(t *testing.T) {
	t.Run("auto top-up", func(t *testing.T) {
		rec := newHookRecorder()
		h := newMemoryHarness(t, passbook.WithPlugin(rec))
		policy := &credit.Replenishment{Mode: credit.ModeAuto, Threshold: 1, BundleID: "starter"}
		owner := h.openAccount(t, 2, policy)
		g := h.createGroup(t, owner)

		res, err := h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft("x"))
		if err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
		if res.NewBalance != 6 || res.Replenishment != credit.ActionTopUp {
			t.Errorf("result = %+v, want balance 6 after top-up", res)
		}

		a, err := h.engine.Account(context.Background(), owner)
		if err != nil {
			t.Fatalf("Account: %v", err)
		}
		if a.LastAutoPurchaseAt == nil {
			t.Error("LastAutoPurchaseAt not set")
		}
		if len(a.History) != 2 || a.History[1].Type != credit.EntryAutoTopUp {
			t.Errorf("history = %+v, want debit then auto top-up", a.History)
		}
		if rec.refilled != 1 || rec.debited != 1 || rec.published != 1 {
			t.Errorf("hooks refilled=%d debited=%d published=%d", rec.refilled, rec.debited, rec.published)
		}
	})

	t.Run("unknown bundle", func(t *testing.T) {
		h := newMemoryHarness(t, passbook.WithBundles(credit.Bundle{ID: "big", Name: "Big", Credits: 100}))
		policy := &credit.Replenishment{Mode: credit.ModeAuto, Threshold: 1, BundleID: "starter"}
		owner := h.openAccount(t, 2, policy)
		g := h.createGroup(t, owner)

		res, err := h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft("x"))
		if err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
		if res.NewBalance != 1 || res.Replenishment != credit.ActionUnknownBundle {
			t.Errorf("result = %+v, want balance 1 without top-up", res)
		}
	})

	t.Run("reminder cooldown", func(t *testing.T) {
		rec := newHookRecorder()
		h := newMemoryHarness(t, passbook.WithPlugin(rec))
		policy := &credit.Replenishment{Mode: credit.ModeReminder, Threshold: 2}
		owner := h.openAccount(t, 4, policy)
		g := h.createGroup(t, owner)
		publish := func() *passbook.PublishResult {
			t.Helper()
			res, err := h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft("x"))
			if err != nil {
				t.Fatalf("PublishEvent: %v", err)
			}
			return res
		}

		if res := publish(); res.Replenishment != credit.ActionNone {
			t.Errorf("balance 3: action = %q, want none", res.Replenishment)
		}
		if res := publish(); res.Replenishment != credit.ActionRemind {
			t.Errorf("balance 2: action = %q, want remind", res.Replenishment)
		}
		h.clock.Set(t0.Add(time.Hour))
		if res := publish(); res.Replenishment != credit.ActionCooldown {
			t.Errorf("within cooldown: action = %q, want cooldown", res.Replenishment)
		}

		a, err := h.engine.Account(context.Background(), owner)
		if err != nil {
			t.Fatalf("Account: %v", err)
		}
		if a.LowBalanceEmailSentAt == nil || !a.LowBalanceEmailSentAt.Equal(t0) {
			t.Errorf("LowBalanceEmailSentAt = %v, want %v", a.LowBalanceEmailSentAt, t0)
		}
		if rec.low != 1 {
			t.Errorf("OnLowBalance calls = %d, want 1", rec.low)
		}
	})
}

func TestPublishEventRejectedHook(t *testing.T) {
	rec := newHookRecorder()
	h := newMemoryHarness(t, passbook.WithPlugin(rec))
	owner := h.openAccount(t, 0, nil)
	g := h.createGroup(t, owner)

	_, _ = h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft("x"))
	if len(rec.rejected) != 1 || !errors.Is(rec.rejected[0], passbook.ErrInsufficientCredits) {
		t.Errorf("rejected = %v, want one ErrInsufficientCredits", rec.rejected)
	}
}

func TestPublishEventConcurrentDebits(t *testing.T) {
	drivers := []struct {
		name     string
		newStore func(t *testing.T) store.Store
	}{
		{"memory", func(*testing.T) store.Store { return memory.New() }},
		{"sqlite", newSQLiteStore},
	}

	const (
		initial  = 5
		attempts = 12
	)

	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			h := newHarness(t, d.newStore(t))
			owner := h.openAccount(t, initial, nil)
			g := h.createGroup(t, owner)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				succeeded int
				rejected  int
				other     []error
			)
			for i := range attempts {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.engine.PublishEvent(context.Background(), owner.String(), g.ID.String(), draft(fmt.Sprintf("event %d", i)))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						succeeded++
					case errors.Is(err, passbook.ErrInsufficientCredits):
						rejected++
					default:
						other = append(other, err)
					}
				}()
			}
			wg.Wait()

			if len(other) > 0 {
				t.Fatalf("unexpected errors: %v", other)
			}
			if succeeded != initial || rejected != attempts-initial {
				t.Errorf("succeeded=%d rejected=%d, want %d/%d", succeeded, rejected, initial, attempts-initial)
			}

			a, err := h.engine.Account(context.Background(), owner)
			if err != nil {
				t.Fatalf("Account: %v", err)
			}
			if a.Balance != 0 {
				t.Errorf("balance = %d, want 0", a.Balance)
			}
			if len(a.History) != initial {
				t.Fatalf("history = %d, want %d", len(a.History), initial)
			}
			for i, e := range a.History {
				if want := int64(initial - i - 1); e.BalanceAfter != want {
					t.Errorf("history[%d].BalanceAfter = %d, want %d", i, e.BalanceAfter, want)
				}
			}
			if n := len(h.events(t, g.ID)); n != initial {
				t.Errorf("events = %d, want %d", n, initial)
			}
		})
	}
}
