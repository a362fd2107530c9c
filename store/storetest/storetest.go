// Package storetest holds the behavior every store driver must share. Driver
// packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

// Factory returns a fresh, migrated store. The store is closed by Run.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Run exercises s against the shared contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Accounts", testAccounts},
		{"Groups", testGroups},
		{"ExpiredGroups", testExpiredGroups},
		{"SubscriptionUpdates", testSubscriptionUpdates},
		{"EventVisibility", testEventVisibility},
		{"DeleteEvents", testDeleteEvents},
		{"TxCommit", testTxCommit},
		{"TxRollback", testTxRollback},
		{"ConcurrentDebits", testConcurrentDebits},
		{"Closed", testClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

// NewAccount builds an account with balance and a reminder policy.
func NewAccount(balance int64) *credit.Account {
	return &credit.Account{
		Entity:        types.NewEntity(base),
		UserID:        id.NewUserID(),
		Balance:       balance,
		Replenishment: &credit.Replenishment{Mode: credit.ModeReminder, Threshold: 1},
	}
}

// NewGroup builds a group owned by owner in status.
func NewGroup(owner id.UserID, status subscription.Status) *group.Group {
	return &group.Group{
		Entity:       types.NewEntity(base),
		ID:           id.NewGroupID(),
		Name:         "Chess club",
		OwnerID:      owner,
		OrganizerIDs: []id.UserID{id.NewUserID()},
		Subscription: subscription.State{Status: status},
	}
}

// NewEvent builds a visible event in groupID created at createdAt.
func NewEvent(groupID id.GroupID, createdBy id.UserID, createdAt time.Time) *event.Event {
	return &event.Event{
		Entity:      types.NewEntity(createdAt),
		ID:          id.NewEventID(),
		GroupID:     groupID,
		CreatedByID: createdBy,
		Title:       "Open night",
		Location:    "Library",
		HostName:    "Grace",
		StartsAt:    createdAt.Add(72 * time.Hour),
		IsVisible:   true,
	}
}

// InsertEvents writes events through a transaction.
func InsertEvents(t *testing.T, s store.Store, events ...*event.Event) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, e := range events {
			if err := tx.InsertEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert events: %v", err)
	}
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAccount(5)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateAccount(ctx, a); !errors.Is(err, passbook.ErrAlreadyExists) {
		t.Errorf("duplicate CreateAccount err = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 5 || got.Replenishment == nil || got.Replenishment.Mode != credit.ModeReminder {
		t.Errorf("GetAccount = %+v", got)
	}

	if _, err := s.GetAccount(ctx, id.NewUserID()); !errors.Is(err, passbook.ErrAccountNotFound) {
		t.Errorf("missing account err = %v, want ErrAccountNotFound", err)
	}
}

func testGroups(t *testing.T, s store.Store) {
	ctx := context.Background()
	owner := id.NewUserID()
	g1 := NewGroup(owner, subscription.StatusActive)
	g2 := NewGroup(owner, subscription.StatusTrialing)
	other := NewGroup(id.NewUserID(), subscription.StatusActive)

	for _, g := range []*group.Group{g1, g2, other} {
		if err := s.CreateGroup(ctx, g); err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
	}

	got, err := s.GetGroup(ctx, g1.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if got.Name != g1.Name || got.OwnerID.String() != owner.String() || len(got.OrganizerIDs) != 1 {
		t.Errorf("GetGroup = %+v", got)
	}
	if got.OrganizerIDs[0].String() != g1.OrganizerIDs[0].String() {
		t.Errorf("organizer = %s, want %s", got.OrganizerIDs[0], g1.OrganizerIDs[0])
	}

	owned, err := s.ListGroupsByOwner(ctx, owner)
	if err != nil {
		t.Fatalf("ListGroupsByOwner: %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("ListGroupsByOwner returned %d groups, want 2", len(owned))
	}

	if err := s.DeleteGroup(ctx, g1.ID); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	if _, err := s.GetGroup(ctx, g1.ID); !errors.Is(err, passbook.ErrGroupNotFound) {
		t.Errorf("deleted group err = %v, want ErrGroupNotFound", err)
	}
	if err := s.DeleteGroup(ctx, g1.ID); err != nil {
		t.Errorf("second DeleteGroup should be a no-op, got %v", err)
	}
}

func testExpiredGroups(t *testing.T, s store.Store) {
	ctx := context.Background()
	cutoff := base.Add(-30 * 24 * time.Hour)
	owner := id.NewUserID()

	expiredAt := func(d time.Duration) *time.Time {
		at := cutoff.Add(d)
		return &at
	}

	old := NewGroup(owner, subscription.StatusCanceled)
	old.Subscription.ExpiredAt = expiredAt(-time.Hour)
	exact := NewGroup(owner, subscription.StatusCanceled)
	exact.Subscription.ExpiredAt = expiredAt(0)
	recent := NewGroup(owner, subscription.StatusCanceled)
	recent.Subscription.ExpiredAt = expiredAt(time.Hour)
	otherStatus := NewGroup(owner, subscription.StatusPastDue)
	otherStatus.Subscription.ExpiredAt = expiredAt(-time.Hour)
	noExpiry := NewGroup(owner, subscription.StatusCanceled)

	for _, g := range []*group.Group{old, exact, recent, otherStatus, noExpiry} {
		if err := s.CreateGroup(ctx, g); err != nil {
			t.Fatalf("CreateGroup: %v", err)
		}
	}

	got, err := s.ListGroupsExpiredBefore(ctx, subscription.StatusCanceled, cutoff)
	if err != nil {
		t.Fatalf("ListGroupsExpiredBefore: %v", err)
	}
	want := map[string]bool{old.ID.String(): true, exact.ID.String(): true}
	if len(got) != len(want) {
		t.Fatalf("got %d groups, want %d", len(got), len(want))
	}
	for _, g := range got {
		if !want[g.ID.String()] {
			t.Errorf("unexpected group %s", g.ID)
		}
	}
}

func testSubscriptionUpdates(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGroup(id.NewUserID(), subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	now := base.Add(time.Hour)
	renews := base.Add(30 * 24 * time.Hour)
	state := subscription.Transition(g.Subscription.Status, subscription.StatusPastDue, nil, now).Apply(g.Subscription)
	state.RenewsAt = &renews

	if err := s.UpdateGroupSubscriptions(ctx, []group.SubscriptionUpdate{{GroupID: g.ID, State: state}}); err != nil {
		t.Fatalf("UpdateGroupSubscriptions: %v", err)
	}

	got, err := s.GetGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	sub := got.Subscription
	if sub.Status != subscription.StatusPastDue {
		t.Errorf("Status = %q, want past_due", sub.Status)
	}
	if sub.ExpiredAt == nil || !sub.ExpiredAt.Equal(now) {
		t.Errorf("ExpiredAt = %v, want %v", sub.ExpiredAt, now)
	}
	if sub.RenewedAt != nil {
		t.Errorf("RenewedAt = %v, want nil", sub.RenewedAt)
	}
	if sub.UpdatedAt == nil || !sub.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", sub.UpdatedAt, now)
	}
	if sub.RenewsAt == nil || !sub.RenewsAt.Equal(renews) {
		t.Errorf("RenewsAt = %v, want %v", sub.RenewsAt, renews)
	}

	if err := s.UpdateGroupSubscriptions(ctx, nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
}

func testEventVisibility(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGroup(id.NewUserID(), subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	e1 := NewEvent(g.ID, g.OwnerID, base)
	e2 := NewEvent(g.ID, g.OwnerID, base.Add(time.Minute))
	e2.Hide(event.Other("spam"), base.Add(2*time.Minute))
	InsertEvents(t, s, e1, e2)

	now := base.Add(time.Hour)
	err := s.UpdateEventVisibility(ctx, []event.VisibilityUpdate{event.HideUpdate(e1.ID, now)})
	if err != nil {
		t.Fatalf("UpdateEventVisibility: %v", err)
	}

	events, err := s.ListEventsByGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("ListEventsByGroup: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	byID := map[string]*event.Event{}
	for _, e := range events {
		byID[e.ID.String()] = e
	}

	hidden := byID[e1.ID.String()]
	if hidden.IsVisible || !hidden.Hidden.IsSubscriptionExpired() || hidden.HiddenAt == nil || !hidden.HiddenAt.Equal(now) {
		t.Errorf("hidden event = %+v", hidden)
	}
	moderated := byID[e2.ID.String()]
	if moderated.IsVisible || moderated.Hidden.String() != "spam" {
		t.Errorf("moderated event = %+v", moderated)
	}

	if err := s.UpdateEventVisibility(ctx, []event.VisibilityUpdate{event.RestoreUpdate(e1.ID)}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored, err := s.GetEvent(ctx, e1.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if !restored.IsVisible || !restored.Hidden.IsZero() || restored.HiddenAt != nil {
		t.Errorf("restored event = %+v", restored)
	}
	if restored.Title != e1.Title || !restored.StartsAt.Equal(e1.StartsAt) {
		t.Errorf("event fields not round-tripped: %+v", restored)
	}
}

func testDeleteEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := NewGroup(id.NewUserID(), subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	e1 := NewEvent(g.ID, g.OwnerID, base)
	e2 := NewEvent(g.ID, g.OwnerID, base)
	InsertEvents(t, s, e1, e2)

	if err := s.DeleteEvents(ctx, []id.EventID{e1.ID, id.NewEventID()}); err != nil {
		t.Fatalf("DeleteEvents: %v", err)
	}
	if _, err := s.GetEvent(ctx, e1.ID); !errors.Is(err, passbook.ErrEventNotFound) {
		t.Errorf("deleted event err = %v, want ErrEventNotFound", err)
	}
	if _, err := s.GetEvent(ctx, e2.ID); err != nil {
		t.Errorf("surviving event: %v", err)
	}
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAccount(3)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	g := NewGroup(a.UserID, subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	e := NewEvent(g.ID, a.UserID, base)

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, a.UserID)
		if err != nil {
			return err
		}
		if _, err := tx.GetGroup(ctx, g.ID); err != nil {
			return err
		}
		entry, err := credit.Debit(acct, 1, "Published event", base)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, e); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		return tx.AppendEntries(ctx, acct.UserID, []credit.Entry{entry})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	got, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 2 {
		t.Errorf("Balance = %d, want 2", got.Balance)
	}
	if len(got.History) != 1 || got.History[0].Type != credit.EntryDebit || got.History[0].BalanceAfter != 2 {
		t.Errorf("History = %+v", got.History)
	}
	if got.LastUpdatedAt == nil || !got.LastUpdatedAt.Equal(base) {
		t.Errorf("LastUpdatedAt = %v, want %v", got.LastUpdatedAt, base)
	}
	if _, err := s.GetEvent(ctx, e.ID); err != nil {
		t.Errorf("committed event missing: %v", err)
	}
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAccount(3)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	g := NewGroup(a.UserID, subscription.StatusActive)
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	e := NewEvent(g.ID, a.UserID, base)
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, a.UserID)
		if err != nil {
			return err
		}
		acct.Balance = 0
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, e); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx err = %v, want boom", err)
	}

	got, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 3 {
		t.Errorf("Balance = %d after rollback, want 3", got.Balance)
	}
	if _, err := s.GetEvent(ctx, e.ID); !errors.Is(err, passbook.ErrEventNotFound) {
		t.Errorf("rolled back event err = %v, want ErrEventNotFound", err)
	}
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	ctx := context.Background()
	const initial, attempts = 5, 12

	a := NewAccount(initial)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				acct, err := tx.GetAccount(ctx, a.UserID)
				if err != nil {
					return err
				}
				entry, err := credit.Debit(acct, 1, "race", time.Now())
				if err != nil {
					return err
				}
				if err := tx.UpdateAccount(ctx, acct); err != nil {
					return err
				}
				return tx.AppendEntries(ctx, acct.UserID, []credit.Entry{entry})
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, credit.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != initial {
		t.Errorf("successes = %d, want %d", successes, initial)
	}
	got, err := s.GetAccount(ctx, a.UserID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance != 0 {
		t.Errorf("Balance = %d, want 0", got.Balance)
	}
	if len(got.History) != initial {
		t.Errorf("History has %d entries, want %d", len(got.History), initial)
	}
	seen := map[int64]bool{}
	for _, e := range got.History {
		if seen[e.BalanceAfter] {
			t.Errorf("two debits observed the same balance %d", e.BalanceAfter)
		}
		seen[e.BalanceAfter] = true
	}
}

func testClosed(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewAccount(1)
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	g := NewGroup(a.UserID, subscription.StatusCanceled)
	expired := base
	g.Subscription.ExpiredAt = &expired
	if err := s.CreateGroup(ctx, g); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	e := NewEvent(g.ID, a.UserID, base)
	InsertEvents(t, s, e)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	calls := []struct {
		name string
		fn   func() error
	}{
		{"Ping", func() error { return s.Ping(ctx) }},
		{"CreateAccount", func() error { return s.CreateAccount(ctx, NewAccount(1)) }},
		{"GetAccount", func() error { _, err := s.GetAccount(ctx, a.UserID); return err }},
		{"CreateGroup", func() error { return s.CreateGroup(ctx, NewGroup(a.UserID, subscription.StatusActive)) }},
		{"GetGroup", func() error { _, err := s.GetGroup(ctx, g.ID); return err }},
		{"ListGroupsByOwner", func() error { _, err := s.ListGroupsByOwner(ctx, a.UserID); return err }},
		{"ListGroupsExpiredBefore", func() error {
			_, err := s.ListGroupsExpiredBefore(ctx, subscription.StatusCanceled, base.Add(time.Hour))
			return err
		}},
		{"UpdateGroupSubscriptions", func() error {
			return s.UpdateGroupSubscriptions(ctx, []group.SubscriptionUpdate{{GroupID: g.ID, State: g.Subscription}})
		}},
		{"DeleteGroup", func() error { return s.DeleteGroup(ctx, g.ID) }},
		{"GetEvent", func() error { _, err := s.GetEvent(ctx, e.ID); return err }},
		{"ListEventsByGroup", func() error { _, err := s.ListEventsByGroup(ctx, g.ID); return err }},
		{"UpdateEventVisibility", func() error {
			return s.UpdateEventVisibility(ctx, []event.VisibilityUpdate{{EventID: e.ID}})
		}},
		{"DeleteEvents", func() error { return s.DeleteEvents(ctx, []id.EventID{e.ID}) }},
		{"RunInTx", func() error {
			return s.RunInTx(ctx, func(context.Context, store.Tx) error { return nil })
		}},
		{"Migrate", func() error { return s.Migrate(ctx) }},
	}
	for _, c := range calls {
		if err := c.fn(); !errors.Is(err, passbook.ErrStoreClosed) {
			t.Errorf("%s after Close = %v, want ErrStoreClosed", c.name, err)
		}
	}
}
