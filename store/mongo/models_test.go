package mongo

import (
	"testing"
	"time"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store/storetest"
	"github.com/xraph/passbook/subscription"
)

var at = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestAccountModelRoundTrip(t *testing.T) {
	a := storetest.NewAccount(7)
	a.Replenishment = &credit.Replenishment{Mode: credit.ModeAuto, Threshold: 2, BundleID: "starter"}
	if _, err := credit.Debit(a, 1, "Published event", at); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	m := toAccountModel(a)
	if m.UserID != a.UserID.String() || len(m.History) != 1 {
		t.Fatalf("model = %+v", m)
	}

	back, err := fromAccountModel(m, true)
	if err != nil {
		t.Fatalf("fromAccountModel: %v", err)
	}
	if back.Balance != 6 || back.Replenishment == nil || back.Replenishment.BundleID != "starter" {
		t.Errorf("account = %+v", back)
	}
	if len(back.History) != 1 || back.History[0].ID != a.History[0].ID || back.History[0].Type != credit.EntryDebit {
		t.Errorf("history = %+v", back.History)
	}

	noHistory, err := fromAccountModel(m, false)
	if err != nil {
		t.Fatalf("fromAccountModel: %v", err)
	}
	if noHistory.History != nil {
		t.Errorf("history should be skipped, got %d entries", len(noHistory.History))
	}
}

func TestEmptyHistoryStoredAsArray(t *testing.T) {
	m := toAccountModel(storetest.NewAccount(0))
	if m.History == nil {
		t.Error("history must be an empty array so $push can append to it")
	}
}

func TestGroupModelRoundTrip(t *testing.T) {
	g := storetest.NewGroup(id.NewUserID(), subscription.StatusPastDue)
	expired := at.In(time.FixedZone("X", 3600))
	g.Subscription.ExpiredAt = &expired

	back, err := fromGroupModel(toGroupModel(g))
	if err != nil {
		t.Fatalf("fromGroupModel: %v", err)
	}
	if back.ID != g.ID || back.OwnerID != g.OwnerID || len(back.OrganizerIDs) != 1 || back.OrganizerIDs[0] != g.OrganizerIDs[0] {
		t.Errorf("group = %+v", back)
	}
	if back.Subscription.Status != subscription.StatusPastDue {
		t.Errorf("status = %q", back.Subscription.Status)
	}
	if back.Subscription.ExpiredAt == nil || !back.Subscription.ExpiredAt.Equal(at) || back.Subscription.ExpiredAt.Location() != time.UTC {
		t.Errorf("expired_at = %v", back.Subscription.ExpiredAt)
	}
}

func TestEventModelRoundTrip(t *testing.T) {
	e := storetest.NewEvent(id.NewGroupID(), id.NewUserID(), at)
	e.Hide(event.SubscriptionExpired, at.Add(time.Hour))

	m := toEventModel(e)
	if m.HiddenReason != "subscription_expired" || m.IsVisible {
		t.Fatalf("model = %+v", m)
	}

	back, err := fromEventModel(m)
	if err != nil {
		t.Fatalf("fromEventModel: %v", err)
	}
	if !back.Hidden.IsSubscriptionExpired() || back.HiddenAt == nil || !back.HiddenAt.Equal(at.Add(time.Hour)) {
		t.Errorf("event = %+v", back)
	}
	if back.Title != e.Title || !back.StartsAt.Equal(e.StartsAt) || back.CreatedByID != e.CreatedByID {
		t.Errorf("fields not preserved: %+v", back)
	}
}

func TestMigrationIndexes(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colGroups, colEvents} {
		if len(idx[col]) == 0 {
			t.Errorf("no indexes for %s", col)
		}
	}
}
