package event

import (
	"testing"
	"time"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/types"
)

func newEvent(createdAt time.Time, reason HiddenReason) *Event {
	e := &Event{
		Entity:    types.NewEntity(createdAt),
		ID:        id.NewEventID(),
		GroupID:   id.NewGroupID(),
		IsVisible: reason.IsZero(),
		Hidden:    reason,
	}
	return e
}

func TestCascadeInactiveBoundary(t *testing.T) {
	expiry := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := expiry.Add(time.Hour)

	before := newEvent(expiry.Add(-time.Second), HiddenReason{})
	atBoundary := newEvent(expiry, HiddenReason{})
	after := newEvent(expiry.Add(time.Minute), HiddenReason{})
	alreadyHidden := newEvent(expiry.Add(time.Minute), SubscriptionExpired)
	moderated := newEvent(expiry.Add(time.Minute), Other("spam"))

	res := Cascade([]*Event{before, atBoundary, after, alreadyHidden, moderated}, &expiry, true, now)

	if len(res.ToRestore) != 0 {
		t.Errorf("ToRestore = %v, want empty", res.ToRestore)
	}
	want := map[string]bool{atBoundary.ID.String(): true, after.ID.String(): true}
	if len(res.ToHide) != len(want) {
		t.Fatalf("ToHide has %d ids, want %d", len(res.ToHide), len(want))
	}
	for _, eid := range res.ToHide {
		if !want[eid.String()] {
			t.Errorf("unexpected id in ToHide: %s", eid)
		}
	}
}

func TestCascadeInactiveWithoutExpiryUsesNow(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	old := newEvent(now.Add(-time.Hour), HiddenReason{})
	fresh := newEvent(now, HiddenReason{})

	res := Cascade([]*Event{old, fresh}, nil, true, now)
	if len(res.ToHide) != 1 || res.ToHide[0] != fresh.ID {
		t.Errorf("ToHide = %v, want [%s]", res.ToHide, fresh.ID)
	}
}

func TestCascadeActiveRestoresOnlyReserved(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expired := newEvent(now.Add(-time.Hour), SubscriptionExpired)
	moderated := newEvent(now.Add(-time.Hour), Other("subscription_expired"))
	visible := newEvent(now.Add(-time.Hour), HiddenReason{})

	res := Cascade([]*Event{expired, moderated, visible}, nil, false, now)

	if len(res.ToHide) != 0 {
		t.Errorf("ToHide = %v, want empty", res.ToHide)
	}
	if len(res.ToRestore) != 1 || res.ToRestore[0] != expired.ID {
		t.Errorf("ToRestore = %v, want [%s]", res.ToRestore, expired.ID)
	}
}

func TestCascadePartition(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	reasons := []HiddenReason{{}, SubscriptionExpired, Other("abuse")}

	var events []*Event
	for i := 0; i < 30; i++ {
		events = append(events, newEvent(base.Add(time.Duration(i-15)*time.Hour), reasons[i%len(reasons)]))
	}
	input := make(map[id.EventID]bool, len(events))
	for _, e := range events {
		input[e.ID] = true
	}

	for _, inactive := range []bool{true, false} {
		res := Cascade(events, &base, inactive, base.Add(time.Hour))
		hidden := make(map[id.EventID]bool)
		for _, eid := range res.ToHide {
			if !input[eid] {
				t.Errorf("ToHide contains foreign id %s", eid)
			}
			hidden[eid] = true
		}
		for _, eid := range res.ToRestore {
			if !input[eid] {
				t.Errorf("ToRestore contains foreign id %s", eid)
			}
			if hidden[eid] {
				t.Errorf("id %s in both ToHide and ToRestore", eid)
			}
		}
	}
}

func TestCascadeUpdates(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	h, r := id.NewEventID(), id.NewEventID()
	ups := CascadeResult{ToHide: []id.EventID{h}, ToRestore: []id.EventID{r}}.Updates(now)

	if len(ups) != 2 {
		t.Fatalf("got %d updates, want 2", len(ups))
	}
	if ups[0].EventID != h || ups[0].IsVisible || !ups[0].Hidden.IsSubscriptionExpired() || ups[0].HiddenAt == nil {
		t.Errorf("hide update = %+v", ups[0])
	}
	if ups[1].EventID != r || !ups[1].IsVisible || !ups[1].Hidden.IsZero() || ups[1].HiddenAt != nil {
		t.Errorf("restore update = %+v", ups[1])
	}

	if got := (CascadeResult{}).Updates(now); got != nil {
		t.Errorf("empty result produced updates: %v", got)
	}
}
