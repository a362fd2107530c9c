package event

import (
	"encoding/json"
	"testing"
)

func TestHiddenReasonParse(t *testing.T) {
	tests := []struct {
		raw      string
		zero     bool
		reserved bool
		other    bool
	}{
		{"", true, false, false},
		{"subscription_expired", false, true, false},
		{"spam", false, false, true},
		{"manual:subscription_expired", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := ParseHiddenReason(tt.raw)
			if r.IsZero() != tt.zero || r.IsSubscriptionExpired() != tt.reserved || r.IsOther() != tt.other {
				t.Errorf("ParseHiddenReason(%q) = %+v", tt.raw, r)
			}
			if r.String() != tt.raw {
				t.Errorf("String() = %q, want %q", r.String(), tt.raw)
			}
		})
	}
}

func TestOtherCannotForgeReservedReason(t *testing.T) {
	r := Other("subscription_expired")
	if r.IsSubscriptionExpired() {
		t.Fatal("Other must never produce the reserved reason")
	}
	if ParseHiddenReason(r.String()).IsSubscriptionExpired() {
		t.Fatalf("persisted form %q decodes as reserved", r.String())
	}

	if Other("  ").IsZero() {
		t.Error("an empty moderation reason must still hide")
	}
}

func TestHiddenReasonJSON(t *testing.T) {
	e := Event{Hidden: SubscriptionExpired}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Hidden != SubscriptionExpired {
		t.Errorf("Hidden = %+v, want SubscriptionExpired", back.Hidden)
	}
}

func TestHideRestore(t *testing.T) {
	var e Event
	e.Hide(Other("abuse"), testNow)
	if e.IsVisible || e.HiddenAt == nil || !e.Hidden.IsOther() {
		t.Fatalf("after Hide: %+v", e)
	}
	e.Restore()
	if !e.IsVisible || e.HiddenAt != nil || !e.Hidden.IsZero() {
		t.Errorf("after Restore: %+v", e)
	}
}
