package credit

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/passbook/id"
)

var now = time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

func TestDebit(t *testing.T) {
	a := &Account{UserID: id.NewUserID(), Balance: 2}

	e, err := Debit(a, 1, "Published event", now)
	if err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if a.Balance != 1 || e.BalanceAfter != 1 || e.Type != EntryDebit || e.Delta() != -1 {
		t.Errorf("after debit: balance=%d entry=%+v", a.Balance, e)
	}
	if len(a.History) != 1 || a.LastUpdatedAt == nil {
		t.Errorf("history=%d last_updated=%v", len(a.History), a.LastUpdatedAt)
	}

	if _, err := Debit(a, 2, "too much", now); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
	if a.Balance != 1 || len(a.History) != 1 {
		t.Errorf("failed debit mutated account: balance=%d history=%d", a.Balance, len(a.History))
	}

	if _, err := Debit(a, 0, "zero", now); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestDebitNeverNegative(t *testing.T) {
	a := &Account{Balance: 3}
	for i := 0; i < 5; i++ {
		_, _ = Debit(a, 1, "loop", now)
		if a.Balance < 0 {
			t.Fatalf("balance went negative: %d", a.Balance)
		}
	}
	if a.Balance != 0 {
		t.Errorf("balance = %d, want 0", a.Balance)
	}
}

func TestReplenish(t *testing.T) {
	catalog := DefaultCatalog()
	recent := now.Add(-time.Hour)
	stale := now.Add(-25 * time.Hour)

	tests := []struct {
		name        string
		balance     int64
		policy      *Replenishment
		lastEmail   *time.Time
		wantAction  Action
		wantBalance int64
		wantEmail   bool
	}{
		{"no policy", 0, nil, nil, ActionNone, 0, false},
		{"above threshold", 5, &Replenishment{Mode: ModeAuto, Threshold: 2, BundleID: "starter"}, nil, ActionNone, 5, false},
		{"auto at threshold", 2, &Replenishment{Mode: ModeAuto, Threshold: 2, BundleID: "starter"}, &recent, ActionTopUp, 7, false},
		{"auto unknown bundle", 0, &Replenishment{Mode: ModeAuto, Threshold: 1, BundleID: "gold"}, nil, ActionUnknownBundle, 0, false},
		{"reminder first", 1, &Replenishment{Mode: ModeReminder, Threshold: 1}, nil, ActionRemind, 1, true},
		{"reminder cooldown", 1, &Replenishment{Mode: ModeReminder, Threshold: 1}, &recent, ActionCooldown, 1, true},
		{"reminder after cooldown", 0, &Replenishment{Mode: ModeReminder, Threshold: 1}, &stale, ActionRemind, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Account{Balance: tt.balance, Replenishment: tt.policy, LowBalanceEmailSentAt: tt.lastEmail}
			out := Replenish(a, catalog, DefaultReminderCooldown, now)

			if out.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", out.Action, tt.wantAction)
			}
			if a.Balance != tt.wantBalance {
				t.Errorf("Balance = %d, want %d", a.Balance, tt.wantBalance)
			}
			if (a.LowBalanceEmailSentAt != nil) != tt.wantEmail {
				t.Errorf("LowBalanceEmailSentAt = %v, want set=%v", a.LowBalanceEmailSentAt, tt.wantEmail)
			}
		})
	}
}

func TestReplenishAutoRecordsEntry(t *testing.T) {
	a := &Account{Balance: 0, Replenishment: &Replenishment{Mode: ModeAuto, Threshold: 1, BundleID: "standard"}}
	out := Replenish(a, DefaultCatalog(), DefaultReminderCooldown, now)

	if out.Entry == nil || out.Entry.Type != EntryAutoTopUp || out.Entry.Amount != 20 || out.Entry.BalanceAfter != 20 {
		t.Fatalf("entry = %+v", out.Entry)
	}
	if a.LastAutoPurchaseAt == nil || !a.LastAutoPurchaseAt.Equal(now) {
		t.Errorf("LastAutoPurchaseAt = %v, want %v", a.LastAutoPurchaseAt, now)
	}
	if !out.Changed() {
		t.Error("top-up should report a change")
	}
}

func TestReplenishmentValidate(t *testing.T) {
	tests := []struct {
		name string
		r    Replenishment
		ok   bool
	}{
		{"auto", Replenishment{Mode: ModeAuto, Threshold: 1, BundleID: "starter"}, true},
		{"reminder", Replenishment{Mode: ModeReminder, Threshold: 3}, true},
		{"auto without bundle", Replenishment{Mode: ModeAuto, Threshold: 1}, false},
		{"zero threshold", Replenishment{Mode: ModeReminder, Threshold: 0}, false},
		{"unknown mode", Replenishment{Mode: "sms", Threshold: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("err = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}
