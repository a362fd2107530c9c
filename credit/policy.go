package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/passbook/id"
)

var (
	ErrInsufficientBalance = errors.New("credit: insufficient balance")
	ErrInvalidAmount       = errors.New("credit: amount must be positive")
	ErrInvalidPolicy       = errors.New("credit: invalid replenishment policy")
)

// DefaultReminderCooldown is the minimum gap between low-balance reminders.
const DefaultReminderCooldown = 24 * time.Hour

// Validate checks the policy fields.
func (r Replenishment) Validate() error {
	switch r.Mode {
	case ModeAuto:
		if r.BundleID == "" {
			return fmt.Errorf("%w: auto mode needs a bundle", ErrInvalidPolicy)
		}
	case ModeReminder:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, r.Mode)
	}
	if r.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// Debit removes amount from the account and records a debit entry. The
// balance is left untouched when it cannot cover the amount.
func Debit(a *Account, amount int64, description string, now time.Time) (Entry, error) {
	if amount <= 0 {
		return Entry{}, ErrInvalidAmount
	}
	if a.Balance < amount {
		return Entry{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, a.Balance, amount)
	}

	now = now.UTC()
	a.Balance -= amount
	a.LastUpdatedAt = &now

	e := Entry{
		ID:           id.NewEntryID(),
		Type:         EntryDebit,
		Amount:       amount,
		BalanceAfter: a.Balance,
		Description:  description,
		OccurredAt:   now,
	}
	a.History = append(a.History, e)
	return e, nil
}

// Action is what Replenish did to an account.
type Action string

const (
	ActionNone          Action = "none"
	ActionTopUp         Action = "top_up"
	ActionRemind        Action = "remind"
	ActionCooldown      Action = "cooldown"
	ActionUnknownBundle Action = "unknown_bundle"
)

// Outcome describes a replenishment decision.
type Outcome struct {
	Action Action
	Bundle *Bundle
	Entry  *Entry
}

// Changed reports whether the account was modified.
func (o Outcome) Changed() bool {
	return o.Action == ActionTopUp || o.Action == ActionRemind
}

// Replenish applies the account's low-balance policy after a debit. Nothing
// happens while the balance is above the threshold.
//
// In auto mode the configured bundle is credited, LastAutoPurchaseAt is set
// and any pending reminder is cleared. In reminder mode LowBalanceEmailSentAt
// is stamped unless a reminder went out within cooldown.
func Replenish(a *Account, bundles Catalog, cooldown time.Duration, now time.Time) Outcome {
	p := a.Replenishment
	if p == nil || a.Balance > p.Threshold {
		return Outcome{Action: ActionNone}
	}
	now = now.UTC()

	switch p.Mode {
	case ModeAuto:
		b, ok := bundles[p.BundleID]
		if !ok || b.Credits <= 0 {
			return Outcome{Action: ActionUnknownBundle}
		}
		a.Balance += b.Credits
		a.LastAutoPurchaseAt = &now
		a.LowBalanceEmailSentAt = nil
		a.LastUpdatedAt = &now

		e := Entry{
			ID:           id.NewEntryID(),
			Type:         EntryAutoTopUp,
			Amount:       b.Credits,
			BalanceAfter: a.Balance,
			Description:  "Auto top-up: " + b.Name,
			OccurredAt:   now,
		}
		a.History = append(a.History, e)
		return Outcome{Action: ActionTopUp, Bundle: &b, Entry: &e}

	case ModeReminder:
		if last := a.LowBalanceEmailSentAt; last != nil && now.Sub(*last) < cooldown {
			return Outcome{Action: ActionCooldown}
		}
		a.LowBalanceEmailSentAt = &now
		a.LastUpdatedAt = &now
		return Outcome{Action: ActionRemind}
	}
	return Outcome{Action: ActionNone}
}
