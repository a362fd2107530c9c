// Package credit models per-user credit accounts and the debit and
// replenishment rules applied when content is published.
package credit

import (
	"time"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/types"
)

type EntryType string

const (
	EntryDebit     EntryType = "debit"
	EntryAutoTopUp EntryType = "auto_topup"
)

// Entry is an immutable ledger line. Amount is always positive; Type gives
// the direction.
type Entry struct {
	ID           id.EntryID `json:"id"`
	Type         EntryType  `json:"type"`
	Amount       int64      `json:"amount"`
	BalanceAfter int64      `json:"balance_after"`
	Description  string     `json:"description"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// Delta returns the signed balance change of the entry.
func (e Entry) Delta() int64 {
	if e.Type == EntryDebit {
		return -e.Amount
	}
	return e.Amount
}

type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeReminder Mode = "reminder"
)

// Replenishment is the low-balance policy of an account.
type Replenishment struct {
	Mode      Mode   `json:"mode"`
	Threshold int64  `json:"threshold"`
	BundleID  string `json:"bundle_id,omitempty"`
}

// Account is the credit balance of one user together with its history.
type Account struct {
	types.Entity
	UserID                id.UserID      `json:"user_id"`
	Balance               int64          `json:"balance"`
	History               []Entry        `json:"history,omitempty"`
	Replenishment         *Replenishment `json:"replenishment,omitempty"`
	LastUpdatedAt         *time.Time     `json:"last_updated_at,omitempty"`
	LastAutoPurchaseAt    *time.Time     `json:"last_auto_purchase_at,omitempty"`
	LowBalanceEmailSentAt *time.Time     `json:"low_balance_email_sent_at,omitempty"`
}

// Bundle is a purchasable block of credits used by automatic top-ups.
type Bundle struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

// Catalog indexes bundles by id.
type Catalog map[string]Bundle

// NewCatalog builds a catalog from a bundle list. Later duplicates win.
func NewCatalog(bundles ...Bundle) Catalog {
	c := make(Catalog, len(bundles))
	for _, b := range bundles {
		c[b.ID] = b
	}
	return c
}

// DefaultCatalog is used when the engine is not given bundles.
func DefaultCatalog() Catalog {
	return NewCatalog(
		Bundle{ID: "starter", Name: "Starter", Credits: 5},
		Bundle{ID: "standard", Name: "Standard", Credits: 20},
		Bundle{ID: "organizer", Name: "Organizer", Credits: 50},
	)
}
