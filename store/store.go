// Package store defines the persistence contract shared by every passbook
// driver.
package store

import (
	"context"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
)

// Tx is the view of the store inside a transaction. Reads of accounts and
// groups hold the row until the transaction ends so that no other
// transaction can debit the same account concurrently.
type Tx interface {
	// GetAccount returns the account without its history.
	GetAccount(ctx context.Context, userID id.UserID) (*credit.Account, error)
	GetGroup(ctx context.Context, groupID id.GroupID) (*group.Group, error)
	InsertEvent(ctx context.Context, e *event.Event) error
	// UpdateAccount writes balance, policy and timestamps. History is
	// written through AppendEntries.
	UpdateAccount(ctx context.Context, a *credit.Account) error
	AppendEntries(ctx context.Context, userID id.UserID, entries []credit.Entry) error
}

// TxFunc is the body of a transaction. Returning an error rolls back every
// write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the unified storage interface for all passbook entities.
type Store interface {
	credit.Store
	group.Store
	event.Store

	// RunInTx runs fn atomically. fn may be retried by drivers that resolve
	// write conflicts by retrying, so it must not have external side effects.
	RunInTx(ctx context.Context, fn TxFunc) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
