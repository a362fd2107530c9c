package credit

import (
	"context"

	"github.com/xraph/passbook/id"
)

// Store persists credit accounts outside of the publish transaction.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	// GetAccount returns the account with its full history, oldest first.
	GetAccount(ctx context.Context, userID id.UserID) (*Account, error)
}
