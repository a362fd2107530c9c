package passbook

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// OpenAccount creates the credit account of userID with an initial balance
// and an optional replenishment policy.
func (e *Engine) OpenAccount(ctx context.Context, userID id.UserID, balance int64, policy *credit.Replenishment) (*credit.Account, error) {
	if e.store == nil {
		return nil, ErrStoreUnavailable
	}
	if userID.IsNil() || userID.Prefix() != id.PrefixUser {
		return nil, ValidationError{Field: "user_id", Message: "is not a valid user id"}
	}
	if balance < 0 {
		return nil, ValidationError{Field: "balance", Message: "must not be negative"}
	}
	if policy != nil {
		if err := policy.Validate(); err != nil {
			return nil, ValidationError{Field: "replenishment", Message: err.Error()}
		}
	}

	now := e.now()
	a := &credit.Account{
		Entity:        types.NewEntity(now),
		UserID:        userID,
		Balance:       balance,
		Replenishment: policy,
		LastUpdatedAt: &now,
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	e.logger.Info("account opened",
		"user_id", userID,
		"balance", balance,
	)
	return a, nil
}

// Account returns the account of userID with its full ledger history.
func (e *Engine) Account(ctx context.Context, userID id.UserID) (*credit.Account, error) {
	if e.store == nil {
		return nil, ErrStoreUnavailable
	}
	return e.store.GetAccount(ctx, userID)
}

// SetReplenishment replaces the low-balance policy of an account. A nil
// policy disables replenishment.
func (e *Engine) SetReplenishment(ctx context.Context, userID id.UserID, policy *credit.Replenishment) error {
	if e.store == nil {
		return ErrStoreUnavailable
	}
	if policy != nil {
		if err := policy.Validate(); err != nil {
			return ValidationError{Field: "replenishment", Message: err.Error()}
		}
	}

	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}
		now := e.now()
		a.Replenishment = policy
		a.LastUpdatedAt = &now
		a.Touch(now)
		return tx.UpdateAccount(ctx, a)
	})
	if err != nil {
		return fmt.Errorf("set replenishment for %s: %w", userID, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Group Management
// ──────────────────────────────────────────────────

// CreateGroup creates a group. Only an active subscription may create one;
// trialing subscriptions publish but cannot create groups.
func (e *Engine) CreateGroup(ctx context.Context, g *group.Group) error {
	if e.store == nil {
		return ErrStoreUnavailable
	}
	if g.OwnerID.IsNil() || g.OwnerID.Prefix() != id.PrefixUser {
		return ValidationError{Field: "owner_id", Message: "is not a valid user id"}
	}
	g.Subscription.Status = subscription.Normalize(string(g.Subscription.Status))
	if !subscription.CanCreateGroup(g.Subscription.Status) {
		return fmt.Errorf("%w: status %q cannot create groups", ErrSubscriptionInactive, g.Subscription.Status)
	}

	if g.ID.IsNil() {
		g.ID = id.NewGroupID()
	}
	now := e.now()
	g.Entity = types.NewEntity(now)
	if g.Subscription.UpdatedAt == nil {
		g.Subscription.UpdatedAt = &now
	}

	if err := e.store.CreateGroup(ctx, g); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("create group: %w", err)
	}

	e.logger.Info("group created",
		"group_id", g.ID,
		"owner_id", g.OwnerID,
		"organizers", len(g.OrganizerIDs),
	)
	return nil
}

// Group returns a group by id.
func (e *Engine) Group(ctx context.Context, groupID id.GroupID) (*group.Group, error) {
	if e.store == nil {
		return nil, ErrStoreUnavailable
	}
	return e.store.GetGroup(ctx, groupID)
}
