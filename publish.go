package passbook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/store"
	"github.com/xraph/passbook/types"
)

// PublishResult is returned by a successful PublishEvent.
type PublishResult struct {
	EventID      id.EventID         `json:"event_id"`
	IsVisible    bool               `json:"is_visible"`
	HiddenReason event.HiddenReason `json:"hidden_reason"`
	// NewBalance is the balance after the debit and any automatic top-up.
	NewBalance    int64         `json:"new_balance"`
	Replenishment credit.Action `json:"replenishment"`
}

// publishOutcome carries the committed state out of the transaction.
type publishOutcome struct {
	event     *event.Event
	account   *credit.Account
	debit     credit.Entry
	refill    credit.Outcome
	threshold int64
}

// PublishEvent creates an event under groupID on behalf of userID and debits
// the publish cost from the user's credits in one transaction.
//
// Preconditions are checked in order and each failure maps to a distinct
// error: ErrInvalidInput, ErrMissingGroupAssociation, ErrAccountNotFound,
// ErrUnauthorized, ErrSubscriptionInactive, ErrInsufficientCredits. Any other
// failure is reported as ErrStoreUnavailable. Nothing is written on failure.
//
// Events published under an inactive subscription are created hidden.
func (e *Engine) PublishEvent(ctx context.Context, userID, groupID string, draft event.Draft) (*PublishResult, error) {
	out, err := e.publish(ctx, userID, groupID, draft)
	if err != nil {
		if IsCallerError(err) {
			e.logger.Info("publish rejected",
				"user_id", userID,
				"group_id", groupID,
				"code", Code(err),
				"error", err,
			)
		} else {
			e.logger.Error("publish failed",
				"user_id", userID,
				"group_id", groupID,
				"error", err,
			)
		}
		e.plugins.EmitPublishRejected(ctx, userID, groupID, err)
		return nil, err
	}

	evt, acct := out.event, out.account

	e.plugins.EmitCreditsDebited(ctx, acct.UserID, out.debit)
	switch out.refill.Action {
	case credit.ActionTopUp:
		e.plugins.EmitCreditsReplenished(ctx, acct.UserID, *out.refill.Bundle, *out.refill.Entry)
	case credit.ActionRemind:
		e.plugins.EmitLowBalance(ctx, acct.UserID, acct.Balance, out.threshold)
	case credit.ActionUnknownBundle:
		e.logger.Warn("auto top-up skipped: unknown bundle",
			"user_id", acct.UserID,
			"bundle_id", acct.Replenishment.BundleID,
		)
	}
	e.plugins.EmitEventPublished(ctx, evt, acct.Balance)

	e.logger.Info("event published",
		"event_id", evt.ID,
		"group_id", evt.GroupID,
		"user_id", acct.UserID,
		"visible", evt.IsVisible,
		"balance", acct.Balance,
		"replenishment", out.refill.Action,
	)

	return &PublishResult{
		EventID:       evt.ID,
		IsVisible:     evt.IsVisible,
		HiddenReason:  evt.Hidden,
		NewBalance:    acct.Balance,
		Replenishment: out.refill.Action,
	}, nil
}

func (e *Engine) publish(ctx context.Context, rawUserID, rawGroupID string, draft event.Draft) (*publishOutcome, error) {
	userID, groupID, err := parsePublishIDs(rawUserID, rawGroupID)
	if err != nil {
		return nil, err
	}

	start, end, err := draft.Validate()
	if err != nil {
		var fe *event.FieldError
		if errors.As(err, &fe) {
			return nil, ValidationError{Field: fe.Field, Message: fe.Message}
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if e.store == nil {
		return nil, ErrStoreUnavailable
	}

	var out *publishOutcome
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, userID)
		if err != nil {
			return err
		}

		g, err := tx.GetGroup(ctx, groupID)
		if err != nil {
			if errors.Is(err, ErrGroupNotFound) {
				return fmt.Errorf("%w: group %s does not exist", ErrMissingGroupAssociation, groupID)
			}
			return err
		}

		if !g.CanPublish(userID) {
			return fmt.Errorf("%w: user %s is not an organizer of group %s", ErrUnauthorized, userID, groupID)
		}
		if !g.Subscription.Status.IsProvisioned() {
			return fmt.Errorf("%w: group %s has no subscription", ErrSubscriptionInactive, groupID)
		}
		if acct.Balance < e.publishCost {
			return fmt.Errorf("%w: balance %d, cost %d", ErrInsufficientCredits, acct.Balance, e.publishCost)
		}

		now := e.now()
		evt := &event.Event{
			Entity:      types.NewEntity(now),
			ID:          id.NewEventID(),
			GroupID:     groupID,
			CreatedByID: userID,
			Title:       strings.TrimSpace(draft.Title),
			Description: strings.TrimSpace(draft.Description),
			Location:    strings.TrimSpace(draft.Location),
			HostName:    strings.TrimSpace(draft.HostName),
			StartsAt:    start,
			EndsAt:      end,
			IsVisible:   true,
		}
		if g.Subscription.Inactive() {
			evt.Hide(event.SubscriptionExpired, now)
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}

		// Only entries created by this transaction are appended.
		acct.History = nil
		debit, err := credit.Debit(acct, e.publishCost, "Published event: "+evt.Title, now)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInsufficientCredits, err)
		}
		refill := credit.Replenish(acct, e.bundles, e.reminderCooldown, now)
		acct.Touch(now)

		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		if err := tx.AppendEntries(ctx, userID, acct.History); err != nil {
			return err
		}

		out = &publishOutcome{event: evt, account: acct, debit: debit, refill: refill}
		if acct.Replenishment != nil {
			out.threshold = acct.Replenishment.Threshold
		}
		return nil
	})
	if err != nil {
		if IsCallerError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: publish: %w", ErrStoreUnavailable, err)
	}
	return out, nil
}

func parsePublishIDs(rawUserID, rawGroupID string) (id.UserID, id.GroupID, error) {
	rawUserID = strings.TrimSpace(rawUserID)
	rawGroupID = strings.TrimSpace(rawGroupID)

	if rawUserID == "" {
		return id.Nil, id.Nil, ValidationError{Field: "user_id", Message: "is required"}
	}
	userID, err := id.ParseUserID(rawUserID)
	if err != nil {
		return id.Nil, id.Nil, ValidationError{Field: "user_id", Message: "is not a valid user id"}
	}

	if rawGroupID == "" {
		return id.Nil, id.Nil, fmt.Errorf("%w: group id is required", ErrMissingGroupAssociation)
	}
	groupID, err := id.ParseGroupID(rawGroupID)
	if err != nil {
		return id.Nil, id.Nil, ValidationError{Field: "group_id", Message: "is not a valid group id"}
	}
	return userID, groupID, nil
}
