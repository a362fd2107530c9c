package passbook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

// SyncResult summarizes a SyncSubscription call.
type SyncResult struct {
	// Synced is false when the call was skipped: no store, no user id, or
	// a store that is closed.
	Synced   bool `json:"synced"`
	Groups   int  `json:"groups"`
	Hidden   int  `json:"hidden"`
	Restored int  `json:"restored"`
}

// SyncSubscription applies a billing notification for userID to every group
// the user owns, then hides or restores those groups' events.
//
// Group writes are committed first, in batches, and the event cascade runs
// afterwards one group at a time. Repeating the same notification is a no-op.
func (e *Engine) SyncSubscription(ctx context.Context, userID string, status subscription.Status, renewalDate *time.Time) (SyncResult, error) {
	userID = strings.TrimSpace(userID)
	if e.store == nil || userID == "" {
		e.logger.Warn("subscription sync skipped",
			"user_id", userID,
			"store", e.store != nil,
		)
		return SyncResult{}, nil
	}

	owner, err := id.ParseUserID(userID)
	if err != nil {
		return SyncResult{}, ValidationError{Field: "user_id", Message: "is not a valid user id"}
	}

	status = subscription.Normalize(string(status))
	if status == "" {
		return SyncResult{}, ValidationError{Field: "status", Message: "is required"}
	}
	now := e.now()

	res, err := e.sync(ctx, owner, status, renewalDate, now)
	if err != nil {
		if errors.Is(err, ErrStoreClosed) {
			e.logger.Warn("subscription sync skipped: store closed", "user_id", owner)
			return SyncResult{}, nil
		}
		e.logger.Error("subscription sync failed",
			"user_id", owner,
			"status", status,
			"error", err,
		)
		return res, err
	}

	res.Synced = true
	e.logger.Info("subscription synced",
		"user_id", owner,
		"status", status,
		"groups", res.Groups,
		"hidden", res.Hidden,
		"restored", res.Restored,
	)
	return res, nil
}

func (e *Engine) sync(ctx context.Context, owner id.UserID, status subscription.Status, renewalDate *time.Time, now time.Time) (SyncResult, error) {
	var res SyncResult

	groups, err := e.store.ListGroupsByOwner(ctx, owner)
	if err != nil {
		return res, fmt.Errorf("list groups of %s: %w", owner, err)
	}
	if len(groups) == 0 {
		return res, nil
	}

	var renewsAt *time.Time
	if renewalDate != nil && !renewalDate.IsZero() {
		r := renewalDate.UTC()
		renewsAt = &r
	}

	// Pass 1: subscription fields.
	updates := make([]group.SubscriptionUpdate, 0, len(groups))
	changes := make([]subscription.Change, 0, len(groups))
	for _, g := range groups {
		change := subscription.Transition(g.Subscription.Status, status, g.Subscription.ExpiredAt, now)
		state := change.Apply(g.Subscription)
		state.RenewsAt = renewsAt

		updates = append(updates, group.SubscriptionUpdate{GroupID: g.ID, State: state})
		changes = append(changes, change)
	}

	for batch := range slices.Chunk(updates, e.batchSize) {
		if err := e.store.UpdateGroupSubscriptions(ctx, batch); err != nil {
			return res, fmt.Errorf("update group subscriptions: %w", err)
		}
	}
	for i, g := range groups {
		e.plugins.EmitSubscriptionTransitioned(ctx, g.ID, g.Subscription.Status, changes[i])
	}
	res.Groups = len(groups)

	// Pass 2: event visibility, one group at a time.
	for _, u := range updates {
		hidden, restored, err := e.cascade(ctx, u.GroupID, u.State, now)
		if err != nil {
			return res, err
		}
		res.Hidden += hidden
		res.Restored += restored
	}
	return res, nil
}

// cascade hides or restores one group's events for its new state.
func (e *Engine) cascade(ctx context.Context, groupID id.GroupID, state subscription.State, now time.Time) (hidden, restored int, err error) {
	events, err := e.store.ListEventsByGroup(ctx, groupID)
	if err != nil {
		return 0, 0, fmt.Errorf("list events of %s: %w", groupID, err)
	}

	plan := event.Cascade(events, state.ExpiredAt, state.Inactive(), now)
	if plan.Empty() {
		return 0, 0, nil
	}

	for batch := range slices.Chunk(plan.Updates(now), e.batchSize) {
		if err := e.store.UpdateEventVisibility(ctx, batch); err != nil {
			return 0, 0, fmt.Errorf("update visibility of %s: %w", groupID, err)
		}
	}

	if len(plan.ToHide) > 0 {
		e.plugins.EmitEventsHidden(ctx, groupID, plan.ToHide)
	}
	if len(plan.ToRestore) > 0 {
		e.plugins.EmitEventsRestored(ctx, groupID, plan.ToRestore)
	}

	e.logger.Debug("visibility cascade applied",
		"group_id", groupID,
		"hidden", len(plan.ToHide),
		"restored", len(plan.ToRestore),
	)
	return len(plan.ToHide), len(plan.ToRestore), nil
}
