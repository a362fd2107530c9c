package passbook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/group"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

// SweepResult summarizes a retention sweep.
type SweepResult struct {
	// Swept is false when the store was missing or closed, or when any
	// group failed to delete.
	Swept  bool `json:"swept"`
	Groups int  `json:"groups"`
	Events int  `json:"events"`
}

// Sweep deletes groups whose subscription has been inactive for longer than
// the retention window, together with their events.
func (e *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	return e.SweepAt(ctx, e.now())
}

// SweepAt runs a sweep as of now. Re-running it after a partial failure only
// deletes what is left.
func (e *Engine) SweepAt(ctx context.Context, now time.Time) (SweepResult, error) {
	if e.store == nil {
		e.logger.Warn("retention sweep skipped: no store")
		return SweepResult{}, nil
	}

	start := time.Now()
	cutoff := now.UTC().Add(-e.retentionWindow)

	var (
		res  SweepResult
		errs MultiError
	)
	for _, status := range subscription.InactiveStatuses {
		groups, err := e.store.ListGroupsExpiredBefore(ctx, status, cutoff)
		if err != nil {
			if errors.Is(err, ErrStoreClosed) {
				e.logger.Warn("retention sweep skipped: store closed")
				return SweepResult{}, nil
			}
			errs.Add(fmt.Errorf("list %s groups: %w", status, err))
			continue
		}

		for _, g := range groups {
			if !expiredBefore(g, cutoff) {
				continue
			}
			n, err := e.sweepGroup(ctx, g)
			if err != nil {
				e.logger.Error("failed to sweep group",
					"group_id", g.ID,
					"error", err,
				)
				errs.Add(err)
				continue
			}
			res.Groups++
			res.Events += n
		}
	}

	elapsed := time.Since(start)
	e.plugins.EmitSweepCompleted(ctx, res.Groups, res.Events, elapsed)

	e.logger.Info("retention sweep completed",
		"cutoff", cutoff,
		"groups", res.Groups,
		"events", res.Events,
		"errors", len(errs.Errors),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	res.Swept = !errs.HasErrors()
	return res, errs.ErrorOrNil()
}

// expiredBefore re-checks a listed group before anything is deleted.
func expiredBefore(g *group.Group, cutoff time.Time) bool {
	sub := g.Subscription
	return sub.Inactive() && sub.ExpiredAt != nil && !sub.ExpiredAt.After(cutoff)
}

// sweepGroup deletes a group's events in batches and then the group. Events
// are listed again once the group is gone, since a publish may have landed
// after the first listing.
func (e *Engine) sweepGroup(ctx context.Context, g *group.Group) (int, error) {
	deleted, err := e.deleteGroupEvents(ctx, g.ID)
	if err != nil {
		return deleted, err
	}

	if err := e.store.DeleteGroup(ctx, g.ID); err != nil && !errors.Is(err, ErrGroupNotFound) {
		return deleted, fmt.Errorf("delete group %s: %w", g.ID, err)
	}

	late, err := e.deleteGroupEvents(ctx, g.ID)
	deleted += late
	if err != nil {
		return deleted, err
	}

	e.plugins.EmitGroupSwept(ctx, g.ID, deleted)
	e.logger.Debug("group swept",
		"group_id", g.ID,
		"status", g.Subscription.Status,
		"events", deleted,
		"late_events", late,
	)
	return deleted, nil
}

func (e *Engine) deleteGroupEvents(ctx context.Context, groupID id.GroupID) (int, error) {
	events, err := e.store.ListEventsByGroup(ctx, groupID)
	if err != nil {
		return 0, fmt.Errorf("list events of %s: %w", groupID, err)
	}

	deleted := 0
	for batch := range slices.Chunk(events, e.batchSize) {
		ids := eventIDs(batch)
		if err := e.store.DeleteEvents(ctx, ids); err != nil {
			return deleted, fmt.Errorf("delete events of %s: %w", groupID, err)
		}
		deleted += len(ids)
	}
	return deleted, nil
}

func eventIDs(events []*event.Event) []id.EventID {
	ids := make([]id.EventID, 0, len(events))
	for _, evt := range events {
		ids = append(ids, evt.ID)
	}
	return ids
}

// sweepWorker runs a sweep immediately and then every sweep interval until
// the engine stops.
func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		if _, err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("scheduled retention sweep failed", "error", err)
		}

		select {
		case <-e.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
