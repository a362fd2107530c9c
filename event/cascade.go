package event

import (
	"time"

	"github.com/xraph/passbook/id"
)

// CascadeResult lists the events whose visibility must change after a
// subscription transition. The two lists never share an id.
type CascadeResult struct {
	ToHide    []id.EventID
	ToRestore []id.EventID
}

// Empty reports whether there is nothing to write.
func (r CascadeResult) Empty() bool {
	return len(r.ToHide) == 0 && len(r.ToRestore) == 0
}

// Cascade decides which of a group's events to hide or restore.
//
// When the group is inactive, events created at or after the expiry boundary
// (expiredAt, or now when no expiry is recorded) that carry no hidden reason
// are hidden. Older events and events already hidden for any reason are left
// alone. When the group is active, only events hidden with
// SubscriptionExpired are restored.
func Cascade(events []*Event, expiredAt *time.Time, inactive bool, now time.Time) CascadeResult {
	var res CascadeResult

	if inactive {
		boundary := now
		if expiredAt != nil {
			boundary = *expiredAt
		}
		for _, e := range events {
			if e == nil || !e.Hidden.IsZero() {
				continue
			}
			if e.CreatedAt.Before(boundary) {
				continue
			}
			res.ToHide = append(res.ToHide, e.ID)
		}
		return res
	}

	for _, e := range events {
		if e != nil && e.Hidden.IsSubscriptionExpired() {
			res.ToRestore = append(res.ToRestore, e.ID)
		}
	}
	return res
}

// Updates expands a cascade result into visibility writes stamped with now.
func (r CascadeResult) Updates(now time.Time) []VisibilityUpdate {
	if r.Empty() {
		return nil
	}
	out := make([]VisibilityUpdate, 0, len(r.ToHide)+len(r.ToRestore))
	for _, eid := range r.ToHide {
		out = append(out, HideUpdate(eid, now))
	}
	for _, eid := range r.ToRestore {
		out = append(out, RestoreUpdate(eid))
	}
	return out
}
