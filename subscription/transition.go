package subscription

import "time"

// State is the set of subscription fields stored on a group.
type State struct {
	Status    Status     `json:"status"`
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
	RenewedAt *time.Time `json:"renewed_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	RenewsAt  *time.Time `json:"renews_at,omitempty"`
}

// Inactive reports whether the state hides content.
func (s State) Inactive() bool { return s.Status.IsInactive() }

// Change is the output of Transition. RenewedAtSet is false when the
// classification did not change and RenewedAt must be left untouched.
type Change struct {
	Status       Status
	ExpiredAt    *time.Time
	RenewedAt    *time.Time
	RenewedAtSet bool
	UpdatedAt    time.Time
}

// Crossed reports whether the change moved across the active/inactive boundary.
func (c Change) Crossed() bool { return c.RenewedAtSet }

// Apply folds the change into a stored state.
func (c Change) Apply(s State) State {
	s.Status = c.Status
	s.ExpiredAt = c.ExpiredAt
	if c.RenewedAtSet {
		s.RenewedAt = c.RenewedAt
	}
	updated := c.UpdatedAt
	s.UpdatedAt = &updated
	return s
}

// Transition computes the fields written when a group moves from current to
// next. It is pure and deterministic.
//
//   - active -> inactive: ExpiredAt = now, RenewedAt cleared
//   - inactive -> active: ExpiredAt cleared, RenewedAt = now
//   - same classification: ExpiredAt preserved (as UTC), RenewedAt untouched
//
// UpdatedAt is always now.
func Transition(current, next Status, currentExpiredAt *time.Time, now time.Time) Change {
	now = now.UTC()
	c := Change{Status: next, UpdatedAt: now}

	wasInactive := current.IsInactive()
	isInactive := next.IsInactive()

	switch {
	case !wasInactive && isInactive:
		expired := now
		c.ExpiredAt = &expired
		c.RenewedAt = nil
		c.RenewedAtSet = true
	case wasInactive && !isInactive:
		renewed := now
		c.ExpiredAt = nil
		c.RenewedAt = &renewed
		c.RenewedAtSet = true
	default:
		c.ExpiredAt = normalize(currentExpiredAt)
	}
	return c
}

func normalize(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
