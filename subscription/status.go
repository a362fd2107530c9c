// Package subscription classifies group subscription statuses and computes
// the lifecycle fields written on every status change.
package subscription

import "strings"

// Status is the subscription status reported by the billing collaborator.
// Values outside the known set are accepted and classify as active.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
	StatusNone     Status = "none"
)

// InactiveStatuses lists every status that hides new content and makes a
// group eligible for retention cleanup.
var InactiveStatuses = []Status{StatusPastDue, StatusCanceled, StatusNone}

// Normalize lowercases and trims a raw status string.
func Normalize(raw string) Status {
	return Status(strings.ToLower(strings.TrimSpace(raw)))
}

// IsInactive reports whether s hides content. trialing is active here even
// though it cannot create groups; see CanCreateGroup.
func (s Status) IsInactive() bool {
	switch s {
	case StatusPastDue, StatusCanceled, StatusNone:
		return true
	default:
		return false
	}
}

// IsProvisioned reports whether a status was ever assigned.
func (s Status) IsProvisioned() bool {
	return s != ""
}

// CanCreateGroup reports whether a new group may be created under s.
// Only a fully active subscription qualifies.
func CanCreateGroup(s Status) bool {
	return s == StatusActive
}

func (s Status) String() string { return string(s) }
