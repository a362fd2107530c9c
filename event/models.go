// Package event defines published events and the visibility cascade run
// when a group's subscription changes.
package event

import (
	"time"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/types"
)

// Event is content published under a group. Visibility fields are written by
// the publish path at creation and afterwards only by the subscription cascade.
type Event struct {
	types.Entity
	ID          id.EventID   `json:"id"`
	GroupID     id.GroupID   `json:"group_id"`
	CreatedByID id.UserID    `json:"created_by_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Location    string       `json:"location"`
	HostName    string       `json:"host_name"`
	StartsAt    time.Time    `json:"starts_at"`
	EndsAt      *time.Time   `json:"ends_at,omitempty"`
	IsVisible   bool         `json:"is_visible"`
	Hidden      HiddenReason `json:"hidden_reason"`
	HiddenAt    *time.Time   `json:"hidden_at,omitempty"`
}

// Hide marks the event hidden for reason at now.
func (e *Event) Hide(reason HiddenReason, now time.Time) {
	now = now.UTC()
	e.IsVisible = false
	e.Hidden = reason
	e.HiddenAt = &now
}

// Restore makes the event visible and clears the hide fields.
func (e *Event) Restore() {
	e.IsVisible = true
	e.Hidden = HiddenReason{}
	e.HiddenAt = nil
}

// VisibilityUpdate is one event's visibility write produced by the cascade.
type VisibilityUpdate struct {
	EventID   id.EventID
	IsVisible bool
	Hidden    HiddenReason
	HiddenAt  *time.Time
}

// HideUpdate builds the write that hides an event for the subscription.
func HideUpdate(eventID id.EventID, now time.Time) VisibilityUpdate {
	now = now.UTC()
	return VisibilityUpdate{
		EventID:   eventID,
		IsVisible: false,
		Hidden:    SubscriptionExpired,
		HiddenAt:  &now,
	}
}

// RestoreUpdate builds the write that restores a subscription-hidden event.
func RestoreUpdate(eventID id.EventID) VisibilityUpdate {
	return VisibilityUpdate{EventID: eventID, IsVisible: true}
}
