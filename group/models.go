// Package group defines groups, their publishing roster and the subscription
// state that gates the visibility of their events.
package group

import (
	"slices"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

type Group struct {
	types.Entity
	ID           id.GroupID         `json:"id"`
	Name         string             `json:"name"`
	OwnerID      id.UserID          `json:"owner_id"`
	OrganizerIDs []id.UserID        `json:"organizer_ids,omitempty"`
	Subscription subscription.State `json:"subscription"`
}

// CanPublish reports whether userID may publish under the group.
func (g *Group) CanPublish(userID id.UserID) bool {
	if userID.IsNil() {
		return false
	}
	if g.OwnerID.String() == userID.String() {
		return true
	}
	return slices.ContainsFunc(g.OrganizerIDs, func(o id.UserID) bool {
		return o.String() == userID.String()
	})
}

// SubscriptionUpdate is one group's subscription write produced by sync.
type SubscriptionUpdate struct {
	GroupID id.GroupID
	State   subscription.State
}
