package group

import (
	"context"
	"time"

	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/subscription"
)

type Store interface {
	CreateGroup(ctx context.Context, g *Group) error
	GetGroup(ctx context.Context, groupID id.GroupID) (*Group, error)
	ListGroupsByOwner(ctx context.Context, ownerID id.UserID) ([]*Group, error)
	// ListGroupsExpiredBefore returns groups in status whose subscription
	// expired at or before cutoff.
	ListGroupsExpiredBefore(ctx context.Context, status subscription.Status, cutoff time.Time) ([]*Group, error)
	UpdateGroupSubscriptions(ctx context.Context, updates []SubscriptionUpdate) error
	DeleteGroup(ctx context.Context, groupID id.GroupID) error
}
