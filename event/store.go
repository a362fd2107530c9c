package event

import (
	"context"

	"github.com/xraph/passbook/id"
)

// Store persists events. Publishing inserts through the transactional store
// so the debit and the insert commit together; these methods serve the
// cascade and the sweeper.
type Store interface {
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)
	ListEventsByGroup(ctx context.Context, groupID id.GroupID) ([]*Event, error)
	UpdateEventVisibility(ctx context.Context, updates []VisibilityUpdate) error
	DeleteEvents(ctx context.Context, eventIDs []id.EventID) error
}
