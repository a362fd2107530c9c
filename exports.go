package passbook

import (
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/subscription"
	"github.com/xraph/passbook/types"
)

// Re-export common types for convenience so callers rarely need the
// sub-packages.

// Entity is re-exported from types package.
type Entity = types.Entity

// Draft is re-exported from event package.
type Draft = event.Draft

// Status is re-exported from subscription package.
type Status = subscription.Status

// Replenishment is re-exported from credit package.
type Replenishment = credit.Replenishment

// Re-export subscription statuses.
const (
	StatusActive   = subscription.StatusActive
	StatusTrialing = subscription.StatusTrialing
	StatusPastDue  = subscription.StatusPastDue
	StatusCanceled = subscription.StatusCanceled
	StatusNone     = subscription.StatusNone
)
