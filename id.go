package passbook

import "github.com/xraph/passbook/id"

// ID is the primary identifier type for all Passbook entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Re-export ID parsers for callers that receive raw strings.
var (
	ParseUserID  = id.ParseUserID
	ParseGroupID = id.ParseGroupID
	ParseEventID = id.ParseEventID
)
