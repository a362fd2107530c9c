package event

import "strings"

type reasonKind uint8

const (
	kindNone reasonKind = iota
	kindSubscriptionExpired
	kindOther
)

const (
	subscriptionExpiredText = "subscription_expired"
	manualPrefix            = "manual:"
)

// HiddenReason explains why an event is hidden. The zero value means the
// event is not hidden. Only SubscriptionExpired is ever restored by the
// subscription cascade; reasons built with Other belong to moderation.
type HiddenReason struct {
	kind reasonKind
	text string
}

// SubscriptionExpired is the reason written when a group's subscription lapses.
var SubscriptionExpired = HiddenReason{kind: kindSubscriptionExpired, text: subscriptionExpiredText}

// Other returns a moderation reason. A reason that collides with the
// subscription marker is stored with a "manual:" prefix so it can never be
// mistaken for a cascade hide.
func Other(reason string) HiddenReason {
	reason = strings.TrimSpace(reason)
	switch reason {
	case "":
		reason = strings.TrimSuffix(manualPrefix, ":")
	case subscriptionExpiredText:
		reason = manualPrefix + reason
	}
	return HiddenReason{kind: kindOther, text: reason}
}

// ParseHiddenReason decodes a persisted reason.
func ParseHiddenReason(s string) HiddenReason {
	switch s {
	case "":
		return HiddenReason{}
	case subscriptionExpiredText:
		return SubscriptionExpired
	default:
		return HiddenReason{kind: kindOther, text: s}
	}
}

// IsZero reports whether no reason is set.
func (r HiddenReason) IsZero() bool { return r.kind == kindNone }

// IsSubscriptionExpired reports whether r is the cascade's reserved reason.
func (r HiddenReason) IsSubscriptionExpired() bool { return r.kind == kindSubscriptionExpired }

// IsOther reports whether r is a moderation reason.
func (r HiddenReason) IsOther() bool { return r.kind == kindOther }

// String returns the persisted form.
func (r HiddenReason) String() string { return r.text }

// MarshalText implements encoding.TextMarshaler.
func (r HiddenReason) MarshalText() ([]byte, error) {
	return []byte(r.text), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *HiddenReason) UnmarshalText(data []byte) error {
	*r = ParseHiddenReason(string(data))
	return nil
}
