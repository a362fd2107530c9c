package audithook

// Action constants for audit events.
const (
	// Publishing actions
	ActionEventPublished  = "event.published"
	ActionPublishRejected = "event.publish_rejected"
	ActionEventsHidden    = "event.hidden"
	ActionEventsRestored  = "event.restored"

	// Credit actions
	ActionCreditsDebited     = "credits.debited"
	ActionCreditsReplenished = "credits.replenished"
	ActionLowBalance         = "credits.low_balance"

	// Subscription actions
	ActionSubscriptionExpired = "subscription.expired"
	ActionSubscriptionRenewed = "subscription.renewed"
	ActionSubscriptionUpdated = "subscription.updated"

	// Retention actions
	ActionGroupSwept     = "group.swept"
	ActionSweepCompleted = "retention.sweep_completed"
)

// Resource constants for audit events.
const (
	ResourceEvent     = "event"
	ResourceAccount   = "account"
	ResourceGroup     = "group"
	ResourceRetention = "retention"
)

// Category constants for audit events.
const (
	CategoryPublishing   = "publishing"
	CategoryCredits      = "credits"
	CategorySubscription = "subscription"
	CategoryRetention    = "retention"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
