// Package audithook bridges Passbook lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import any
// audit backend directly. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/passbook"
	"github.com/xraph/passbook/credit"
	"github.com/xraph/passbook/event"
	"github.com/xraph/passbook/id"
	"github.com/xraph/passbook/plugin"
	"github.com/xraph/passbook/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnEventPublished           = (*Extension)(nil)
	_ plugin.OnPublishRejected          = (*Extension)(nil)
	_ plugin.OnCreditsDebited           = (*Extension)(nil)
	_ plugin.OnCreditsReplenished       = (*Extension)(nil)
	_ plugin.OnLowBalance               = (*Extension)(nil)
	_ plugin.OnSubscriptionTransitioned = (*Extension)(nil)
	_ plugin.OnEventsHidden             = (*Extension)(nil)
	_ plugin.OnEventsRestored           = (*Extension)(nil)
	_ plugin.OnGroupSwept               = (*Extension)(nil)
	_ plugin.OnSweepCompleted           = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Passbook lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Publishing hooks
// ──────────────────────────────────────────────────

// OnEventPublished implements plugin.OnEventPublished.
func (e *Extension) OnEventPublished(ctx context.Context, evt *event.Event, balance int64) error {
	return e.record(ctx, ActionEventPublished, SeverityInfo, OutcomeSuccess,
		ResourceEvent, evt.ID.String(), CategoryPublishing, nil,
		"group_id", evt.GroupID.String(),
		"created_by", evt.CreatedByID.String(),
		"visible", evt.IsVisible,
		"hidden_reason", evt.Hidden.String(),
		"balance", balance,
	)
}

// OnPublishRejected implements plugin.OnPublishRejected. Caller errors are
// warnings; anything else is an error.
func (e *Extension) OnPublishRejected(ctx context.Context, userID, groupID string, err error) error {
	severity := SeverityError
	if passbook.IsCallerError(err) {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionPublishRejected, severity, OutcomeFailure,
		ResourceGroup, groupID, CategoryPublishing, err,
		"user_id", userID,
		"code", passbook.Code(err),
	)
}

// OnEventsHidden implements plugin.OnEventsHidden.
func (e *Extension) OnEventsHidden(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) error {
	return e.record(ctx, ActionEventsHidden, SeverityInfo, OutcomeSuccess,
		ResourceGroup, groupID.String(), CategoryPublishing, nil,
		"count", len(eventIDs),
		"event_ids", idStrings(eventIDs),
	)
}

// OnEventsRestored implements plugin.OnEventsRestored.
func (e *Extension) OnEventsRestored(ctx context.Context, groupID id.GroupID, eventIDs []id.EventID) error {
	return e.record(ctx, ActionEventsRestored, SeverityInfo, OutcomeSuccess,
		ResourceGroup, groupID.String(), CategoryPublishing, nil,
		"count", len(eventIDs),
		"event_ids", idStrings(eventIDs),
	)
}

// ──────────────────────────────────────────────────
// Credit hooks
// ──────────────────────────────────────────────────

// OnCreditsDebited implements plugin.OnCreditsDebited.
func (e *Extension) OnCreditsDebited(ctx context.Context, userID id.UserID, entry credit.Entry) error {
	return e.record(ctx, ActionCreditsDebited, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID.String(), CategoryCredits, nil,
		"entry_id", entry.ID.String(),
		"amount", entry.Amount,
		"balance_after", entry.BalanceAfter,
	)
}

// OnCreditsReplenished implements plugin.OnCreditsReplenished.
func (e *Extension) OnCreditsReplenished(ctx context.Context, userID id.UserID, bundle credit.Bundle, entry credit.Entry) error {
	return e.record(ctx, ActionCreditsReplenished, SeverityInfo, OutcomeSuccess,
		ResourceAccount, userID.String(), CategoryCredits, nil,
		"bundle_id", bundle.ID,
		"credits", bundle.Credits,
		"balance_after", entry.BalanceAfter,
	)
}

// OnLowBalance implements plugin.OnLowBalance.
func (e *Extension) OnLowBalance(ctx context.Context, userID id.UserID, balance, threshold int64) error {
	return e.record(ctx, ActionLowBalance, SeverityWarning, OutcomeSuccess,
		ResourceAccount, userID.String(), CategoryCredits, nil,
		"balance", balance,
		"threshold", threshold,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionTransitioned implements plugin.OnSubscriptionTransitioned.
// Crossing into an inactive status is recorded as an expiry, crossing back as
// a renewal, anything else as an update.
func (e *Extension) OnSubscriptionTransitioned(ctx context.Context, groupID id.GroupID, from subscription.Status, change subscription.Change) error {
	action, severity := ActionSubscriptionUpdated, SeverityInfo
	if change.Crossed() {
		if change.Status.IsInactive() {
			action, severity = ActionSubscriptionExpired, SeverityWarning
		} else {
			action = ActionSubscriptionRenewed
		}
	}
	return e.record(ctx, action, severity, OutcomeSuccess,
		ResourceGroup, groupID.String(), CategorySubscription, nil,
		"from", string(from),
		"to", string(change.Status),
	)
}

// ──────────────────────────────────────────────────
// Retention hooks
// ──────────────────────────────────────────────────

// OnGroupSwept implements plugin.OnGroupSwept.
func (e *Extension) OnGroupSwept(ctx context.Context, groupID id.GroupID, events int) error {
	return e.record(ctx, ActionGroupSwept, SeverityWarning, OutcomeSuccess,
		ResourceGroup, groupID.String(), CategoryRetention, nil,
		"events_deleted", events,
	)
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (e *Extension) OnSweepCompleted(ctx context.Context, groups, events int, elapsed time.Duration) error {
	return e.record(ctx, ActionSweepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRetention, "", CategoryRetention, nil,
		"groups", groups,
		"events", events,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func idStrings(ids []id.EventID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
