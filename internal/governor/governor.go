// Package governor gates notification dispatch: idempotency against upstream
// event redelivery, per-recipient cooldowns, daily volume caps, and the
// public-intake burst guard. Admission yields a capability token; the dedup
// marker is only persisted when the downstream send actually succeeds, so
// failed sends stay retryable.
package governor

import (
	"context"
	"time"

	"relaypoint/internal/types"
)

// RejectReason categorizes a governance rejection. Rejections are expected
// control flow, not errors: the request is marked cancelled, nothing alerts.
type RejectReason string

const (
	ReasonAlreadyProcessed RejectReason = "already_processed"
	ReasonCooldown         RejectReason = "cooldown"
	ReasonVolumeExceeded   RejectReason = "volume_exceeded"
)

// Token is the capability returned on admission. The outcome recorder
// requires a Token to persist a dedup marker; only the governor constructs
// them, so a marker can never be written for an unadmitted event.
type Token struct {
	eventID      string
	kind         types.NotificationKind
	recipientKey string
}

// Marker materializes the dedup marker this token authorizes.
func (t *Token) Marker(processedAt time.Time) types.DedupMarker {
	return types.DedupMarker{
		EventID:      t.eventID,
		Kind:         t.kind,
		RecipientKey: t.recipientKey,
		ProcessedAt:  processedAt,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted bool
	Reason   RejectReason
	Token    *Token
}

// MarkerStore reads the dedup marker collection.
type MarkerStore interface {
	MarkerExists(ctx context.Context, eventID string) (bool, error)
}

// HistoryStore reads the persisted delivery history and request collections
// for cooldown and volume decisions.
type HistoryStore interface {
	// LastSuccessfulSend returns the most recent successful send of the
	// given kind to the recipient, if any.
	LastSuccessfulSend(ctx context.Context, recipientKey string, kind types.NotificationKind) (time.Time, bool, error)

	// CountCreatedSince counts requests created for the recipient since the
	// given instant, regardless of status. Counting created requests (not
	// just successes) bounds queue growth.
	CountCreatedSince(ctx context.Context, recipientKey string, since time.Time) (int, error)
}

// IntakeStore provides the burst-guard view over a public-intake collection.
type IntakeStore interface {
	// CountFromSourceSince counts intake records from one logical source
	// within the window.
	CountFromSourceSince(ctx context.Context, collection, sourceKey string, since time.Time) (int, error)

	// DeleteRecord removes a quarantined intake record.
	DeleteRecord(ctx context.Context, collection, recordID string) error
}

// SecurityLogger appends abuse-mitigation events to the security log
// collection.
type SecurityLogger interface {
	LogSecurityEvent(ctx context.Context, eventType, identifier string, count int, action string) error
}

// Config holds the governor's ceilings.
type Config struct {
	// DailyMailCap is the per-recipient calendar-day ceiling on created
	// mail requests. Zero disables the cap.
	DailyMailCap int

	// CooldownWindow applies to kinds listed in CooldownKinds.
	CooldownWindow time.Duration

	// CooldownKinds designates the kinds subject to the cooldown rule.
	CooldownKinds map[types.NotificationKind]bool
}

// DefaultCooldownKinds returns the kinds that may legitimately recur across
// different upstream events but must not repeat within the window.
func DefaultCooldownKinds() map[types.NotificationKind]bool {
	return map[types.NotificationKind]bool{
		types.KindPaymentFailed: true,
	}
}

// Governor is the production admission gate.
type Governor struct {
	markers  MarkerStore
	history  HistoryStore
	intake   IntakeStore
	security SecurityLogger
	cfg      Config
	clock    types.Clock
	logger   types.Logger
}

// New creates a Governor.
func New(markers MarkerStore, history HistoryStore, intake IntakeStore, security SecurityLogger, cfg Config, clock types.Clock, logger types.Logger) *Governor {
	return &Governor{
		markers:  markers,
		history:  history,
		intake:   intake,
		security: security,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// AdmitRequest identifies the event/recipient/kind tuple under decision.
type AdmitRequest struct {
	EventID      string
	Kind         types.NotificationKind
	RecipientKey string
	Channel      types.Channel
}

// Admit applies the governance rules in order: idempotency, cooldown,
// volume cap. On admission it returns a Decision carrying the capability
// token for eventual marker persistence.
//
// Idempotency-store failures propagate (the guarantee is not negotiable);
// cooldown and volume check failures fail open with a warning, matching the
// intent that a lost notification is worse than a rare duplicate.
func (g *Governor) Admit(ctx context.Context, req AdmitRequest) (Decision, error) {
	now := g.clock.Now()

	// Rule 1: idempotency. Guards against duplicate delivery of the same
	// upstream event (e.g. webhook retries).
	if req.EventID != "" {
		exists, err := g.markers.MarkerExists(ctx, req.EventID)
		if err != nil {
			return Decision{}, types.NewAppError(types.ErrCodeInternalStore, "marker lookup failed", err)
		}
		if exists {
			return Decision{Reason: ReasonAlreadyProcessed}, nil
		}
	}

	// Rule 2: kind-specific cooldown, evaluated against delivery history
	// because the same kind can legitimately recur across different events.
	if g.cfg.CooldownKinds[req.Kind] && req.RecipientKey != "" {
		last, found, err := g.history.LastSuccessfulSend(ctx, req.RecipientKey, req.Kind)
		if err != nil {
			g.logger.Warn("cooldown check failed, admitting",
				"kind", string(req.Kind),
				"error", err.Error(),
			)
		} else if found && now.Sub(last) < g.cfg.CooldownWindow {
			return Decision{Reason: ReasonCooldown}, nil
		}
	}

	// Rule 3: daily volume cap for recipient-addressed channels. The count
	// includes the request under decision (already persisted by the
	// trigger), so exceeding means this request is past the ceiling.
	if req.Channel == types.ChannelEmail && g.cfg.DailyMailCap > 0 && req.RecipientKey != "" {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		count, err := g.history.CountCreatedSince(ctx, req.RecipientKey, dayStart)
		if err != nil {
			g.logger.Warn("volume cap check failed, admitting",
				"recipient", req.RecipientKey,
				"error", err.Error(),
			)
		} else if count > g.cfg.DailyMailCap {
			g.logger.Warn("daily mail cap exceeded",
				"recipient", req.RecipientKey,
				"count", count,
			)
			if logErr := g.security.LogSecurityEvent(ctx, "daily_limit_exceeded", req.RecipientKey, count, "request_cancelled"); logErr != nil {
				g.logger.Error("security log write failed", "error", logErr.Error())
			}
			return Decision{Reason: ReasonVolumeExceeded}, nil
		}
	}

	return Decision{
		Admitted: true,
		Token: &Token{
			eventID:      req.EventID,
			kind:         req.Kind,
			recipientKey: req.RecipientKey,
		},
	}, nil
}

// AdmitIntake applies the source burst guard to a newly created
// public-intake record: if more than cap records from the same logical
// source exist within the rolling window, the offending record is deleted
// (quarantined) and a security event is logged.
//
// Returns false when the record was quarantined. This rule is independent
// of the per-recipient caps above.
func (g *Governor) AdmitIntake(ctx context.Context, collection, sourceKey, recordID string, cap int, window time.Duration) (bool, error) {
	since := g.clock.Now().Add(-window)

	count, err := g.intake.CountFromSourceSince(ctx, collection, sourceKey, since)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStore, "intake burst count failed", err)
	}

	if count <= cap {
		return true, nil
	}

	g.logger.Warn("intake burst cap exceeded, quarantining record",
		"collection", collection,
		"source", sourceKey,
		"count", count,
	)

	if err := g.intake.DeleteRecord(ctx, collection, recordID); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStore, "intake record quarantine failed", err)
	}

	if logErr := g.security.LogSecurityEvent(ctx, "rate_limit_exceeded", sourceKey, count, "record_deleted"); logErr != nil {
		g.logger.Error("security log write failed", "error", logErr.Error())
	}

	return false, nil
}
