package store

import (
	"context"

	"relaypoint/internal/types"
)

// AuditRepository provides the write path for the security_events and
// admin_audit_log tables. Both are append-only.
type AuditRepository struct {
	db DBTX
}

// NewAuditRepository creates an AuditRepository backed by the given database
// connection (pool or transaction).
func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// LogSecurityEvent records an abuse-mitigation event (rate limit trip, daily
// cap trip) with the observed count and the action taken.
func (r *AuditRepository) LogSecurityEvent(ctx context.Context, eventType, identifier string, count int, action string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO security_events (event_type, identifier, observed_count, action_taken, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		eventType,
		nilIfEmpty(identifier),
		count,
		nilIfEmpty(action),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to log security event", err)
	}
	return nil
}

// LogAdminAction records a privileged callable invocation: who did what to
// which target, and the outcome.
func (r *AuditRepository) LogAdminAction(ctx context.Context, actorUID, action, target, outcome string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO admin_audit_log (actor_uid, action, target, outcome, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		actorUID,
		action,
		nilIfEmpty(target),
		nilIfEmpty(outcome),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to log admin action", err)
	}
	return nil
}
