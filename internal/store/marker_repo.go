package store

import (
	"context"
	"time"

	"relaypoint/internal/types"
)

// MarkerRepository provides data access for the dedup_markers and
// reminder_markers tables. Event markers are keyed by upstream event ID;
// reminder markers are keyed (user, product, date) for one-per-day semantics.
//
// Dedup markers are append-only: once written they are never updated or
// deleted, so a redelivered upstream event stays deduplicated no matter how
// late it arrives. Only date-scoped reminder markers age out.
type MarkerRepository struct {
	db DBTX
}

// NewMarkerRepository creates a MarkerRepository backed by the given database
// connection (pool or transaction).
func NewMarkerRepository(db DBTX) *MarkerRepository {
	return &MarkerRepository{db: db}
}

// MarkerExists reports whether a dedup marker exists for the event.
func (r *MarkerRepository) MarkerExists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM dedup_markers WHERE event_id = $1)`,
		eventID,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStore, "failed to check dedup marker", err)
	}
	return exists, nil
}

// CreateMarker persists a dedup marker. A concurrent duplicate insert is not
// an error: the marker already existing means the event is handled.
func (r *MarkerRepository) CreateMarker(ctx context.Context, m types.DedupMarker) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO dedup_markers (event_id, kind, recipient_key, processed_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		m.EventID,
		string(m.Kind),
		nilIfEmpty(m.RecipientKey),
		nilIfZeroTime(m.ProcessedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return types.NewAppError(types.ErrCodeInternalStore, "failed to create dedup marker", err)
	}
	return nil
}

// ReminderMarkerExists reports whether a date-scoped reminder marker exists
// for (user, product, date). The date is compared by calendar day in UTC.
func (r *MarkerRepository) ReminderMarkerExists(ctx context.Context, userID, productID string, day time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM reminder_markers
			WHERE user_id = $1 AND product_id = $2 AND reminder_date = $3
		 )`,
		userID,
		productID,
		day.UTC().Format("2006-01-02"),
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStore, "failed to check reminder marker", err)
	}
	return exists, nil
}

// CreateReminderMarker persists a reminder marker for (user, product, date).
// Duplicate inserts are idempotent.
func (r *MarkerRepository) CreateReminderMarker(ctx context.Context, userID, productID string, day, processedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reminder_markers (user_id, product_id, reminder_date, processed_at)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		userID,
		productID,
		day.UTC().Format("2006-01-02"),
		nilIfZeroTime(processedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return types.NewAppError(types.ErrCodeInternalStore, "failed to create reminder marker", err)
	}
	return nil
}

// DeleteReminderMarkersBefore removes date-scoped reminder markers for
// reminder days before the cutoff. Used by retention maintenance; dedup
// markers are never deleted. Returns the count of deleted rows.
func (r *MarkerRepository) DeleteReminderMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM reminder_markers WHERE reminder_date < $1`,
		cutoff.UTC().Format("2006-01-02"),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStore, "failed to delete old reminder markers", err)
	}
	return tag.RowsAffected(), nil
}
