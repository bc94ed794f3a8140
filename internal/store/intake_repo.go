package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"relaypoint/internal/types"
)

// Public-intake collection names accepted by IntakeRepository. Collections
// map to tables through an allow-list so a caller can never address an
// arbitrary table.
const (
	CollectionWaitlist = "waitlist"
	CollectionOTP      = "otp_requests"
)

var intakeTables = map[string]string{
	CollectionWaitlist: "waitlist_entries",
	CollectionOTP:      "otp_requests",
}

// IntakeRepository provides data access for the public-intake collections
// (waitlist signups, OTP requests). These tables are written by untrusted
// clients, so the repository also backs the burst guard and retention sweeps.
type IntakeRepository struct {
	db DBTX
}

// NewIntakeRepository creates an IntakeRepository backed by the given
// database connection (pool or transaction).
func NewIntakeRepository(db DBTX) *IntakeRepository {
	return &IntakeRepository{db: db}
}

// CreateWaitlistEntry persists a public waitlist signup. The burst guard
// runs after the write; quarantined records are deleted by DeleteRecord.
func (r *IntakeRepository) CreateWaitlistEntry(ctx context.Context, entry *types.WaitlistEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO waitlist_entries (id, email, source, created_at) VALUES ($1, $2, $3, $4)`,
		entry.ID,
		entry.Email,
		entry.Source,
		entry.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to create waitlist entry", err)
	}
	return nil
}

// CountFromSourceSince counts intake records from one logical source (an IP
// address or a requesting email) within the window.
func (r *IntakeRepository) CountFromSourceSince(ctx context.Context, collection, sourceKey string, since time.Time) (int, error) {
	table, ok := intakeTables[collection]
	if !ok {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "unknown intake collection: "+collection, nil)
	}

	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE source = $1 AND created_at > $2`,
		sourceKey,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStore, "failed to count intake records", err)
	}
	return count, nil
}

// DeleteRecord removes a quarantined intake record.
func (r *IntakeRepository) DeleteRecord(ctx context.Context, collection, recordID string) error {
	table, ok := intakeTables[collection]
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "unknown intake collection: "+collection, nil)
	}

	_, err := r.db.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, recordID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to delete intake record", err)
	}
	return nil
}

// DeleteOTPRequestsBefore removes OTP request records created before the
// cutoff. Backs the hourly maintenance sweep; OTP codes are short-lived and
// stale records are pure liability.
func (r *IntakeRepository) DeleteOTPRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM otp_requests WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStore, "failed to delete stale otp requests", err)
	}
	return tag.RowsAffected(), nil
}

// SourceCount is one over-cap intake source found by the burst sweep.
type SourceCount struct {
	Source string
	Count  int
}

// ListSourcesOverCap returns sources with more than cap records in the
// collection since the window start. Backs the hourly OTP burst sweep.
func (r *IntakeRepository) ListSourcesOverCap(ctx context.Context, collection string, since time.Time, cap int) ([]SourceCount, error) {
	table, ok := intakeTables[collection]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "unknown intake collection: "+collection, nil)
	}

	rows, err := r.db.Query(ctx,
		`SELECT source, COUNT(*) FROM `+table+`
		 WHERE created_at > $1
		 GROUP BY source
		 HAVING COUNT(*) > $2`,
		since,
		cap,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to list bursty intake sources", err)
	}
	defer rows.Close()

	var sources []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan source count row", err)
		}
		sources = append(sources, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "error iterating source count rows", err)
	}

	return sources, nil
}

// DeleteOverageFromSource removes a source's newest records beyond keep
// within the window. The oldest keep records survive so legitimate early
// requests are honored.
func (r *IntakeRepository) DeleteOverageFromSource(ctx context.Context, collection, source string, since time.Time, keep int) (int64, error) {
	table, ok := intakeTables[collection]
	if !ok {
		return 0, types.NewAppError(types.ErrCodeInternalUnexpected, "unknown intake collection: "+collection, nil)
	}

	tag, err := r.db.Exec(ctx,
		`DELETE FROM `+table+` WHERE id IN (
		   SELECT id FROM `+table+`
		   WHERE source = $1 AND created_at > $2
		   ORDER BY created_at
		   OFFSET $3
		 )`,
		source,
		since,
		keep,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStore, "failed to delete overage records", err)
	}
	return tag.RowsAffected(), nil
}

// ListWaitlistEmails returns the distinct email addresses on the waitlist,
// oldest first. Backs waitlist announcement broadcasts.
func (r *IntakeRepository) ListWaitlistEmails(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (email) email FROM waitlist_entries ORDER BY email, created_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to list waitlist emails", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan waitlist row", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "error iterating waitlist rows", err)
	}

	return emails, nil
}
