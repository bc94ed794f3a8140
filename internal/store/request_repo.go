package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"relaypoint/internal/types"
)

// BatchWriteSize is the maximum number of statements per batched write.
// Larger request sets are flushed in chunks of this size.
const BatchWriteSize = 500

// RequestRepository provides data access for the notification_requests and
// delivery_outcomes tables. Status transitions are enforced at the SQL level:
// terminal updates only apply to rows still in 'pending'.
type RequestRepository struct {
	db DBTX
}

// NewRequestRepository creates a RequestRepository backed by the given
// database connection (pool or transaction).
func NewRequestRepository(db DBTX) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new notification request. If the ID is empty a UUID is
// assigned. New requests always start in 'pending'.
func (r *RequestRepository) Create(ctx context.Context, req *types.NotificationRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = types.StatusPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_requests
		 (id, kind, channel, recipient, lang_hint, user_id, event_id,
		  data, titles, bodies, subject, body_html, status, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, COALESCE($14, NOW()), $15)`,
		req.ID,
		string(req.Kind),
		string(req.Channel),
		mustJSON(req.Recipient),
		nilIfEmpty(req.LanguageHint),
		nilIfEmpty(req.UserID),
		nilIfEmpty(req.EventID),
		mustJSON(req.Data),
		mustJSON(req.Titles),
		mustJSON(req.Bodies),
		nilIfEmpty(req.Subject),
		nilIfEmpty(req.BodyHTML),
		string(req.Status),
		nilIfZeroTime(req.CreatedAt),
		nilIfEmpty(req.CreatedBy),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to create notification request", err)
	}
	return nil
}

// CreateBatch inserts many requests, chunked at BatchWriteSize statements per
// round trip. Used by broadcast mail fan-out where one announcement produces
// one request per recipient.
func (r *RequestRepository) CreateBatch(ctx context.Context, reqs []*types.NotificationRequest) error {
	for start := 0; start < len(reqs); start += BatchWriteSize {
		end := start + BatchWriteSize
		if end > len(reqs) {
			end = len(reqs)
		}

		batch := &pgx.Batch{}
		for _, req := range reqs[start:end] {
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			if req.Status == "" {
				req.Status = types.StatusPending
			}
			batch.Queue(
				`INSERT INTO notification_requests
				 (id, kind, channel, recipient, lang_hint, user_id, event_id,
				  data, titles, bodies, subject, body_html, status, created_at, created_by)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, COALESCE($14, NOW()), $15)`,
				req.ID,
				string(req.Kind),
				string(req.Channel),
				mustJSON(req.Recipient),
				nilIfEmpty(req.LanguageHint),
				nilIfEmpty(req.UserID),
				nilIfEmpty(req.EventID),
				mustJSON(req.Data),
				mustJSON(req.Titles),
				mustJSON(req.Bodies),
				nilIfEmpty(req.Subject),
				nilIfEmpty(req.BodyHTML),
				string(req.Status),
				nilIfZeroTime(req.CreatedAt),
				nilIfEmpty(req.CreatedBy),
			)
		}

		results := r.db.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return types.NewAppError(types.ErrCodeInternalStore, "failed to batch-create notification requests", err)
			}
		}
		if err := results.Close(); err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "failed to close batch results", err)
		}
	}
	return nil
}

// GetByID retrieves one notification request.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*types.NotificationRequest, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, kind, channel, recipient, lang_hint, user_id, event_id,
		        data, titles, bodies, subject, body_html, status,
		        created_at, created_by, sent_at, error_at, error_text,
		        message_id, success_count, failure_count
		 FROM notification_requests WHERE id = $1`,
		id,
	)

	req, err := scanRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundRequest, "notification request not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to get notification request", err)
	}
	return req, nil
}

// MarkSent transitions a pending request to 'sent' and records the delivery
// counters. A request no longer pending is left untouched.
func (r *RequestRepository) MarkSent(ctx context.Context, id, messageID string, successCount, failureCount int, at time.Time) error {
	return r.finalize(ctx,
		`UPDATE notification_requests SET
			status = 'sent',
			sent_at = $2,
			message_id = $3,
			success_count = $4,
			failure_count = $5
		 WHERE id = $1 AND status = 'pending'`,
		id, at, nilIfEmpty(messageID), successCount, failureCount,
	)
}

// MarkFailed transitions a pending request to 'failed': every attempt was
// made and none succeeded.
func (r *RequestRepository) MarkFailed(ctx context.Context, id, reason string, failureCount int, at time.Time) error {
	return r.finalize(ctx,
		`UPDATE notification_requests SET
			status = 'failed',
			error_at = $2,
			error_text = $3,
			failure_count = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, at, reason, failureCount,
	)
}

// MarkError transitions a pending request to 'error' after an unexpected
// failure before or during dispatch.
func (r *RequestRepository) MarkError(ctx context.Context, id, reason string, at time.Time) error {
	return r.finalize(ctx,
		`UPDATE notification_requests SET
			status = 'error',
			error_at = $2,
			error_text = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, at, reason,
	)
}

// MarkCancelled transitions a pending request to 'cancelled' after a
// governance rejection. No send was attempted.
func (r *RequestRepository) MarkCancelled(ctx context.Context, id, reason string, at time.Time) error {
	return r.finalize(ctx,
		`UPDATE notification_requests SET
			status = 'cancelled',
			error_at = $2,
			error_text = $3
		 WHERE id = $1 AND status = 'pending'`,
		id, at, reason,
	)
}

func (r *RequestRepository) finalize(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to update request status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRequest, "request not found or not pending", nil)
	}
	return nil
}

// CountCreatedSince counts requests created for a recipient address since the
// given instant, regardless of status. Backs the daily volume cap.
func (r *RequestRepository) CountCreatedSince(ctx context.Context, recipientKey string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notification_requests
		 WHERE recipient->>'to' = $1 AND created_at >= $2`,
		recipientKey,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalStore, "failed to count recipient requests", err)
	}
	return count, nil
}

// LastSuccessfulSend returns the most recent successful send of the given
// kind to the recipient. Backs the cooldown rule.
func (r *RequestRepository) LastSuccessfulSend(ctx context.Context, recipientKey string, kind types.NotificationKind) (time.Time, bool, error) {
	var sentAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT sent_at FROM notification_requests
		 WHERE recipient->>'to' = $1 AND kind = $2 AND status = 'sent'
		 ORDER BY sent_at DESC
		 LIMIT 1`,
		recipientKey,
		string(kind),
	).Scan(&sentAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, types.NewAppError(types.ErrCodeInternalStore, "failed to query delivery history", err)
	}
	return sentAt, true, nil
}

// RecordOutcome appends a delivery outcome row. Outcomes are append-only.
func (r *RequestRepository) RecordOutcome(ctx context.Context, o *types.DeliveryOutcome) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO delivery_outcomes
		 (request_id, channel, success_count, failure_count, recipients_attempted, selector, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		o.RequestID,
		string(o.Channel),
		o.SuccessCount,
		o.FailureCount,
		o.RecipientsAttempted,
		nilIfEmpty(o.Selector),
		nilIfZeroTime(o.Timestamp),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to record delivery outcome", err)
	}
	return nil
}

// scanRequest scans one notification_requests row. Handles nullable columns
// using pointer types.
func scanRequest(row pgx.Row) (*types.NotificationRequest, error) {
	var (
		req           types.NotificationRequest
		kind, channel string
		status        string
		recipient     []byte
		langHint      *string
		userID        *string
		eventID       *string
		data          []byte
		titles        []byte
		bodies        []byte
		subject       *string
		bodyHTML      *string
		createdBy     *string
		sentAt        *time.Time
		errorAt       *time.Time
		errorText     *string
		messageID     *string
		successCount  *int
		failureCount  *int
	)

	err := row.Scan(
		&req.ID, &kind, &channel, &recipient, &langHint, &userID, &eventID,
		&data, &titles, &bodies, &subject, &bodyHTML, &status,
		&req.CreatedAt, &createdBy, &sentAt, &errorAt, &errorText,
		&messageID, &successCount, &failureCount,
	)
	if err != nil {
		return nil, err
	}

	req.Kind = types.NotificationKind(kind)
	req.Channel = types.Channel(channel)
	req.Status = types.RequestStatus(status)
	if recipient != nil {
		_ = json.Unmarshal(recipient, &req.Recipient)
	}
	if data != nil {
		_ = json.Unmarshal(data, &req.Data)
	}
	if titles != nil {
		_ = json.Unmarshal(titles, &req.Titles)
	}
	if bodies != nil {
		_ = json.Unmarshal(bodies, &req.Bodies)
	}
	if langHint != nil {
		req.LanguageHint = *langHint
	}
	if userID != nil {
		req.UserID = *userID
	}
	if eventID != nil {
		req.EventID = *eventID
	}
	if subject != nil {
		req.Subject = *subject
	}
	if bodyHTML != nil {
		req.BodyHTML = *bodyHTML
	}
	if createdBy != nil {
		req.CreatedBy = *createdBy
	}
	if sentAt != nil {
		req.SentAt = *sentAt
	}
	if errorAt != nil {
		req.ErrorAt = *errorAt
	}
	if errorText != nil {
		req.ErrorText = *errorText
	}
	if messageID != nil {
		req.MessageID = *messageID
	}
	if successCount != nil {
		req.SuccessCount = *successCount
	}
	if failureCount != nil {
		req.FailureCount = *failureCount
	}

	return &req, nil
}

// mustJSON marshals v for a JSONB column, falling back to an empty object on
// marshal failure so inserts never carry invalid JSON.
func mustJSON(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
