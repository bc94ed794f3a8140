package store

import (
	"context"
	"time"

	"relaypoint/internal/types"
)

// SubscriptionRepository maintains the subscriptions table. The billing
// worker writes it from verified billing events; the trial reminder scan
// reads it.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a SubscriptionRepository backed by the
// given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert writes the subscription state for a user. One row per user; billing
// events arrive in order per user, so last write wins.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *types.Subscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (user_id, product_id, status, period_type, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   product_id = EXCLUDED.product_id,
		   status = EXCLUDED.status,
		   period_type = EXCLUDED.period_type,
		   expires_at = EXCLUDED.expires_at,
		   updated_at = NOW()`,
		sub.UserID,
		sub.ProductID,
		sub.Status,
		sub.PeriodType,
		nilIfZeroTime(sub.ExpiresAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to upsert subscription", err)
	}
	return nil
}

// MarkExpired transitions a user's subscription to expired without touching
// the product or period fields.
func (r *SubscriptionRepository) MarkExpired(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions SET status = $1, updated_at = NOW() WHERE user_id = $2`,
		types.SubscriptionExpired,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to mark subscription expired", err)
	}
	return nil
}

// ListTrialsEndingBetween returns active trial subscriptions whose expiry
// falls in [from, to). Backs the daily trial-ending reminder scan.
func (r *SubscriptionRepository) ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*types.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id, product_id, status, period_type, expires_at, updated_at
		 FROM subscriptions
		 WHERE status = $1 AND period_type = $2 AND expires_at >= $3 AND expires_at < $4
		 ORDER BY expires_at`,
		types.SubscriptionActive,
		types.PeriodTrial,
		from,
		to,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to list ending trials", err)
	}
	defer rows.Close()

	var subs []*types.Subscription
	for rows.Next() {
		var sub types.Subscription
		var expiresAt *time.Time
		if err := rows.Scan(&sub.UserID, &sub.ProductID, &sub.Status, &sub.PeriodType, &expiresAt, &sub.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan subscription row", err)
		}
		if expiresAt != nil {
			sub.ExpiresAt = *expiresAt
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "error iterating subscription rows", err)
	}

	return subs, nil
}
