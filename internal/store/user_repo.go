package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"relaypoint/internal/audience"
	"relaypoint/internal/types"
)

// UserRepository provides data access for the users table, limited to the
// fields the dispatch engine needs: contact address, language preference,
// role, consent, and the active push registration.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository backed by the given database
// connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, name, preferred_language, role, marketing_consent,
	        device_token, device_platform`

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	)
	return r.scanUser(row)
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	)
	return r.scanUser(row)
}

// EmailExists reports whether any user has the given email address. Backs
// the pre-signup existence check without leaking the user record.
func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`,
		email,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalStore, "failed to check email existence", err)
	}
	return exists, nil
}

// IsAdmin reports whether the user holds the admin role.
func (r *UserRepository) IsAdmin(ctx context.Context, id string) (bool, error) {
	var role *string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM users WHERE id = $1`,
		id,
	).Scan(&role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return false, types.NewAppError(types.ErrCodeInternalStore, "failed to get user role", err)
	}
	return role != nil && *role == types.RoleAdmin, nil
}

// ListBroadcastRecipients resolves a recipient query to the registered-user
// email addresses it selects. Test overrides are handled upstream by the
// dispatch engine; this method always queries the collection.
func (r *UserRepository) ListBroadcastRecipients(ctx context.Context, q audience.RecipientQuery) ([]string, error) {
	sql := `SELECT email FROM users WHERE email IS NOT NULL AND email <> ''`
	if q.MarketingConsentOnly {
		sql += ` AND marketing_consent = true`
	}

	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to list broadcast recipients", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan recipient row", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "error iterating recipient rows", err)
	}

	return emails, nil
}

// ClearDevice removes the user's active push registration. Called when the
// push provider reports the token as no longer valid.
func (r *UserRepository) ClearDevice(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET device_token = NULL, device_platform = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to clear device registration", err)
	}
	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*types.User, error) {
	var (
		u              types.User
		name           *string
		lang           *string
		role           *string
		deviceToken    *string
		devicePlatform *string
	)

	err := row.Scan(&u.ID, &u.Email, &name, &lang, &role, &u.MarketingConsent,
		&deviceToken, &devicePlatform)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to get user", err)
	}

	if name != nil {
		u.Name = *name
	}
	if lang != nil {
		u.PreferredLanguage = *lang
	}
	if role != nil {
		u.Role = *role
	}
	if deviceToken != nil && *deviceToken != "" {
		u.ActiveDevice = &types.Device{Token: *deviceToken}
		if devicePlatform != nil {
			u.ActiveDevice.Platform = *devicePlatform
		}
	}

	return &u, nil
}
