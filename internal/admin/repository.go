package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("admin account not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CleanupResult struct {
	DeletedTrustedDevices int64 `json:"deleted_trusted_devices"`
	DeletedAuditEntries   int64 `json:"deleted_audit_entries"`
}

func (r *Repository) GetAccount(ctx context.Context, id string) (Account, error) {
	var account Account
	var passwordHash, twofaSecret sql.NullString
	var lastLogin sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, twofa_secret, twofa_configured, last_login, created_at, updated_at
		FROM control_panel_users
		WHERE id = $1
	`, id).Scan(
		&account.ID, &account.Email, &passwordHash, &twofaSecret,
		&account.TwoFAConfigured, &lastLogin, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query admin account: %w", err)
	}

	account.PasswordHash = passwordHash.String
	account.TwoFASecret = twofaSecret.String
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		account.LastLogin = &value
	}

	return account, nil
}

// SaveTwoFASecret stores a freshly generated secret. The configured flag is
// always dropped: the admin must confirm enrollment again after a rotation.
func (r *Repository) SaveTwoFASecret(ctx context.Context, id, secret string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE control_panel_users
		SET twofa_secret = $2, twofa_configured = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id, secret)
	if err != nil {
		return fmt.Errorf("save twofa secret: %w", err)
	}

	return requireRow(res, "save twofa secret")
}

func (r *Repository) ConfirmTwoFA(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE control_panel_users
		SET twofa_configured = TRUE, last_login = $2, updated_at = NOW()
		WHERE id = $1
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("confirm twofa: %w", err)
	}

	return requireRow(res, "confirm twofa")
}

func (r *Repository) DisableTwoFA(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE control_panel_users
		SET twofa_secret = NULL, twofa_configured = FALSE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("disable twofa: %w", err)
	}

	return requireRow(res, "disable twofa")
}

// VerifyPassword delegates the comparison to the database-side routine so the
// hashing algorithm stays out of the handler.
func (r *Repository) VerifyPassword(ctx context.Context, id, password string) (bool, error) {
	var match bool
	err := r.db.QueryRowContext(ctx,
		`SELECT verify_admin_password($1, $2)`, id, password,
	).Scan(&match)
	if err != nil {
		return false, fmt.Errorf("verify admin password: %w", err)
	}

	return match, nil
}

// ChangePassword persists a new hash through the dedicated database routine,
// never via a raw column update.
func (r *Repository) ChangePassword(ctx context.Context, id, newHash string) error {
	var updated bool
	err := r.db.QueryRowContext(ctx,
		`SELECT admin_change_password($1, $2)`, id, newHash,
	).Scan(&updated)
	if err != nil {
		return fmt.Errorf("change admin password: %w", err)
	}
	if !updated {
		return ErrAccountNotFound
	}

	return nil
}

// UpsertTrustedDevice refreshes an existing (admin, device hash) record or
// inserts a new one, and returns the record's opaque token id either way.
func (r *Repository) UpsertTrustedDevice(ctx context.Context, adminID, deviceHash, userAgent string, expiresAt, now time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate trusted device id: %w", err)
	}

	var tokenID string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO admin_trusted_devices (id, admin_id, device_hash, expires_at, last_used_at, user_agent)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (admin_id, device_hash)
		DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			last_used_at = EXCLUDED.last_used_at
		RETURNING token_id
	`, id.String(), adminID, deviceHash, expiresAt.UTC(), now.UTC(), userAgent).Scan(&tokenID)
	if err != nil {
		return "", fmt.Errorf("upsert trusted device: %w", err)
	}

	return tokenID, nil
}

func (r *Repository) FindTrustedDevice(ctx context.Context, adminID, deviceHash string) (TrustedDevice, error) {
	var device TrustedDevice
	var userAgent sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT id, admin_id, device_hash, token_id, expires_at, last_used_at, user_agent, created_at
		FROM admin_trusted_devices
		WHERE admin_id = $1 AND device_hash = $2
	`, adminID, deviceHash).Scan(
		&device.ID, &device.AdminID, &device.DeviceHash, &device.TokenID,
		&device.ExpiresAt, &device.LastUsedAt, &userAgent, &device.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TrustedDevice{}, err
		}
		return TrustedDevice{}, fmt.Errorf("query trusted device: %w", err)
	}

	device.UserAgent = userAgent.String

	return device, nil
}

func (r *Repository) TouchTrustedDevice(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE admin_trusted_devices
		SET last_used_at = $2
		WHERE id = $1
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("touch trusted device: %w", err)
	}

	return nil
}

// CleanupExpired removes trusted devices past their expiry and audit entries
// older than the retention window, in bounded batches.
func (r *Repository) CleanupExpired(ctx context.Context, auditRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}

	auditCutoff := time.Now().UTC().Add(-auditRetention)

	deletedDevices, err := r.deleteExpiredTrustedDevices(ctx, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedAudit, err := r.deleteOldAuditEntries(ctx, auditCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedTrustedDevices: deletedDevices,
		DeletedAuditEntries:   deletedAudit,
	}, nil
}

func (r *Repository) deleteExpiredTrustedDevices(ctx context.Context, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM admin_trusted_devices
			WHERE expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		DELETE FROM admin_trusted_devices t
		USING stale
		WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired trusted devices: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired trusted devices rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteOldAuditEntries(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM admin_audit_log
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM admin_audit_log t
		USING stale
		WHERE t.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old audit entries: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("old audit entries rows affected: %w", err)
	}

	return affected, nil
}

func requireRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
