// Package audit appends security-relevant events to the admin audit log.
// Writes are best-effort: an audit failure is logged but never masks the
// response of the operation that produced the event.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"

	"admin-serverless/internal/observability"
)

const (
	ActionSecretRegenerated = "2fa_secret_regenerated"
	ActionVerifyFailed      = "2fa_verify_failed"
	ActionVerifiedLogin     = "2fa_verified_login"
	ActionDisabled          = "2fa_disabled"
	ActionPasswordChanged   = "password_changed"
)

type Event struct {
	AdminID string
	Action  string
	Details map[string]any
}

type Sink interface {
	Record(ctx context.Context, event Event)
}

type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

type DBSink struct {
	db     *sql.DB
	logger *observability.Logger
}

func NewDBSink(db *sql.DB, logger *observability.Logger) *DBSink {
	return &DBSink{db: db, logger: logger}
}

func (s *DBSink) Record(ctx context.Context, event Event) {
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}

	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Error("audit_encode_failed", map[string]any{
			"action": event.Action,
			"error":  err.Error(),
		})
		return
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_audit_log (admin_id, action, details)
		VALUES ($1, $2, $3)
	`, event.AdminID, event.Action, payload)
	if err != nil {
		s.logger.Error("audit_write_failed", map[string]any{
			"action":   event.Action,
			"admin_id": event.AdminID,
			"error":    err.Error(),
		})
	}
}
