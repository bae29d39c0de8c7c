package gateway

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"admin-serverless/internal/admin"
	"admin-serverless/internal/audit"
	"admin-serverless/internal/ratelimit"
	"admin-serverless/internal/trust"
)

// Store is the persistence surface the gateway operations need. It is
// implemented by *admin.Repository and by an in-memory fake in tests.
type Store interface {
	GetAccount(ctx context.Context, id string) (admin.Account, error)
	SaveTwoFASecret(ctx context.Context, id, secret string) error
	ConfirmTwoFA(ctx context.Context, id string, now time.Time) error
	DisableTwoFA(ctx context.Context, id string) error
	VerifyPassword(ctx context.Context, id, password string) (bool, error)
	ChangePassword(ctx context.Context, id, newHash string) error
	UpsertTrustedDevice(ctx context.Context, adminID, deviceHash, userAgent string, expiresAt, now time.Time) (string, error)
	FindTrustedDevice(ctx context.Context, adminID, deviceHash string) (admin.TrustedDevice, error)
	TouchTrustedDevice(ctx context.Context, id string, now time.Time) error
}

type Service struct {
	store   Store
	limiter ratelimit.Limiter
	audit   audit.Sink
	trust   *trust.Signer
	issuer  string
	now     func() time.Time
}

func NewService(store Store, limiter ratelimit.Limiter, sink audit.Sink, signer *trust.Signer, issuer string) *Service {
	if issuer == "" {
		issuer = "Marketplace Admin Panel"
	}

	return &Service{
		store:   store,
		limiter: limiter,
		audit:   sink,
		trust:   signer,
		issuer:  issuer,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Account(ctx context.Context, id string) (admin.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// GenerateSecret rotates the admin's shared secret. Rotation always drops the
// configured flag so enrollment must be confirmed with a fresh code.
func (s *Service) GenerateSecret(ctx context.Context, account admin.Account) (int, map[string]any, error) {
	if account.TwoFASecret != "" {
		s.audit.Record(ctx, audit.Event{
			AdminID: account.ID,
			Action:  audit.ActionSecretRegenerated,
			Details: map[string]any{"previously_configured": account.TwoFAConfigured},
		})
	}

	accountName := account.Email
	if accountName == "" {
		accountName = "admin"
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return 0, nil, err
	}

	if err := s.store.SaveTwoFASecret(ctx, account.ID, key.Secret()); err != nil {
		status, body := failure(http.StatusInternalServerError, "Failed to save 2FA secret")
		return status, body, nil
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"secret":  key.Secret(),
		"qrCode":  key.URL(),
	}, nil
}

// VerifyToken checks a one-time code against the stored secret under the
// sliding-window attempt budget, and optionally issues a trust token when the
// caller asked to remember the device.
func (s *Service) VerifyToken(ctx context.Context, account admin.Account, token, fingerprint string, remember bool, userAgent string) (int, map[string]any, error) {
	if account.TwoFASecret == "" {
		status, body := failure(http.StatusBadRequest, "2FA not configured")
		return status, body, nil
	}

	now := s.now()

	limit, err := s.limiter.Status(ctx, account.ID, now)
	if err != nil {
		// Fail secure: if the budget cannot be checked, the code is not
		// evaluated either.
		status, body := failure(http.StatusInternalServerError, "Security check failed")
		return status, body, nil
	}
	if !limit.Allowed {
		status, body := failure(http.StatusTooManyRequests, "Too many attempts")
		body["retry_in_ms"] = limit.RetryAfter.Milliseconds()
		return status, body, nil
	}

	if !totp.Validate(normalizeToken(token), account.TwoFASecret) {
		remaining, err := s.limiter.RecordFailure(ctx, account.ID, now)
		if err != nil {
			status, body := failure(http.StatusInternalServerError, "Security check failed")
			return status, body, nil
		}

		s.audit.Record(ctx, audit.Event{
			AdminID: account.ID,
			Action:  audit.ActionVerifyFailed,
			Details: map[string]any{"attempts_remaining": remaining},
		})

		status, body := failure(http.StatusBadRequest, "Invalid token")
		body["attempts_remaining"] = remaining
		return status, body, nil
	}

	_ = s.limiter.Reset(ctx, account.ID)

	if err := s.store.ConfirmTwoFA(ctx, account.ID, now); err != nil {
		status, body := failure(http.StatusInternalServerError, "Failed to update 2FA status")
		return status, body, nil
	}

	s.audit.Record(ctx, audit.Event{
		AdminID: account.ID,
		Action:  audit.ActionVerifiedLogin,
		Details: map[string]any{"user_agent": userAgent},
	})

	response := map[string]any{"success": true}

	if remember && fingerprint != "" {
		if signed, ok := s.rememberDevice(ctx, account.ID, fingerprint, userAgent, now); ok {
			response["trust_token"] = signed
		}
	}

	return http.StatusOK, response, nil
}

// rememberDevice upserts the trusted-device record and signs a trust token
// around its opaque token id. Any failure simply withholds the token; the
// verification itself already succeeded.
func (s *Service) rememberDevice(ctx context.Context, adminID, fingerprint, userAgent string, now time.Time) (string, bool) {
	deviceHash := trust.DeviceHash(fingerprint, adminID)
	expiresAt := now.Add(s.trust.TTL())

	tokenID, err := s.store.UpsertTrustedDevice(ctx, adminID, deviceHash, userAgent, expiresAt, now)
	if err != nil || tokenID == "" {
		return "", false
	}

	signed, err := s.trust.Issue(adminID, tokenID, now)
	if err != nil {
		return "", false
	}

	return signed, true
}

// CheckTrust validates a trust token against the device fingerprint and the
// persisted trusted-device record. A failed check is never a hard error: the
// caller falls back to the one-time-code flow on trusted:false.
func (s *Service) CheckTrust(ctx context.Context, adminID, fingerprint, trustToken string) (int, map[string]any, error) {
	notTrusted := map[string]any{"success": true, "trusted": false}

	if trustToken == "" {
		return http.StatusOK, notTrusted, nil
	}

	now := s.now()

	claims, ok := s.trust.Validate(trustToken, adminID, now)
	if !ok {
		return http.StatusOK, notTrusted, nil
	}

	device, err := s.store.FindTrustedDevice(ctx, adminID, trust.DeviceHash(fingerprint, adminID))
	if err != nil {
		if isNotFound(err) {
			return http.StatusOK, notTrusted, nil
		}
		return 0, nil, err
	}

	// The token id inside the claim must still match the record, so a device
	// can be revoked by rotating the record's token id.
	if device.TokenID != claims.TokenID {
		return http.StatusOK, notTrusted, nil
	}

	if device.ExpiresAt.Before(now) {
		return http.StatusOK, map[string]any{"success": true, "trusted": false, "expired": true}, nil
	}

	_ = s.store.TouchTrustedDevice(ctx, device.ID, now)

	return http.StatusOK, map[string]any{"success": true, "trusted": true}, nil
}

// VerifyPassword is part of the login handshake and carries no bearer
// session. The comparison happens database-side.
func (s *Service) VerifyPassword(ctx context.Context, account admin.Account, password string) (int, map[string]any, error) {
	if password == "" {
		status, body := failure(http.StatusBadRequest, "Password required")
		return status, body, nil
	}

	if account.PasswordHash == "" {
		status, body := failure(http.StatusNotFound, "Admin not found or no password set")
		return status, body, nil
	}

	match, err := s.store.VerifyPassword(ctx, account.ID, password)
	if err != nil {
		status, body := failure(http.StatusInternalServerError, "Password verification failed")
		return status, body, nil
	}

	if !match {
		status, body := failure(http.StatusUnauthorized, "Invalid password")
		return status, body, nil
	}

	return http.StatusOK, map[string]any{
		"success":      true,
		"valid":        true,
		"needs_rehash": admin.IsLegacyHash(account.PasswordHash),
	}, nil
}

// ChangePassword verifies the current password against either stored format
// and always writes back a bcrypt hash through the dedicated routine.
func (s *Service) ChangePassword(ctx context.Context, account admin.Account, oldPassword, newPassword string) (int, map[string]any, error) {
	if oldPassword == "" || newPassword == "" {
		status, body := failure(http.StatusBadRequest, "Old and new password required")
		return status, body, nil
	}

	if len(newPassword) < 8 {
		status, body := failure(http.StatusBadRequest, "New password must be at least 8 characters")
		return status, body, nil
	}

	if account.PasswordHash == "" {
		status, body := failure(http.StatusNotFound, "Admin not found")
		return status, body, nil
	}

	match, err := admin.VerifyCredential(account.PasswordHash, oldPassword)
	if err != nil {
		status, body := failure(http.StatusInternalServerError, "Password verification failed")
		return status, body, nil
	}
	if !match {
		status, body := failure(http.StatusUnauthorized, "Current password incorrect")
		return status, body, nil
	}

	newHash, err := admin.HashCredential(newPassword)
	if err != nil {
		status, body := failure(http.StatusInternalServerError, "Failed to hash password")
		return status, body, nil
	}

	if err := s.store.ChangePassword(ctx, account.ID, newHash); err != nil {
		status, body := failure(http.StatusInternalServerError, "Failed to update password")
		return status, body, nil
	}

	s.audit.Record(ctx, audit.Event{
		AdminID: account.ID,
		Action:  audit.ActionPasswordChanged,
		Details: map[string]any{"was_legacy": admin.IsLegacyHash(account.PasswordHash)},
	})

	return http.StatusOK, map[string]any{
		"success": true,
		"message": "Password changed successfully",
	}, nil
}

// Disable2FA clears the shared secret. Both factors are required: a stolen
// session plus password is not enough without a current code, and vice versa.
func (s *Service) Disable2FA(ctx context.Context, account admin.Account, password, token string) (int, map[string]any, error) {
	if password == "" || token == "" {
		status, body := failure(http.StatusBadRequest, "Password and token required")
		return status, body, nil
	}

	if account.TwoFASecret == "" {
		status, body := failure(http.StatusBadRequest, "2FA not enabled")
		return status, body, nil
	}

	match, err := admin.VerifyCredential(account.PasswordHash, password)
	if err != nil {
		status, body := failure(http.StatusInternalServerError, "Password verification failed")
		return status, body, nil
	}
	if !match {
		status, body := failure(http.StatusUnauthorized, "Invalid password")
		return status, body, nil
	}

	if !totp.Validate(normalizeToken(token), account.TwoFASecret) {
		status, body := failure(http.StatusBadRequest, "Invalid token")
		return status, body, nil
	}

	if err := s.store.DisableTwoFA(ctx, account.ID); err != nil {
		status, body := failure(http.StatusInternalServerError, "Failed to disable 2FA")
		return status, body, nil
	}

	s.audit.Record(ctx, audit.Event{
		AdminID: account.ID,
		Action:  audit.ActionDisabled,
	})

	return http.StatusOK, map[string]any{
		"success": true,
		"message": "2FA disabled",
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// normalizeToken trims the submitted code and restores a leading zero dropped
// by UIs that render the code as a number.
func normalizeToken(token string) string {
	trimmed := strings.TrimSpace(token)
	if len(trimmed) == 5 {
		return "0" + trimmed
	}

	return trimmed
}
