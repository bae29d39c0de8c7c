// Package trust issues and validates the signed tokens that let a remembered
// device skip the one-time-code step for a bounded period.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims bind a trust token to one admin and one trusted-device record. The
// token id lets a single device be revoked server-side without touching the
// device hash.
type Claims struct {
	AdminID string `json:"aid"`
	TokenID string `json:"tk"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	return &Signer{secret: []byte(secret), ttl: ttl}
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Issue(adminID, tokenID string, now time.Time) (string, error) {
	claims := Claims{
		AdminID: adminID,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate checks signature, expiry, and admin binding. It reports only
// trusted-or-not: a malformed, tampered, expired, or foreign token is not an
// error, the caller simply falls back to the one-time-code flow.
func (s *Signer) Validate(token, adminID string, now time.Time) (Claims, bool) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, false
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.AdminID != adminID || claims.TokenID == "" {
		return Claims{}, false
	}

	return *claims, true
}

// DeviceHash derives the stored identifier for a remembered device. The raw
// fingerprint is never persisted; the hash is bound to the admin so the same
// browser yields distinct records per account.
func DeviceHash(fingerprint, adminID string) string {
	sum := sha256.Sum256([]byte(fingerprint + ":" + adminID))
	return hex.EncodeToString(sum[:])
}
