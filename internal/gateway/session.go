package gateway

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errInvalidSession = errors.New("invalid session token")

// Sessions resolves the caller's identity from the bearer token minted by the
// external identity provider. The gateway only needs the email claim; it is
// cross-checked against the target admin record.
type Sessions struct {
	secret []byte
}

func NewSessions(secret string) *Sessions {
	return &Sessions{secret: []byte(secret)}
}

// BearerToken extracts the raw token from an Authorization header, or ""
// when the header is absent or not a bearer credential.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func (s *Sessions) Email(token string) (string, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", errInvalidSession
	}

	email, _ := claims["email"].(string)
	if email == "" {
		return "", errInvalidSession
	}

	return email, nil
}
