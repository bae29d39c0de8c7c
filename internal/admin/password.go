package admin

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Stored credentials come in two formats: the current bcrypt hash (recognized
// by its "$2" prefix) and a legacy plain-base64 encoding kept only so old
// accounts can still log in. Any password change writes bcrypt.

const bcryptPrefix = "$2"

func IsLegacyHash(hash string) bool {
	return hash != "" && !strings.HasPrefix(hash, bcryptPrefix)
}

// VerifyCredential dispatches on the stored format. A mismatch is (false, nil);
// an error means the comparison itself could not be performed.
func VerifyCredential(hash, password string) (bool, error) {
	if hash == "" {
		return false, nil
	}

	if strings.HasPrefix(hash, bcryptPrefix) {
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(password))
	return subtle.ConstantTimeCompare([]byte(hash), []byte(encoded)) == 1, nil
}

func HashCredential(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
