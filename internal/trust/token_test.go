package trust

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret", 30*24*time.Hour)
	now := time.Now().UTC()

	token, err := signer.Issue("admin-1", "token-1", now)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, ok := signer.Validate(token, "admin-1", now.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, "admin-1", claims.AdminID)
	assert.Equal(t, "token-1", claims.TokenID)
}

func TestValidateRejectsOtherAdmin(t *testing.T) {
	signer := NewSigner("test-secret", 30*24*time.Hour)
	now := time.Now().UTC()

	token, err := signer.Issue("admin-1", "token-1", now)
	require.NoError(t, err)

	_, ok := signer.Validate(token, "admin-2", now)
	assert.False(t, ok)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("test-secret", 30*24*time.Hour)
	now := time.Now().UTC()

	token, err := signer.Issue("admin-1", "token-1", now)
	require.NoError(t, err)

	_, ok := signer.Validate(token, "admin-1", now.Add(31*24*time.Hour))
	assert.False(t, ok)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	signer := NewSigner("test-secret", 30*24*time.Hour)
	now := time.Now().UTC()

	token, err := signer.Issue("admin-1", "token-1", now)
	require.NoError(t, err)

	last := token[len(token)-1]
	flipped := byte('A')
	if last == flipped {
		flipped = 'B'
	}
	tampered := token[:len(token)-1] + string(flipped)

	_, ok := signer.Validate(tampered, "admin-1", now)
	assert.False(t, ok)
}

func TestValidateRejectsOtherKey(t *testing.T) {
	now := time.Now().UTC()

	token, err := NewSigner("secret-a", time.Hour).Issue("admin-1", "token-1", now)
	require.NoError(t, err)

	_, ok := NewSigner("secret-b", time.Hour).Validate(token, "admin-1", now)
	assert.False(t, ok)
}

func TestValidateRejectsGarbage(t *testing.T) {
	signer := NewSigner("test-secret", time.Hour)
	now := time.Now().UTC()

	for _, token := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		_, ok := signer.Validate(token, "admin-1", now)
		assert.False(t, ok, "token %q", token)
	}
}

func TestDeviceHash(t *testing.T) {
	hash := DeviceHash("fp-123", "admin-1")

	assert.Len(t, hash, 64)
	assert.Equal(t, strings.ToLower(hash), hash)
	assert.Equal(t, hash, DeviceHash("fp-123", "admin-1"))
	assert.NotEqual(t, hash, DeviceHash("fp-456", "admin-1"))
	assert.NotEqual(t, hash, DeviceHash("fp-123", "admin-2"))
}
