package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admin-serverless/internal/observability"
)

const sessionSecret = "session-test-secret"

func newTestHandler(t *testing.T, store *fakeStore) *Handler {
	t.Helper()

	logger := observability.NewLogger()
	service, _ := newTestService(store)
	return NewHandler(service, NewSessions(sessionSecret), logger)
}

func sessionToken(t *testing.T, email string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(sessionSecret))
	require.NoError(t, err)
	return signed
}

func postAction(t *testing.T, handler *Handler, payload map[string]any, configure func(*http.Request)) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/2fa", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if configure != nil {
		configure(req)
	}

	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func withSession(t *testing.T, email string) func(*http.Request) {
	token := sessionToken(t, email)
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func TestHandlerPreflight(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	req := httptest.NewRequest(http.MethodOptions, "/admin/2fa", nil)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-trust-token")
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestHandlerRejectsNonPost(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/admin/2fa", nil)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerInvalidJSON(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/admin/2fa", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Invalid JSON", body["error"])
}

func TestHandlerActionRequired(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	rec, body := postAction(t, handler, map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Action required", body["error"])
}

func TestHandlerInvalidAction(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":  "drop_tables",
		"adminId": "a1",
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid action", body["error"])
}

func TestHandlerMissingBearer(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Missing or invalid Authorization header", body["error"])
}

func TestHandlerBadBearer(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not.a.jwt")
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestHandlerWrongSigningKeyRejected(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "a1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", body["error"])
}

func TestHandlerAdminIDRequired(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	rec, body := postAction(t, handler, map[string]any{
		"action": ActionGenerateSecret,
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "adminId required", body["error"])
}

func TestHandlerUnknownAdmin(t *testing.T) {
	handler := newTestHandler(t, newFakeStore())

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "missing",
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Admin not found", body["error"])
}

func TestHandlerSessionMustMatchAdmin(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, withSession(t, "someone-else@example.com"))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", body["error"])
}

func TestHandlerSessionEmailCaseInsensitive(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "A1@Example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["secret"])
}

func TestHandlerVerifyPasswordRunsWithoutSession(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":   ActionVerifyPassword,
		"adminId":  "a1",
		"password": "hunter2hunter2",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["needs_rehash"])
}

func TestHandlerCheckTrustRequiresFingerprint(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionCheckTrust,
		"adminId": "a1",
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "device_fingerprint and adminId required", body["error"])
}

func TestHandlerCheckTrustWithoutHeader(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)

	rec, body := postAction(t, handler, map[string]any{
		"action":             ActionCheckTrust,
		"adminId":            "a1",
		"device_fingerprint": "fp-abc",
	}, withSession(t, "a1@example.com"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["trusted"])
}

func TestHandlerVerifyTokenTrustFlow(t *testing.T) {
	store := newFakeStore()
	seedAccount(t, store, "a1", "a1@example.com", "hunter2hunter2")
	handler := newTestHandler(t, store)
	auth := withSession(t, "a1@example.com")

	rec, body := postAction(t, handler, map[string]any{
		"action":  ActionGenerateSecret,
		"adminId": "a1",
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	secret := body["secret"].(string)

	rec, body = postAction(t, handler, map[string]any{
		"action":             ActionVerifyToken,
		"adminId":            "a1",
		"token":              codeFor(t, secret),
		"remember":           true,
		"device_fingerprint": "fp-abc",
	}, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["success"])

	trustToken, ok := body["trust_token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, trustToken)

	rec, body = postAction(t, handler, map[string]any{
		"action":             ActionCheckTrust,
		"adminId":            "a1",
		"device_fingerprint": "fp-abc",
	}, func(r *http.Request) {
		auth(r)
		r.Header.Set("x-trust-token", trustToken)
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["trusted"])
}

func TestHandlerBearerTokenParsing(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer"))
	assert.Equal(t, "", BearerToken(""))
}
