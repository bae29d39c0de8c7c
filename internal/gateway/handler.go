package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"admin-serverless/internal/admin"
	"admin-serverless/internal/observability"
)

const (
	maxJSONBodyBytes = 1 << 20
	trustTokenHeader = "x-trust-token"
)

// Handler routes an inbound action to one of the gateway operations after
// resolving the caller's authentication context.
type Handler struct {
	service  *Service
	sessions *Sessions
	logger   *observability.Logger
}

func NewHandler(service *Service, sessions *Sessions, logger *observability.Logger) *Handler {
	return &Handler{service: service, sessions: sessions, logger: logger}
}

func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	applyCORS(w)

	// Preflight is answered unconditionally.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "Action required")
		return
	}

	// verify_password is part of the login handshake and runs before a
	// session exists; everything else needs a bearer credential.
	requiresAuth := req.Action != ActionVerifyPassword

	var sessionEmail string
	if requiresAuth {
		token := BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing or invalid Authorization header")
			return
		}

		email, err := h.sessions.Email(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		sessionEmail = email
	}

	if actionsRequiringAdminID[req.Action] && req.AdminID == "" {
		writeError(w, http.StatusBadRequest, "adminId required")
		return
	}

	ctx := r.Context()

	var account admin.Account
	if req.AdminID != "" {
		fetched, err := h.service.Account(ctx, req.AdminID)
		if err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "Admin not found")
				return
			}
			h.fail(w, r, err)
			return
		}

		// A session may only act on its own admin record.
		if requiresAuth && fetched.Email != "" && !strings.EqualFold(fetched.Email, sessionEmail) {
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}

		account = fetched
	}

	var (
		status int
		body   map[string]any
		err    error
	)

	switch req.Action {
	case ActionGenerateSecret:
		status, body, err = h.service.GenerateSecret(ctx, account)

	case ActionVerifyToken:
		status, body, err = h.service.VerifyToken(ctx, account, req.Token, req.DeviceFingerprint, req.Remember, r.UserAgent())

	case ActionCheckTrust:
		if req.DeviceFingerprint == "" || req.AdminID == "" {
			writeError(w, http.StatusBadRequest, "device_fingerprint and adminId required")
			return
		}
		status, body, err = h.service.CheckTrust(ctx, req.AdminID, req.DeviceFingerprint, r.Header.Get(trustTokenHeader))

	case ActionVerifyPassword:
		status, body, err = h.service.VerifyPassword(ctx, account, req.Password)

	case ActionChangePassword:
		status, body, err = h.service.ChangePassword(ctx, account, req.OldPassword, req.NewPassword)

	case ActionDisable2FA:
		status, body, err = h.service.Disable2FA(ctx, account, req.Password, req.Token)

	default:
		writeError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, status, body)
}

// fail reports an unexpected error without leaking internal detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	sentry.CaptureException(err)
	h.logger.Error("gateway_action_failed", map[string]any{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func applyCORS(w http.ResponseWriter) {
	header := w.Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type, x-trust-token")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
