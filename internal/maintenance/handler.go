package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"admin-serverless/internal/admin"
	"admin-serverless/internal/observability"
)

// CleanupHandler is hit by an external scheduler to purge expired trusted
// devices and aged audit entries. It is gated by a dedicated cron secret, not
// by an admin session.
type CleanupHandler struct {
	repo           *admin.Repository
	logger         *observability.Logger
	cronSecret     string
	auditRetention time.Duration
	batchSize      int
}

func NewCleanupHandler(repo *admin.Repository, logger *observability.Logger, cronSecret string, auditRetention time.Duration, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		repo:           repo,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		auditRetention: auditRetention,
		batchSize:      batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.repo.CleanupExpired(r.Context(), h.auditRetention, h.batchSize)
	if err != nil {
		h.logger.Error("cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_trusted_devices": result.DeletedTrustedDevices,
		"deleted_audit_entries":   result.DeletedAuditEntries,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
