package gateway

// Request is the JSON body of every gateway call. Fields beyond action are
// action-specific; unknown fields are tolerated.
type Request struct {
	Action            string `json:"action"`
	AdminID           string `json:"adminId"`
	Token             string `json:"token"`
	Password          string `json:"password"`
	OldPassword       string `json:"old_password"`
	NewPassword       string `json:"new_password"`
	DeviceFingerprint string `json:"device_fingerprint"`
	Remember          bool   `json:"remember"`
}

const (
	ActionGenerateSecret = "generate_secret"
	ActionVerifyToken    = "verify_token"
	ActionCheckTrust     = "check_trust"
	ActionVerifyPassword = "verify_password"
	ActionChangePassword = "change_password"
	ActionDisable2FA     = "disable_2fa"
)

var actionsRequiringAdminID = map[string]bool{
	ActionGenerateSecret: true,
	ActionVerifyToken:    true,
	ActionDisable2FA:     true,
	ActionVerifyPassword: true,
	ActionChangePassword: true,
}

func failure(status int, message string) (int, map[string]any) {
	return status, map[string]any{"success": false, "error": message}
}
