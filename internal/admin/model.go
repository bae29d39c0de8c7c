package admin

import "time"

type Account struct {
	ID              string
	Email           string
	PasswordHash    string
	TwoFASecret     string
	TwoFAConfigured bool
	LastLogin       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type TrustedDevice struct {
	ID         string
	AdminID    string
	DeviceHash string
	TokenID    string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	UserAgent  string
	CreatedAt  time.Time
}
