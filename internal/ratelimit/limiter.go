// Package ratelimit enforces the per-admin sliding-window budget for failed
// one-time-code verifications.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
)

type Status struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is injected into the verification flow so the backing store can be
// swapped: in-process for a single instance, Redis for a horizontally scaled
// deployment.
type Limiter interface {
	// Status reports whether the key may attempt a verification right now.
	// It never counts as an attempt itself.
	Status(ctx context.Context, key string, now time.Time) (Status, error)

	// RecordFailure counts one failed attempt and returns the attempts left
	// in the current window.
	RecordFailure(ctx context.Context, key string, now time.Time) (int, error)

	// Reset clears the counter after a successful verification.
	Reset(ctx context.Context, key string) error
}
