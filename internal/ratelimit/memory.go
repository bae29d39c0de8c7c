package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps attempt counters in a process-local map. Counters do not
// survive restarts and are not shared across instances, so this backend is
// only suitable for a single-instance deployment.
type Memory struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	entries     map[string]*memoryEntry
	maxKeys     int
}

type memoryEntry struct {
	count       int
	windowStart time.Time
}

func NewMemory(maxAttempts int, window time.Duration) *Memory {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}

	return &Memory{
		maxAttempts: maxAttempts,
		window:      window,
		entries:     make(map[string]*memoryEntry),
		maxKeys:     5000,
	}
}

func (m *Memory) Status(_ context.Context, key string, now time.Time) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[key]
	if entry == nil || now.Sub(entry.windowStart) > m.window {
		return Status{Allowed: true, Remaining: m.maxAttempts}, nil
	}

	if entry.count >= m.maxAttempts {
		retryAfter := entry.windowStart.Add(m.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Status{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Status{Allowed: true, Remaining: m.maxAttempts - entry.count}, nil
}

func (m *Memory) RecordFailure(_ context.Context, key string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[key]
	if entry == nil || now.Sub(entry.windowStart) > m.window {
		entry = &memoryEntry{windowStart: now}
		m.entries[key] = entry
	}
	entry.count++

	if len(m.entries) > m.maxKeys {
		threshold := now.Add(-m.window)
		for k, v := range m.entries {
			if v.windowStart.Before(threshold) {
				delete(m.entries, k)
			}
		}
	}

	remaining := m.maxAttempts - entry.count
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

func (m *Memory) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}
