// Package ratelimit bounds how many requests a caller may make per window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// entry tracks the token-bucket state for a single key.
type entry struct {
	tokens    float64
	lastCheck time.Time
}

// Bucket implements an in-memory token-bucket rate limiter.
// Tokens refill at a rate of (limit / window) per second.
type Bucket struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   int
	window  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// New creates a limiter granting each key limit tokens per window, refilled
// continuously. Close stops the background cleanup.
func New(limit int, window time.Duration) *Bucket {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	b := &Bucket{
		entries: make(map[string]*entry),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go b.cleanup()
	return b
}

// Allow consumes one token for key and reports whether one was available.
func (b *Bucket) Allow(_ context.Context, key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, exists := b.entries[key]
	if !exists {
		b.entries[key] = &entry{
			tokens:    float64(b.limit - 1),
			lastCheck: now,
		}
		return true
	}

	elapsed := now.Sub(e.lastCheck)
	e.lastCheck = now

	rate := float64(b.limit) / b.window.Seconds()
	e.tokens += elapsed.Seconds() * rate
	if e.tokens > float64(b.limit) {
		e.tokens = float64(b.limit)
	}

	if e.tokens < 1 {
		return false
	}

	e.tokens--
	return true
}

// Reset clears the rate-limit state for a specific key.
func (b *Bucket) Reset(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

func (b *Bucket) Close() {
	b.once.Do(func() { close(b.stop) })
}

// cleanup periodically removes entries idle for two windows.
func (b *Bucket) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			cutoff := b.now().Add(-2 * b.window)
			for key, e := range b.entries {
				if e.lastCheck.Before(cutoff) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
