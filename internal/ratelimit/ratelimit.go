// Package ratelimit implements a per-key sliding-window rate limiter used
// to keep a misbehaving frontend from flooding the monitor with set-volume
// requests.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultSetVolumeLimit allows a dragged slider to stream updates
	// without letting a stuck client spin the device API.
	DefaultSetVolumeLimit = 30
	DefaultWindow         = time.Second

	staleAfterWindows = 10
	cleanupInterval   = 5 * time.Minute
)

// Limiter counts events per key inside a sliding time window.
type Limiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	limit  int
	window time.Duration

	nextCleanup time.Time
	now         func() time.Time // test hook
}

// New returns a limiter that allows limit events per key per window.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow reports whether another event for key fits inside the window, and
// records it if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextCleanup) {
		l.dropStale(now)
		l.nextCleanup = now.Add(cleanupInterval)
	}

	cutoff := now.Add(-l.window)
	recent := l.seen[key][:0]
	for _, at := range l.seen[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.limit {
		l.seen[key] = recent
		return false
	}
	l.seen[key] = append(recent, now)
	return true
}

// Forget discards all state for key, typically on client disconnect.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
}

// dropStale removes keys whose newest event is far outside the window, so
// the map does not grow with every client that ever connected.
func (l *Limiter) dropStale(now time.Time) {
	cutoff := now.Add(-time.Duration(staleAfterWindows) * l.window)
	for key, events := range l.seen {
		stale := true
		for _, at := range events {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.seen, key)
		}
	}
}
