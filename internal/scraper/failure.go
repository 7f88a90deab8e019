package scraper

import (
	"sync"
	"time"
)

// TrackerConfig tunes the failure-to-cooldown state machine.
type TrackerConfig struct {
	// Window is how far back failures count toward the threshold.
	Window time.Duration
	// Threshold is the number of in-window failures that triggers a cooldown.
	Threshold int
	// Cooldown is how long dispatch pauses once triggered.
	Cooldown time.Duration
}

// DefaultTrackerConfig matches the production tuning for the IPTU site.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Window:    10 * time.Minute,
		Threshold: 2,
		Cooldown:  20 * time.Minute,
	}
}

// CooldownState reports whether dispatch is paused and until when.
type CooldownState struct {
	Active bool
	Until  time.Time
}

// FailureTracker counts failures over a rolling window and enters a
// cooldown when the threshold is hit. A success wipes all failure
// history and any pending cooldown. Safe for concurrent use.
type FailureTracker struct {
	cfg TrackerConfig

	mu            sync.Mutex
	failures      []time.Time
	cooldownUntil time.Time
}

// NewFailureTracker creates a tracker. Zero config fields fall back to
// the defaults.
func NewFailureTracker(cfg TrackerConfig) *FailureTracker {
	def := DefaultTrackerConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &FailureTracker{cfg: cfg}
}

// RecordFailure notes a failure at now and returns the resulting state.
// Crossing the threshold starts a cooldown ending at now+Cooldown.
func (t *FailureTracker) RecordFailure(now time.Time) CooldownState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)
	t.failures = append(t.failures, now)

	if len(t.failures) >= t.cfg.Threshold && now.After(t.cooldownUntil) {
		t.cooldownUntil = now.Add(t.cfg.Cooldown)
	}
	return t.stateLocked(now)
}

// RecordSuccess clears all failure history and cancels any cooldown.
func (t *FailureTracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures = t.failures[:0]
	t.cooldownUntil = time.Time{}
}

// State returns the cooldown state as of now.
func (t *FailureTracker) State(now time.Time) CooldownState {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)
	return t.stateLocked(now)
}

// FailureCount reports how many failures remain inside the window.
func (t *FailureTracker) FailureCount(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune(now)
	return len(t.failures)
}

func (t *FailureTracker) stateLocked(now time.Time) CooldownState {
	if now.Before(t.cooldownUntil) {
		return CooldownState{Active: true, Until: t.cooldownUntil}
	}
	return CooldownState{}
}

func (t *FailureTracker) prune(now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	kept := t.failures[:0]
	for _, ts := range t.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.failures = kept
}
