package ratelimit

import (
	"time"
)

// State is the guard's current disposition
type State int

const (
	Idle State = iota
	CanAct
	Throttled
	Backoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CanAct:
		return "can_act"
	case Throttled:
		return "throttled"
	case Backoff:
		return "backoff"
	}
	return "unknown"
}

// Config bounds how often a context may act
type Config struct {
	// Limit is the ceiling of actions per Window
	Limit  int
	Window time.Duration
	// Cooldown is the minimum gap between two actions
	Cooldown time.Duration
	// CeilingBackoff is how long to back off once the ceiling is hit.
	// Zero means until the oldest logged action leaves the window
	CeilingBackoff time.Duration
}

// Guard is a rolling-window limiter with an explicit backoff state.
// A Guard belongs to one execution context and is not safe for concurrent use
type Guard struct {
	cfg          Config
	now          func() time.Time
	actions      []time.Time
	backoffUntil time.Time
}

// New creates a Guard using the wall clock
func New(cfg Config) *Guard {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a Guard reading time from now
func NewWithClock(cfg Config, now func() time.Time) *Guard {
	return &Guard{cfg: cfg, now: now}
}

// CanAct reports whether an action is allowed right now. Hitting the ceiling
// moves the guard into backoff
func (g *Guard) CanAct() bool {
	now := g.now()
	if now.Before(g.backoffUntil) {
		return false
	}
	g.prune(now)

	if g.cfg.Limit > 0 && len(g.actions) >= g.cfg.Limit {
		until := g.actions[0].Add(g.cfg.Window)
		if g.cfg.CeilingBackoff > 0 {
			until = now.Add(g.cfg.CeilingBackoff)
		}
		g.backoffUntil = until
		return false
	}

	if n := len(g.actions); n > 0 && g.cfg.Cooldown > 0 {
		if now.Sub(g.actions[n-1]) < g.cfg.Cooldown {
			return false
		}
	}
	return true
}

// Record logs an action at the current time
func (g *Guard) Record() {
	g.actions = append(g.actions, g.now())
}

// Allow checks and records in one step
func (g *Guard) Allow() bool {
	if !g.CanAct() {
		return false
	}
	g.Record()
	return true
}

// Backoff forces the guard into backoff for d regardless of the log
func (g *Guard) Backoff(d time.Duration) {
	until := g.now().Add(d)
	if until.After(g.backoffUntil) {
		g.backoffUntil = until
	}
}

// RetryAfter returns how long until the guard may leave backoff
func (g *Guard) RetryAfter() time.Duration {
	now := g.now()
	if now.Before(g.backoffUntil) {
		return g.backoffUntil.Sub(now)
	}
	g.prune(now)
	if g.cfg.Limit > 0 && len(g.actions) >= g.cfg.Limit {
		return g.actions[0].Add(g.cfg.Window).Sub(now)
	}
	if n := len(g.actions); n > 0 && g.cfg.Cooldown > 0 {
		if d := g.cfg.Cooldown - now.Sub(g.actions[n-1]); d > 0 {
			return d
		}
	}
	return 0
}

// State reports the guard's state without changing it
func (g *Guard) State() State {
	now := g.now()
	if now.Before(g.backoffUntil) {
		return Backoff
	}
	g.prune(now)
	if len(g.actions) == 0 {
		return Idle
	}
	if g.cfg.Limit > 0 && len(g.actions) >= g.cfg.Limit {
		return Throttled
	}
	if g.cfg.Cooldown > 0 && now.Sub(g.actions[len(g.actions)-1]) < g.cfg.Cooldown {
		return Throttled
	}
	return CanAct
}

func (g *Guard) prune(now time.Time) {
	cutoff := now.Add(-g.cfg.Window)
	i := 0
	for i < len(g.actions) && !g.actions[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.actions = append(g.actions[:0], g.actions[i:]...)
	}
}
