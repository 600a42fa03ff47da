package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Keyed holds one Guard per key (an owner id on the server side)
type Keyed struct {
	mu     sync.Mutex
	cfg    Config
	now    func() time.Time
	guards map[string]*Guard
}

// NewKeyed creates a keyed limiter sharing cfg across keys
func NewKeyed(cfg Config) *Keyed {
	return NewKeyedWithClock(cfg, time.Now)
}

// NewKeyedWithClock creates a keyed limiter reading time from now
func NewKeyedWithClock(cfg Config, now func() time.Time) *Keyed {
	return &Keyed{cfg: cfg, now: now, guards: make(map[string]*Guard)}
}

// Allow checks and records an action for key. When denied it returns how long
// the caller should wait
func (k *Keyed) Allow(key string) (bool, time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	g, ok := k.guards[key]
	if !ok {
		g = NewWithClock(k.cfg, k.now)
		k.guards[key] = g
	}
	if g.Allow() {
		return true, 0
	}
	return false, g.RetryAfter()
}

// LimitHTTP rejects requests over the limit with 429 and Retry-After.
// keyFn extracts the limiter key; an empty key passes through unlimited
func (k *Keyed) LimitHTTP(keyFn func(*http.Request) string, onDeny func(w http.ResponseWriter, retry time.Duration), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		ok, retry := k.Allow(key)
		if !ok {
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			onDeny(w, retry)
			return
		}
		next.ServeHTTP(w, r)
	})
}
