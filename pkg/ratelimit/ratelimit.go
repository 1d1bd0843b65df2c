package ratelimit

import (
	"context"
	"sync"
	"time"
)

const DefaultWindow = time.Minute

// Key identifies a throttling domain.
type Key struct {
	Provider string
	Model    string
}

func (k Key) String() string {
	if k.Model == "" {
		return k.Provider
	}
	return k.Provider + "/" + k.Model
}

// Limit is the ceiling for one key. Zero values disable the corresponding check.
type Limit struct {
	MaxRequests int           // per window
	MinInterval time.Duration // between consecutive calls
}

// Config holds the ceilings. Lookup order is model, then provider, then Default.
type Config struct {
	Window    time.Duration
	Default   Limit
	Providers map[string]Limit
	Models    map[Key]Limit
}

func (c Config) LimitFor(key Key) Limit {
	if l, ok := c.Models[key]; ok {
		return l
	}
	if l, ok := c.Providers[key.Provider]; ok {
		return l
	}
	return c.Default
}

// State is a point-in-time copy of a key's bookkeeping.
type State struct {
	InWindow     int
	LastCall     time.Time
	BlockedUntil time.Time
}

type keyState struct {
	history      []time.Time
	lastCall     time.Time
	blockedUntil time.Time
}

// Limiter enforces per-key ceilings by sleeping. State lives for the process lifetime.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	states map[Key]*keyState
}

func NewLimiter(cfg Config, clock Clock) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		cfg:    cfg,
		clock:  clock,
		states: make(map[Key]*keyState),
	}
}

// Acquire blocks until a call for key is permitted and records it.
// It only fails when ctx is done, in which case nothing is recorded.
func (l *Limiter) Acquire(ctx context.Context, key Key) error {
	limit := l.cfg.LimitFor(key)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.mu.Lock()
		st := l.stateFor(key)
		now := l.clock.Now()
		wait := st.delay(now, limit, l.cfg.Window)
		if wait <= 0 {
			st.history = append(st.history, now)
			st.lastCall = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// NotifyCooldown blocks key for at least d from now. An existing later deadline is kept.
func (l *Limiter) NotifyCooldown(key Key, d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stateFor(key)
	until := l.clock.Now().Add(d)
	if until.After(st.blockedUntil) {
		st.blockedUntil = until
	}
}

func (l *Limiter) Snapshot(key Key) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.states[key]
	if !ok {
		return State{}
	}
	cutoff := l.clock.Now().Add(-l.cfg.Window)
	n := 0
	for _, t := range st.history {
		if t.After(cutoff) {
			n++
		}
	}
	return State{
		InWindow:     n,
		LastCall:     st.lastCall,
		BlockedUntil: st.blockedUntil,
	}
}

func (l *Limiter) stateFor(key Key) *keyState {
	st, ok := l.states[key]
	if !ok {
		st = &keyState{}
		l.states[key] = st
	}
	return st
}

// delay prunes expired history and returns how long the caller must still wait.
// Must be called with the limiter lock held.
func (s *keyState) delay(now time.Time, limit Limit, window time.Duration) time.Duration {
	cutoff := now.Add(-window)
	i := 0
	for i < len(s.history) && !s.history[i].After(cutoff) {
		i++
	}
	s.history = s.history[i:]

	var wait time.Duration
	if limit.MaxRequests > 0 && len(s.history) >= limit.MaxRequests {
		// the entry that must leave the window for the count to drop below the ceiling
		oldest := s.history[len(s.history)-limit.MaxRequests]
		wait = max(wait, oldest.Add(window).Sub(now))
	}
	if limit.MinInterval > 0 && !s.lastCall.IsZero() {
		wait = max(wait, s.lastCall.Add(limit.MinInterval).Sub(now))
	}
	if !s.blockedUntil.IsZero() {
		if now.Before(s.blockedUntil) {
			wait = max(wait, s.blockedUntil.Sub(now))
		} else {
			s.blockedUntil = time.Time{}
		}
	}
	return wait
}
