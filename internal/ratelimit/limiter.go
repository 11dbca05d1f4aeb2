// Package ratelimit enforces per-user budgets for messages and
// reasoning-backend tokens over fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter gates message processing per user. A user may hold several
// simultaneous connections, so implementations must use atomic
// increment-and-check semantics rather than a conversation-scoped lock.
type Limiter interface {
	// AllowMessage consumes one message from the user's budget, or
	// reports how long to wait.
	AllowMessage(ctx context.Context, userID string) (Decision, error)

	// AddTokens records reasoning-backend token consumption. Exceeding
	// the token budget blocks the next AllowMessage in the same window.
	AddTokens(ctx context.Context, userID string, n int) error
}

// Config holds the per-window budgets.
type Config struct {
	MessagesPerWindow int64
	TokensPerWindow   int64
	Window            time.Duration
}

// DefaultConfig returns the standard budget: 20 messages and 20000
// reasoning tokens per minute.
func DefaultConfig() Config {
	return Config{MessagesPerWindow: 20, TokensPerWindow: 20000, Window: time.Minute}
}

// userWindow is one user's consumption state. Counters reset only at a
// window boundary, won by a single CAS on windowStart.
type userWindow struct {
	windowStart atomic.Int64 // unix nanos
	messages    atomic.Int64
	tokens      atomic.Int64
	lastSeen    atomic.Int64 // unix nanos, for GC
}

// MemoryLimiter is the in-process Limiter.
type MemoryLimiter struct {
	cfg   Config
	users sync.Map // userID -> *userWindow
	now   func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &MemoryLimiter{cfg: cfg, now: time.Now}
}

func (l *MemoryLimiter) window(userID string) *userWindow {
	if v, ok := l.users.Load(userID); ok {
		return v.(*userWindow)
	}
	w := &userWindow{}
	w.windowStart.Store(l.now().UnixNano())
	actual, _ := l.users.LoadOrStore(userID, w)
	return actual.(*userWindow)
}

// rollover resets counters when the window has elapsed. Exactly one
// caller wins the CAS; losers see the fresh window.
func (l *MemoryLimiter) rollover(w *userWindow, now time.Time) {
	start := w.windowStart.Load()
	if now.UnixNano()-start < int64(l.cfg.Window) {
		return
	}
	if w.windowStart.CompareAndSwap(start, now.UnixNano()) {
		w.messages.Store(0)
		w.tokens.Store(0)
	}
}

// AllowMessage implements Limiter.
func (l *MemoryLimiter) AllowMessage(_ context.Context, userID string) (Decision, error) {
	now := l.now()
	w := l.window(userID)
	w.lastSeen.Store(now.UnixNano())
	l.rollover(w, now)

	retryAfter := time.Duration(w.windowStart.Load()+int64(l.cfg.Window)-now.UnixNano() + int64(time.Second))

	if l.cfg.TokensPerWindow > 0 && w.tokens.Load() >= l.cfg.TokensPerWindow {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	if n := w.messages.Add(1); n > l.cfg.MessagesPerWindow {
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true}, nil
}

// AddTokens implements Limiter.
func (l *MemoryLimiter) AddTokens(_ context.Context, userID string, n int) error {
	if n <= 0 {
		return nil
	}
	now := l.now()
	w := l.window(userID)
	w.lastSeen.Store(now.UnixNano())
	l.rollover(w, now)
	w.tokens.Add(int64(n))
	return nil
}

// Purge drops user state idle for longer than one full window.
func (l *MemoryLimiter) Purge() int {
	cutoff := l.now().Add(-2 * l.cfg.Window).UnixNano()
	removed := 0
	l.users.Range(func(k, v any) bool {
		if v.(*userWindow).lastSeen.Load() < cutoff {
			l.users.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// StartGC purges idle windows periodically until ctx is cancelled.
func (l *MemoryLimiter) StartGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.cfg.Window
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Purge()
			}
		}
	}()
}
