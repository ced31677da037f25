package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Action names a rate-limited operation. Each action has its own keyspace so
// abuse in one dimension cannot starve unrelated legitimate actions.
type Action string

const (
	ActionConnect     Action = "connect"
	ActionJoinRoom    Action = "join-room"
	ActionSendMessage Action = "send-message"
)

// Config is one ceiling. The per-action values come from gateway
// configuration, not from this package.
type Config struct {
	Max    int
	Window time.Duration
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter keyed by (subject, action). Windows are
// created lazily and live only in process memory.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Check consumes one unit for the key and reports whether it was allowed.
// Within any window at most cfg.Max calls return Allowed.
func (l *Limiter) Check(subjectID string, action Action, cfg Config) Result {
	key := fmt.Sprintf("%s:%s", action, subjectID)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(cfg.Window)}
		l.windows[key] = w
		return Result{Allowed: true, Remaining: maxInt(cfg.Max-1, 0), ResetAt: w.resetAt}
	}

	if w.count >= cfg.Max {
		return Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}
	}

	w.count++
	return Result{Allowed: true, Remaining: maxInt(cfg.Max-w.count, 0), ResetAt: w.resetAt}
}

// Sweep drops expired windows. Call it periodically to bound memory.
func (l *Limiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// RunJanitor sweeps on the given interval until stop is closed.
func (l *Limiter) RunJanitor(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-stop:
			return
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
