// Package ratelimit provides the fixed-window request limiter applied to the
// public API routes.
//
// Windows live in a shared store (Redis) so that limits hold across server
// instances. When the shared store cannot be reached the limiter falls back to
// a process-local store with the same semantics.
//
// The default mode reads then writes the window, so concurrent requests for the
// same key can undercount and let a short burst through. Atomic mode runs the
// check-and-increment as a single Lua script instead.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/portfolio-dashboard/internal/logging"
)

// Default limits for API routes
const (
	DefaultLimit  = 30
	DefaultWindow = 60 * time.Second
)

// Clock returns the current time
type Clock func() time.Time

// Result is the outcome of one limiter check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    int64 // unix seconds
	RetryAfter int64 // seconds, zero when allowed
}

// Options configures a Limiter
type Options struct {
	// Store is the shared window store. Nil means process-local only.
	Store Store
	// Atomic uses the store's single-step increment when it has one
	Atomic bool
	Clock  Clock
	Logger *logging.Logger
}

// Limiter enforces fixed-window limits per key
type Limiter struct {
	store    Store
	fallback *MemoryStore
	atomic   bool
	clock    Clock
	logger   *logging.Logger
}

// NewLimiter creates a new limiter
func NewLimiter(opts Options) *Limiter {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Limiter{
		store:    opts.Store,
		fallback: NewMemoryStore(clock),
		atomic:   opts.Atomic,
		clock:    clock,
		logger:   logger.WithField("component", "ratelimit"),
	}
}

// KeyFor builds the window key for a client, target address and route
func KeyFor(route, clientIP, address string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", route, clientIP, strings.ToLower(address))
}

// Allow counts one request against key. It never fails: if the shared store
// errors the request is counted in the process-local fallback instead.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	if limit < 1 {
		limit = 1
	}
	if window < time.Second {
		window = time.Second
	}
	now := l.clock().Unix()

	if l.store != nil {
		if as, ok := l.store.(atomicStore); ok && l.atomic {
			w, allowed, err := as.Increment(ctx, key, limit, window, now)
			if err == nil {
				return buildResult(allowed, limit, w, now)
			}
			l.logFallback(key, err)
		} else {
			res, err := l.check(ctx, l.store, key, limit, window, now)
			if err == nil {
				return res
			}
			l.logFallback(key, err)
		}
	}

	// the memory store never errors
	res, _ := l.check(ctx, l.fallback, key, limit, window, now)
	return res
}

// check is the read-modify-write fixed-window step
func (l *Limiter) check(ctx context.Context, store Store, key string, limit int, window time.Duration, now int64) (Result, error) {
	current, err := store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}

	w := Window{Count: 0, ResetAt: now + windowSeconds(window)}
	if current != nil && now <= current.ResetAt {
		w = *current
	}

	w.Count++
	if w.Count > limit {
		w.Count--
		return buildResult(false, limit, w, now), nil
	}

	if err := store.Set(ctx, key, w, window); err != nil {
		return Result{}, err
	}
	return buildResult(true, limit, w, now), nil
}

func (l *Limiter) logFallback(key string, err error) {
	l.logger.WithError(err).WithField("key", key).Warn("Rate limit store unavailable, using in-memory fallback")
}

func buildResult(allowed bool, limit int, w Window, now int64) Result {
	res := Result{
		Allowed: allowed,
		Limit:   limit,
		ResetAt: w.ResetAt,
	}
	if allowed {
		res.Remaining = limit - w.Count
		return res
	}
	res.RetryAfter = w.ResetAt - now
	if res.RetryAfter < 1 {
		res.RetryAfter = 1
	}
	return res
}

// windowSeconds rounds a window up to whole seconds
func windowSeconds(window time.Duration) int64 {
	s := int64(math.Ceil(window.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
