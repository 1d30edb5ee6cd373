// Package ratelimit enforces per-tier request ceilings over fixed windows.
//
// Each identity gets one counter per window, keyed rl:<tier>:<fingerprint>:<windowStart>.
// Exceeding the ceiling increments a violation streak (rl:viol:<tier>:<fingerprint>) that
// outlives the window, and the advertised retry delay doubles with each violation up to a cap.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/store"
	"github.com/btcfi/gateway/store/memory"
)

// Defaults.
const (
	DefaultFreeLimit    = 100
	DefaultSignedLimit  = 500
	DefaultWindow       = 60 * time.Second
	DefaultBackoffBase  = 60 * time.Second
	DefaultMaxBackoff   = 300 * time.Second
	DefaultViolationTTL = 10 * time.Minute
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Tier      gateway.Tier
	Limit     int
	Remaining int

	// RetryAfter is set when the request is refused.
	RetryAfter time.Duration

	// ResetAt is the end of the current window.
	ResetAt time.Time
}

// Limiter counts requests per identity.
type Limiter struct {
	// Primary is the shared store, usually Redis. Nil means Fallback only.
	Primary store.Store

	// Fallback is used whenever Primary fails. It is created on demand when nil.
	Fallback store.Store

	Limits       map[gateway.Tier]int
	Window       time.Duration
	BackoffBase  time.Duration
	MaxBackoff   time.Duration
	ViolationTTL time.Duration

	Now     func() time.Time
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	fallbackOnce sync.Once
}

// New creates a Limiter with default ceilings over primary.
func New(primary store.Store) *Limiter {
	return &Limiter{
		Primary:  primary,
		Fallback: memory.New(),
		Limits: map[gateway.Tier]int{
			gateway.TierFree:   DefaultFreeLimit,
			gateway.TierSigned: DefaultSignedLimit,
		},
		Window:       DefaultWindow,
		BackoffBase:  DefaultBackoffBase,
		MaxBackoff:   DefaultMaxBackoff,
		ViolationTTL: DefaultViolationTTL,
		Now:          time.Now,
	}
}

// Allow counts one request for id and reports whether it may proceed.
func (l *Limiter) Allow(ctx context.Context, id gateway.Identity) Decision {
	if !id.Tier.Limited() {
		return Decision{Allowed: true, Unlimited: true, Tier: id.Tier}
	}

	limit := l.limitFor(id.Tier)
	window := durationOr(l.Window, DefaultWindow)
	now := l.now()

	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	start := now.Unix() / windowSecs * windowSecs
	resetAt := time.Unix(start+windowSecs, 0)

	key := fmt.Sprintf("rl:%s:%s:%d", id.Tier, id.ClientFingerprint, start)
	count := l.incr(ctx, key, window)

	if count <= int64(limit) {
		return Decision{
			Allowed:   true,
			Tier:      id.Tier,
			Limit:     limit,
			Remaining: limit - int(count),
			ResetAt:   resetAt,
		}
	}

	violKey := fmt.Sprintf("rl:viol:%s:%s", id.Tier, id.ClientFingerprint)
	violTTL := durationOr(l.ViolationTTL, DefaultViolationTTL)
	streak := l.incr(ctx, violKey, violTTL)
	l.refresh(ctx, violKey, violTTL)

	l.Metrics.RateLimited(string(id.Tier))
	return Decision{
		Allowed:    false,
		Tier:       id.Tier,
		Limit:      limit,
		Remaining:  0,
		RetryAfter: l.Backoff(streak),
		ResetAt:    resetAt,
	}
}

// Backoff returns min(MaxBackoff, BackoffBase * 2^(streak-1)).
func (l *Limiter) Backoff(streak int64) time.Duration {
	base := durationOr(l.BackoffBase, DefaultBackoffBase)
	maxBackoff := durationOr(l.MaxBackoff, DefaultMaxBackoff)
	if streak < 1 {
		streak = 1
	}

	d := base
	for i := int64(1); i < streak; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func (l *Limiter) limitFor(t gateway.Tier) int {
	if n, ok := l.Limits[t]; ok {
		return n
	}
	if t == gateway.TierSigned {
		return DefaultSignedLimit
	}
	return DefaultFreeLimit
}

// incr counts through Primary and falls back to the local store on any error.
func (l *Limiter) incr(ctx context.Context, key string, ttl time.Duration) int64 {
	if l.Primary != nil {
		n, err := l.Primary.Incr(ctx, key, ttl)
		if err == nil {
			return n
		}
		l.Metrics.StoreFallback("ratelimit")
		l.logger().Warn("rate limit store unavailable, using local counters", "error", err)
	}

	n, err := l.fallback().Incr(ctx, key, ttl)
	if err != nil {
		// Fail open.
		l.logger().Error("local rate limit counter failed", "key", key, "error", err)
		return 0
	}
	return n
}

func (l *Limiter) refresh(ctx context.Context, key string, ttl time.Duration) {
	if l.Primary != nil {
		if err := l.Primary.Expire(ctx, key, ttl); err == nil {
			return
		}
	}
	_ = l.fallback().Expire(ctx, key, ttl)
}

func (l *Limiter) fallback() store.Store {
	l.fallbackOnce.Do(func() {
		if l.Fallback == nil {
			l.Fallback = memory.New()
		}
	})
	return l.Fallback
}

func (l *Limiter) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Limiter) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
