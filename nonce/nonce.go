// Package nonce implements single-use nonce claims and timestamp freshness checks for
// signed requests.
package nonce

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/store"
)

const (
	// DefaultTTL is how long a claimed nonce is remembered.
	DefaultTTL = 300 * time.Second

	// DefaultMaxDrift is the allowed distance between a declared timestamp and server time.
	DefaultMaxDrift = 60 * time.Second

	// MaxNonceLength bounds the size of a nonce key.
	MaxNonceLength = 128

	keyPrefix = "nonce:"
)

// Ledger records claimed nonces in a store.Store.
type Ledger struct {
	Store    store.Store
	TTL      time.Duration
	MaxDrift time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// New creates a Ledger with default TTL and drift.
func New(s store.Store) *Ledger {
	return &Ledger{
		Store:    s,
		TTL:      DefaultTTL,
		MaxDrift: DefaultMaxDrift,
		Now:      time.Now,
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Claim returns true the first time nonce is seen within the TTL. A store failure is
// treated as a failed claim.
func (l *Ledger) Claim(ctx context.Context, nonce string) bool {
	ok, err := l.claim(ctx, nonce)
	if err != nil {
		l.logger().Warn("nonce claim failed", "error", err)
		return false
	}
	return ok
}

func (l *Ledger) claim(ctx context.Context, nonce string) (bool, error) {
	if nonce == "" || len(nonce) > MaxNonceLength {
		return false, nil
	}

	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	seen := strconv.FormatInt(l.now().Unix(), 10)
	return l.Store.SetNX(ctx, keyPrefix+nonce, seen, ttl)
}

// CheckTimestamp reports whether ts, in unix seconds, is within MaxDrift of server time.
func (l *Ledger) CheckTimestamp(ts string) bool {
	declared, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}

	drift := l.MaxDrift
	if drift <= 0 {
		drift = DefaultMaxDrift
	}

	diff := l.now().Unix() - declared
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(drift/time.Second)
}

// Admit checks freshness and then claims the nonce.
//
// It returns gateway.ErrTimestampSkew, gateway.ErrNonceReplayed or a wrapped
// gateway.ErrStoreUnavailable.
func (l *Ledger) Admit(ctx context.Context, nonce, ts string) error {
	if !l.CheckTimestamp(ts) {
		return fmt.Errorf("%w: %q", gateway.ErrTimestampSkew, ts)
	}

	ok, err := l.claim(ctx, nonce)
	if err != nil {
		return gateway.NewGatewayError(gateway.ErrCodeUpstreamUnavailable, "nonce claim", err)
	}
	if !ok {
		return gateway.ErrNonceReplayed
	}
	return nil
}
