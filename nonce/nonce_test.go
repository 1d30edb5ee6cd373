package nonce

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/store/memory"
)

type failingStore struct{ memory.Store }

func (f *failingStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, gateway.ErrStoreUnavailable
}

func newTestLedger() (*Ledger, *time.Time) {
	now := time.Unix(1700000000, 0)
	mem := memory.New()
	mem.Now = func() time.Time { return now }
	l := New(mem)
	l.Now = func() time.Time { return now }
	return l, &now
}

func TestLedger_Claim(t *testing.T) {
	ctx := context.Background()

	t.Run("first use accepted, replay rejected", func(t *testing.T) {
		l, _ := newTestLedger()
		if !l.Claim(ctx, "abc") {
			t.Fatal("expected first claim to succeed")
		}
		if l.Claim(ctx, "abc") {
			t.Fatal("expected replay to be rejected")
		}
	})

	t.Run("accepted again after ttl", func(t *testing.T) {
		l, now := newTestLedger()
		l.Claim(ctx, "abc")
		*now = now.Add(301 * time.Second)
		if !l.Claim(ctx, "abc") {
			t.Error("expected claim to succeed after ttl")
		}
	})

	t.Run("empty and oversized nonces", func(t *testing.T) {
		l, _ := newTestLedger()
		if l.Claim(ctx, "") {
			t.Error("expected empty nonce to be rejected")
		}
		if l.Claim(ctx, strings.Repeat("n", MaxNonceLength+1)) {
			t.Error("expected oversized nonce to be rejected")
		}
	})

	t.Run("store failure fails closed", func(t *testing.T) {
		l := New(&failingStore{})
		if l.Claim(ctx, "abc") {
			t.Error("expected claim to fail when the store is down")
		}
	})
}

func TestLedger_CheckTimestamp(t *testing.T) {
	l, now := newTestLedger()
	base := now.Unix()

	tests := []struct {
		name string
		ts   string
		want bool
	}{
		{"now", strconv.FormatInt(base, 10), true},
		{"59s ago", strconv.FormatInt(base-59, 10), true},
		{"60s ahead", strconv.FormatInt(base+60, 10), true},
		{"61s ago", strconv.FormatInt(base-61, 10), false},
		{"61s ahead", strconv.FormatInt(base+61, 10), false},
		{"not a number", "yesterday", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.CheckTimestamp(tt.ts); got != tt.want {
				t.Errorf("CheckTimestamp(%q) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestLedger_Admit(t *testing.T) {
	ctx := context.Background()
	l, now := newTestLedger()
	ts := strconv.FormatInt(now.Unix(), 10)

	if err := l.Admit(ctx, "n1", ts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Admit(ctx, "n1", ts); !errors.Is(err, gateway.ErrNonceReplayed) {
		t.Errorf("expected ErrNonceReplayed, got %v", err)
	}
	if err := l.Admit(ctx, "n2", "1"); !errors.Is(err, gateway.ErrTimestampSkew) {
		t.Errorf("expected ErrTimestampSkew, got %v", err)
	}

	// A stale timestamp must not burn the nonce.
	if err := l.Admit(ctx, "n2", ts); err != nil {
		t.Errorf("expected n2 to still be claimable, got %v", err)
	}

	failing := New(&failingStore{})
	failing.Now = l.Now
	err := failing.Admit(ctx, "n3", ts)
	if gateway.CodeOf(err) != gateway.ErrCodeUpstreamUnavailable {
		t.Errorf("expected upstream_unavailable, got %v", err)
	}
}
