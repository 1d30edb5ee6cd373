// Package revenue counts verified payments.
//
// Counters are kept in process and mirrored into a durable store.Store in the background.
// Mirroring is at-least-once and best-effort: a failed write is retried a few times, counted,
// and then dropped. Stats reports which source it read from.
package revenue

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/retry"
	"github.com/btcfi/gateway/store"
)

// Stats sources.
const (
	SourceDurable = "durable"
	SourceMemory  = "memory"
)

// Pricing-tier labels, in classification order.
var Labels = []string{"intelligence", "solv", "security", "broadcast", "zk", "stream", "standard"}

// Defaults.
const (
	DefaultTimeout   = 5 * time.Second
	DefaultHourlyTTL = 8 * 24 * time.Hour
	StatsDays        = 7
)

// Label classifies a request path into a pricing-tier label.
func Label(path string) string {
	switch {
	case strings.Contains(path, "/intelligence"):
		return "intelligence"
	case strings.Contains(path, "/solv"):
		return "solv"
	case strings.Contains(path, "/security"):
		return "security"
	case strings.Contains(path, "/broadcast"):
		return "broadcast"
	case strings.Contains(path, "/zk/"):
		return "zk"
	case strings.Contains(path, "/stream"):
		return "stream"
	default:
		return "standard"
	}
}

// Stats is a snapshot of the revenue counters.
type Stats struct {
	Source     string           `json:"source"`
	Total      int64            `json:"total"`
	PerNetwork map[string]int64 `json:"byNetwork"`
	PerTier    map[string]int64 `json:"byTier"`
	Daily      map[string]int64 `json:"daily"`

	// Since is when in-process counting started, or "persistent" for durable stats.
	Since string `json:"since"`
}

// Ledger records payments.
type Ledger struct {
	// Durable receives mirrored INCRs. Nil keeps counters in process only.
	Durable store.Store

	// Networks are reported in durable stats even when zero.
	Networks []string

	// Timeout bounds one mirror run or one Stats read.
	Timeout time.Duration

	HourlyTTL time.Duration
	Retry     retry.Config
	Now       func() time.Time

	Metrics *metrics.Recorder
	Logger  *slog.Logger

	mu         sync.Mutex
	closed     bool
	since      time.Time
	total      int64
	perNetwork map[string]int64
	perTier    map[string]int64
	daily      map[string]int64

	wg sync.WaitGroup
}

// New returns a ledger mirroring into durable, which may be nil.
func New(durable store.Store) *Ledger {
	return &Ledger{
		Durable:    durable,
		Networks:   []string{"base", "solana"},
		Timeout:    DefaultTimeout,
		HourlyTTL:  DefaultHourlyTTL,
		Retry:      retry.DefaultConfig,
		since:      time.Now().UTC(),
		perNetwork: make(map[string]int64),
		perTier:    make(map[string]int64),
		daily:      make(map[string]int64),
	}
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// RecordPayment counts one verified payment. It never blocks on the durable store.
func (l *Ledger) RecordPayment(network, path string) {
	label := Label(path)
	now := l.now()
	day := now.Format(time.DateOnly)

	l.mu.Lock()
	if l.perNetwork == nil {
		l.perNetwork = make(map[string]int64)
		l.perTier = make(map[string]int64)
		l.daily = make(map[string]int64)
	}
	l.total++
	l.perNetwork[network]++
	l.perTier[label]++
	l.daily[day]++
	closed := l.closed
	if l.Durable != nil && !closed {
		l.wg.Add(1)
	}
	l.mu.Unlock()

	if l.Durable == nil || closed {
		return
	}

	go func() {
		defer l.wg.Done()
		l.mirror(network, label, now)
	}()
}

func (l *Ledger) mirror(network, label string, now time.Time) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	day := now.Format(time.DateOnly)
	writes := []struct {
		key string
		ttl time.Duration
	}{
		{"payments:total", 0},
		{"payments:network:" + network, 0},
		{"payments:tier:" + label, 0},
		{"payments:daily:" + day, 0},
		{"payments:hourly:" + day + ":" + now.Format("15"), l.HourlyTTL},
	}

	for _, w := range writes {
		err := retry.Do(ctx, l.Retry, retry.Always, func(ctx context.Context) error {
			_, err := l.Durable.Incr(ctx, w.key, w.ttl)
			return err
		})
		if err != nil {
			l.Metrics.RevenueMirrorFailure()
			l.logger().Warn("revenue mirror write failed", "key", w.key, "error", err)
		}
	}
}

// Stats reads durable counters when reachable and falls back to the in-process snapshot.
func (l *Ledger) Stats(ctx context.Context) Stats {
	if l.Durable != nil {
		timeout := l.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		s, err := l.durableStats(rctx)
		if err == nil {
			return s
		}
		l.Metrics.StoreFallback("revenue")
		l.logger().Warn("durable revenue stats unavailable, serving memory", "error", err)
	}
	return l.memoryStats()
}

func (l *Ledger) durableStats(ctx context.Context) (Stats, error) {
	get := func(key string) (int64, error) {
		v, ok, err := l.Durable.Get(ctx, key)
		if err != nil || !ok {
			return 0, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, nil
		}
		return n, nil
	}

	s := Stats{
		Source:     SourceDurable,
		PerNetwork: make(map[string]int64, len(l.Networks)),
		PerTier:    make(map[string]int64, len(Labels)),
		Daily:      make(map[string]int64, StatsDays),
		Since:      "persistent",
	}

	var err error
	if s.Total, err = get("payments:total"); err != nil {
		return Stats{}, err
	}
	for _, n := range l.Networks {
		if s.PerNetwork[n], err = get("payments:network:" + n); err != nil {
			return Stats{}, err
		}
	}
	for _, t := range Labels {
		if s.PerTier[t], err = get("payments:tier:" + t); err != nil {
			return Stats{}, err
		}
	}
	now := l.now()
	for i := 0; i < StatsDays; i++ {
		day := now.AddDate(0, 0, -i).Format(time.DateOnly)
		if s.Daily[day], err = get("payments:daily:" + day); err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}

func (l *Ledger) memoryStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{
		Source:     SourceMemory,
		Total:      l.total,
		PerNetwork: make(map[string]int64, len(l.perNetwork)),
		PerTier:    make(map[string]int64, len(l.perTier)),
		Daily:      make(map[string]int64, len(l.daily)),
		Since:      l.since.Format(time.RFC3339),
	}
	for k, v := range l.perNetwork {
		s.PerNetwork[k] = v
	}
	for k, v := range l.perTier {
		s.PerTier[k] = v
	}
	for k, v := range l.daily {
		s.Daily[k] = v
	}
	return s
}

// Close stops new mirror writes and waits for in-flight ones.
func (l *Ledger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
