package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Health states.
const (
	StatusHealthy  = "healthy"
	StatusPartial  = "partial"
	StatusDegraded = "degraded"
)

// Check is the result of one dependency probe.
type Check struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

type healthBody struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Uptime      int64            `json:"uptime"`
	UptimeHuman string           `json:"uptimeHuman"`
	Checks      map[string]Check `json:"checks"`
	X402        x402Status       `json:"x402"`
	Timestamp   time.Time        `json:"timestamp"`
}

type x402Status struct {
	Enabled  bool     `json:"enabled"`
	Networks []string `json:"networks"`
}

// Health probes the store and every facilitator concurrently.
//
// A store failure makes the gateway degraded; a facilitator failure only makes it partial,
// since free and signed traffic still flows.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	timeout := h.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	type probe struct {
		name     string
		critical bool
		fn       func(context.Context) error
	}
	var probes []probe
	if h.Store != nil {
		probes = append(probes, probe{name: "store", critical: true, fn: h.Store.Ping})
	}
	if h.Payments != nil {
		for _, rail := range h.Payments.Networks() {
			if rail.Facilitator == nil {
				continue
			}
			f := rail.Facilitator
			probes = append(probes, probe{
				name: "facilitator_" + rail.Chain.NetworkID,
				fn: func(ctx context.Context) error {
					_, err := f.Supported(ctx)
					return err
				},
			})
		}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(probes))
		status = StatusHealthy
	)
	for _, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			start := time.Now()
			err := p.fn(ctx)
			c := Check{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				c.Status = "down"
				c.Error = err.Error()
				h.logger().Warn("health probe failed", "check", p.name, "error", err)
			}

			mu.Lock()
			defer mu.Unlock()
			checks[p.name] = c
			switch {
			case err == nil:
			case p.critical:
				status = StatusDegraded
			case status == StatusHealthy:
				status = StatusPartial
			}
		}()
	}
	wg.Wait()

	now := h.now()
	uptime := now.Sub(h.Started)
	if h.Started.IsZero() || uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, healthBody{
		Status:      status,
		Version:     Version,
		Uptime:      int64(uptime.Seconds()),
		UptimeHuman: humanDuration(uptime),
		Checks:      checks,
		X402:        x402Status{Enabled: h.enabled(), Networks: h.networks()},
		Timestamp:   now.UTC(),
	})
}

func humanDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
