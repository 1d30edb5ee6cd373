package handlers

import (
	"crypto/subtle"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/revenue"
)

// HeaderAdminKey carries the admin key. "Authorization: Bearer <key>" is also accepted.
const HeaderAdminKey = "X-Admin-Key"

// labelPaths maps revenue labels to a representative path for pricing and display.
var labelPaths = map[string]string{
	"standard":     "/api/v1/fees",
	"intelligence": "/api/v1/intelligence",
	"security":     "/api/v1/security",
	"solv":         "/api/v1/solv",
	"broadcast":    "/api/v1/tx/broadcast",
	"zk":           "/api/v1/zk",
	"stream":       "/api/v1/stream",
}

func (h *Handlers) authorized(r *http.Request) bool {
	if h.AdminKey == "" {
		return false
	}
	key := r.Header.Get(HeaderAdminKey)
	if key == "" {
		key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.AdminKey)) == 1
}

// RequireAdmin rejects requests without the admin key.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			writeError(w, http.StatusUnauthorized, "Unauthorized. Set ADMIN_API_KEY env var and pass as Bearer token.", "UNAUTHORIZED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type treasuryWallet struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (h *Handlers) stats(r *http.Request) revenue.Stats {
	if h.Revenue == nil {
		return revenue.Stats{Source: revenue.SourceMemory}
	}
	return h.Revenue.Stats(r.Context())
}

func (h *Handlers) treasury(r *http.Request) map[string]treasuryWallet {
	out := make(map[string]treasuryWallet)
	if h.Payments == nil {
		return out
	}
	for _, rail := range h.Payments.Networks() {
		wallet := treasuryWallet{Address: rail.PayTo, Balance: "unknown"}
		switch {
		case rail.Chain.Family != gateway.FamilyEVM:
			wallet.Balance = "Check on Solscan"
		case h.Treasury != nil:
			bal, err := h.Treasury.BalanceOf(r.Context(), rail.PayTo)
			if err != nil {
				h.logger().Warn("treasury balance lookup failed", "network", rail.Chain.NetworkID, "error", err)
				wallet.Balance = "RPC error"
				break
			}
			wallet.Balance = "$" + FormatUSDC(bal) + " USDC"
		}
		out[rail.Chain.NetworkID] = wallet
	}
	return out
}

// AdminRevenue reports payment counters, treasury balances and the price list.
func (h *Handlers) AdminRevenue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"revenue": map[string]any{
			"treasury": h.treasury(r),
			"stats":    h.stats(r),
			"pricing":  PriceList(h.prices()),
		},
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

type endpointCount struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// AdminStats reports revenue estimated from payment counts and prices.
func (h *Handlers) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats := h.stats(r)
	prices := h.prices()

	var total float64
	byTier := make(map[string]float64, len(stats.PerTier))
	top := make([]endpointCount, 0, len(stats.PerTier))
	for label, count := range stats.PerTier {
		path, ok := labelPaths[label]
		if !ok {
			path = "/api/v1/" + label
		}
		rev := float64(count) * prices.Resolve(path)
		byTier[label] = rev
		total += rev
		if count > 0 {
			top = append(top, endpointCount{Label: label, Path: path, Count: count})
		}
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Label < top[j].Label
	})

	avg := prices.Default
	if stats.Total > 0 {
		avg = total / float64(stats.Total)
	}
	today := h.now().UTC().Format(time.DateOnly)
	var week int64
	for _, n := range stats.Daily {
		week += n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"revenue": map[string]any{
			"day":         float64(stats.Daily[today]) * avg,
			"week":        float64(week) * avg,
			"total":       total,
			"requestsDay": stats.Daily[today],
			"byTier":      byTier,
			"source":      stats.Source,
		},
		"topEndpoints": top,
		"daily":        stats.Daily,
		"timestamp":    h.now().UTC().Format(time.RFC3339),
	})
}
