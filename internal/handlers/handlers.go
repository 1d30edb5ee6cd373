// Package handlers serves the gateway's own endpoints: health, the API index, staking status,
// the admin revenue report, the .well-known discovery documents and the upstream proxy.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/revenue"
	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/store"
)

// Version is reported by the health and index endpoints.
const Version = "3.0.0"

// DefaultProbeTimeout bounds each dependency probe of the health check.
const DefaultProbeTimeout = 3 * time.Second

// Site describes the operator in discovery documents.
type Site struct {
	Name        string
	URL         string
	Description string
	Operator    string
	OperatorURL string
	Contact     string
}

// DefaultSite is the production operator.
var DefaultSite = Site{
	Name:        "BTCFi API",
	URL:         "https://btcfi.aiindigo.com",
	Description: "Bitcoin data, intelligence, security, Solv Protocol, and ZK proofs for AI agents",
	Operator:    "AI Indigo",
	OperatorURL: "https://aiindigo.com",
	Contact:     "security@aiindigo.com",
}

// Limits are the per-window quotas advertised in peac.txt.
type Limits struct {
	Free   int
	Signed int
	Window time.Duration
}

// Handlers holds the collaborators of the gateway-owned endpoints.
// Store, Staking, Revenue and Treasury may be nil.
type Handlers struct {
	Payments *payment.Gateway
	Store    store.Store
	Staking  staking.StatusProvider
	Escrow   staking.Escrow
	Revenue  *revenue.Ledger
	Treasury *Treasury

	// AdminKey protects the admin report. Empty rejects every admin request.
	AdminKey string

	Site         Site
	Limits       Limits
	ProbeTimeout time.Duration
	MCPTools     int

	Started time.Time
	Now     func() time.Time
	Logger  *slog.Logger
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handlers) site() Site {
	if h.Site.Name == "" {
		return DefaultSite
	}
	return h.Site
}

func (h *Handlers) enabled() bool {
	return h.Payments != nil && h.Payments.Enabled
}

func (h *Handlers) networks() []string {
	if h.Payments == nil {
		return nil
	}
	var names []string
	for _, r := range h.Payments.Networks() {
		names = append(names, r.Chain.NetworkID)
	}
	return names
}

func (h *Handlers) prices() gateway.PriceTable {
	if h.Payments == nil {
		return gateway.DefaultPriceTable()
	}
	return h.Payments.Prices
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// FormatPrice renders a USD price the way the index and admin report show it.
func FormatPrice(p float64) string {
	if p == 0 {
		return "free"
	}
	return "$" + strconv.FormatFloat(p, 'f', -1, 64)
}

// PriceList flattens a price table into path → display price, with "*" marking prefix entries.
func PriceList(t gateway.PriceTable) map[string]string {
	out := make(map[string]string, len(t.Exact)+len(t.Prefix)+1)
	for path, p := range t.Exact {
		out[path] = FormatPrice(p)
	}
	for path, p := range t.Prefix {
		out[path+"/*"] = FormatPrice(p)
	}
	out["*"] = FormatPrice(t.Default)
	return out
}

// priceRange returns the smallest and largest non-zero prices in t.
func priceRange(t gateway.PriceTable) (lo, hi float64) {
	var all []float64
	for _, p := range t.Exact {
		all = append(all, p)
	}
	for _, p := range t.Prefix {
		all = append(all, p)
	}
	all = append(all, t.Default)
	sort.Float64s(all)
	for _, p := range all {
		if p <= 0 {
			continue
		}
		if lo == 0 {
			lo = p
		}
		hi = p
	}
	return lo, hi
}
