package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PEACVersion is the policy-file format version served in peac.txt.
const PEACVersion = "0.9.15"

const discoveryCache = "public, s-maxage=3600"

type discoveryNetwork struct {
	Network             string `json:"network"`
	ChainID             string `json:"chain_id"`
	Name                string `json:"name"`
	Asset               string `json:"asset"`
	AssetSymbol         string `json:"asset_symbol"`
	PayTo               string `json:"pay_to"`
	Facilitator         string `json:"facilitator"`
	FacilitatorProvider string `json:"facilitator_provider,omitempty"`
}

// X402Discovery serves /.well-known/x402-discovery.json.
func (h *Handlers) X402Discovery(w http.ResponseWriter, r *http.Request) {
	site := h.site()
	lo, hi := priceRange(h.prices())

	var networks []discoveryNetwork
	for _, n := range h.networkInfo() {
		networks = append(networks, discoveryNetwork{
			Network:             n.Network,
			ChainID:             n.ChainID,
			Name:                h.chainName(n.Network),
			Asset:               n.Asset,
			AssetSymbol:         "USDC",
			PayTo:               n.PayTo,
			Facilitator:         n.Facilitator,
			FacilitatorProvider: n.Provider,
		})
	}

	mcp := map[string]any{"endpoint": "/api/mcp", "transport": "streamable-http"}
	if h.MCPTools > 0 {
		mcp["tools"] = h.MCPTools
	}

	w.Header().Set("Cache-Control", discoveryCache)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "2.0",
		"provider": map[string]string{
			"name":        site.Name,
			"url":         site.URL,
			"description": site.Description,
		},
		"payment": map[string]any{
			"enabled":    h.enabled(),
			"networks":   networks,
			"currency":   "USD",
			"min_amount": strconv.FormatFloat(lo, 'f', 2, 64),
			"max_amount": strconv.FormatFloat(hi, 'f', 2, 64),
		},
		"receipts": map[string]string{
			"format": "PEAC",
			"header": "X-PEAC-Receipt",
		},
		"peac": "/.well-known/peac.txt",
		"mcp":  mcp,
	})
}

func (h *Handlers) chainName(network string) string {
	for _, r := range h.Payments.Networks() {
		if r.Chain.NetworkID == network {
			return r.Chain.Name
		}
	}
	return network
}

// PEAC serves /.well-known/peac.txt.
func (h *Handlers) PEAC(w http.ResponseWriter, r *http.Request) {
	site := h.site()
	window := windowName(h.Limits.Window)

	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\n", PEACVersion)
	fmt.Fprintf(&b, "provider: %s\n", site.Name)
	fmt.Fprintf(&b, "provider_url: %s\n", site.URL)
	if site.Operator != "" {
		fmt.Fprintf(&b, "operator: %s\n", site.Operator)
		fmt.Fprintf(&b, "operator_url: %s\n", site.OperatorURL)
	}
	b.WriteString("\n")
	b.WriteString("usage: conditional\n")
	b.WriteString("purposes: [research, commercial, agent-automation, analytics]\n")
	b.WriteString("attribution: optional\n")
	b.WriteString("receipts: optional\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "rate_limit: %d/%s\n", h.Limits.Free, window)
	fmt.Fprintf(&b, "rate_limit_signed: %d/%s\n", h.Limits.Signed, window)
	b.WriteString("\n")
	fmt.Fprintf(&b, "price: %s\n", strconv.FormatFloat(h.prices().Default, 'f', -1, 64))
	b.WriteString("currency: USD\n")
	b.WriteString("payment_methods: [x402]\n")
	fmt.Fprintf(&b, "payment_networks: [%s]\n", strings.Join(h.networks(), ", "))
	fmt.Fprintf(&b, "payment_endpoint: %s/api/v1\n", strings.TrimRight(site.URL, "/"))
	b.WriteString("receipt_header: X-PEAC-Receipt\n")
	b.WriteString("\n")
	b.WriteString("prohibited_uses: [surveillance, sanctions-evasion, money-laundering]\n")
	if site.Contact != "" {
		b.WriteString("\n")
		fmt.Fprintf(&b, "contact: %s\n", site.Contact)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", discoveryCache)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func windowName(d time.Duration) string {
	switch d {
	case 0, time.Minute:
		return "minute"
	case time.Hour:
		return "hour"
	default:
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
}
