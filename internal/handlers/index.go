package handlers

import (
	"net/http"
	"time"

	"github.com/btcfi/gateway/staking"
)

type networkInfo struct {
	Network     string `json:"network"`
	ChainID     string `json:"chainId"`
	PayTo       string `json:"payTo"`
	Asset       string `json:"asset"`
	Facilitator string `json:"facilitator"`
	Provider    string `json:"provider,omitempty"`
	Fees        string `json:"fees,omitempty"`
}

func (h *Handlers) networkInfo() []networkInfo {
	if h.Payments == nil {
		return nil
	}
	var out []networkInfo
	for _, r := range h.Payments.Networks() {
		asset := r.Asset
		if asset == "" {
			asset = r.Chain.USDCAddress
		}
		out = append(out, networkInfo{
			Network:     r.Chain.NetworkID,
			ChainID:     r.Chain.ChainID,
			PayTo:       r.PayTo,
			Asset:       asset,
			Facilitator: r.FacilitatorURL,
			Provider:    r.Provider,
			Fees:        r.Fees,
		})
	}
	return out
}

// Index serves the API index at /api/v1: prices, payment networks and staking plans.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	site := h.site()
	primary := ""
	if h.Payments != nil {
		primary = h.Payments.Primary()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":        site.Name,
		"version":     Version,
		"description": site.Description,
		"x402": map[string]any{
			"enabled":  h.enabled(),
			"primary":  primary,
			"networks": h.networkInfo(),
			"headers": map[string]string{
				"payment":  "X-Payment",
				"network":  "X-Payment-Network",
				"receipt":  "X-PEAC-Receipt",
				"response": "X-Payment-Response",
			},
		},
		"pricing": PriceList(h.prices()),
		"staking": map[string]any{
			"plans":  staking.Plans,
			"escrow": h.Escrow,
			"status": "/api/v1/staking/status?address=",
		},
		"discovery": map[string]string{
			"x402": "/.well-known/x402-discovery.json",
			"peac": "/.well-known/peac.txt",
			"mcp":  "/api/mcp",
		},
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
