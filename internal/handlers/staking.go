package handlers

import (
	"net/http"
	"strings"

	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/validation"
)

type meta struct {
	Endpoint string `json:"endpoint"`
	Pricing  string `json:"pricing"`
}

// StakingStatus serves GET /api/v1/staking/status?address=.
//
// Without an address it lists the plans and escrow addresses. With one it returns that
// address's stake, tier and credit balance.
func (h *Handlers) StakingStatus(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/staking/status"

	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"tiers":  staking.Plans,
				"escrow": h.Escrow,
				"usage":  endpoint + "?address=0x...",
			},
			"meta": meta{Endpoint: endpoint, Pricing: "free"},
		})
		return
	}

	if _, ok := validation.AddressFamily(address); !ok {
		writeError(w, http.StatusBadRequest, "Invalid address: expected an EVM or Solana wallet", "INVALID_ADDRESS")
		return
	}

	if h.Staking == nil {
		writeError(w, http.StatusServiceUnavailable, "Staking status is not configured", "STAKING_UNAVAILABLE")
		return
	}

	status, err := h.Staking.StakeStatus(r.Context(), address)
	if err != nil {
		h.logger().Error("stake status lookup failed", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to check staking status", "STAKE_CHECK_FAILED")
		return
	}
	if status.Escrow == (staking.Escrow{}) {
		status.Escrow = h.Escrow
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    status,
		"meta":    meta{Endpoint: endpoint, Pricing: "free"},
	})
}
