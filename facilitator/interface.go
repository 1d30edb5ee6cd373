// Package facilitator talks to the per-network x402 facilitators that verify payment proofs.
package facilitator

import (
	"context"
	"encoding/json"

	"github.com/btcfi/gateway"
)

// Interface defines the facilitator contract the payment gateway depends on.
type Interface interface {
	// Verify checks a raw X-Payment header against the requirement it was issued for.
	Verify(ctx context.Context, paymentHeader string, requirement gateway.PaymentRequirement) (*VerifyResponse, error)

	// Supported queries the facilitator for supported payment types.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyRequest is the body posted to {facilitator}/verify.
type VerifyRequest struct {
	PaymentHeader       string                     `json:"paymentHeader"`
	PaymentRequirements gateway.PaymentRequirement `json:"paymentRequirements"`

	// Solana facilitators also want the expected recipient and mint spelled out.
	ExpectedPayTo string `json:"expectedPayTo,omitempty"`
	ExpectedAsset string `json:"expectedAsset,omitempty"`
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// UnmarshalJSON accepts both the x402 field names and the shorter valid/reason pair some
// facilitators return.
func (r *VerifyResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		IsValid       *bool  `json:"isValid"`
		Valid         *bool  `json:"valid"`
		InvalidReason string `json:"invalidReason"`
		Reason        string `json:"reason"`
		Payer         string `json:"payer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = VerifyResponse{Payer: raw.Payer}
	switch {
	case raw.IsValid != nil:
		r.IsValid = *raw.IsValid
	case raw.Valid != nil:
		r.IsValid = *raw.Valid
	}
	r.InvalidReason = raw.InvalidReason
	if r.InvalidReason == "" {
		r.InvalidReason = raw.Reason
	}
	return nil
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
