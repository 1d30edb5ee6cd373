// Package payment gates priced resources behind x402 payment proofs settled on Base or Solana.
//
// Each request moves through a small state machine: NO_CHALLENGE for free resources,
// CHALLENGE_ISSUED when a priced resource is requested without proof, and VERIFIED or
// REJECTED once a proof has been checked by the facilitator of the network it claims.
// Proof reuse is not tracked here; single use is enforced by the facilitator.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/encoding"
	"github.com/btcfi/gateway/facilitator"
	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/validation"
)

// State is the position of a request in the payment state machine.
type State string

const (
	StateNoChallenge     State = "NO_CHALLENGE"
	StateChallengeIssued State = "CHALLENGE_ISSUED"
	StateVerified        State = "VERIFIED"
	StateRejected        State = "REJECTED"
)

// Rejection reasons. Facilitator failures are prefixed with the network, see FacilitatorUnreachable.
const (
	ReasonMalformedProof     = "malformed_payment_proof"
	ReasonUnsupportedNetwork = "unsupported_network"
	ReasonNetworkMismatch    = "network_mismatch"
	ReasonPaymentInvalid     = "payment_invalid"
	ReasonInternal           = "internal_error"
)

// FacilitatorUnreachable is the reason used when network's facilitator times out or refuses.
func FacilitatorUnreachable(network string) string { return network + "_facilitator_unreachable" }

// FacilitatorError is the reason used when network's facilitator answers with an error.
func FacilitatorError(network string) string { return network + "_facilitator_error" }

// Defaults applied by New.
const (
	DefaultTimeout           = 10 * time.Second
	DefaultMaxTimeoutSeconds = 300
	DefaultDescription       = "BTCFi API Query"
	DefaultMimeType          = "application/json"
)

// Rail is one settlement network the gateway accepts payment on.
type Rail struct {
	Chain gateway.ChainConfig

	// PayTo is the treasury address on this network.
	PayTo string

	// Asset overrides Chain.USDCAddress when set.
	Asset string

	// FacilitatorURL is advertised in requirements.
	FacilitatorURL string

	// Provider and Fees describe the facilitator in the 402 body.
	Provider string
	Fees     string

	// Facilitator verifies proofs for this network.
	Facilitator facilitator.Interface
}

func (r Rail) asset() string {
	if r.Asset != "" {
		return r.Asset
	}
	return r.Chain.USDCAddress
}

// Challenge is what a caller needs to pay for one resource.
type Challenge struct {
	Price     float64
	Primary   gateway.PaymentRequirement
	Alternate *gateway.PaymentRequirement
}

// Outcome is the result of Evaluate.
type Outcome struct {
	State State

	// Reason is set for REJECTED outcomes.
	Reason string

	// Network is the network the proof was checked against, or the challenge network.
	Network string

	// Challenge is set for every state except NO_CHALLENGE.
	Challenge *Challenge

	// Payer is reported by the facilitator on success.
	Payer string
}

// Price returns the amount in USD.
func (o Outcome) Price() float64 {
	if o.Challenge == nil {
		return 0
	}
	return o.Challenge.Price
}

// Gateway evaluates payment proofs against the price table.
type Gateway struct {
	// Enabled turns payment gating on. A disabled gateway never challenges.
	Enabled bool

	Prices gateway.PriceTable

	// Timeout bounds each facilitator call.
	Timeout time.Duration

	MaxTimeoutSeconds int
	Description       string
	MimeType          string

	Metrics *metrics.Recorder
	Logger  *slog.Logger

	primary string
	rails   []Rail
}

// New creates an enabled gateway. The first rail is the default network unless primary names
// another configured rail.
func New(prices gateway.PriceTable, primary string, rails ...Rail) (*Gateway, error) {
	if len(rails) == 0 {
		return nil, errors.New("payment: at least one rail is required")
	}

	seen := make(map[string]bool, len(rails))
	for _, r := range rails {
		id := r.Chain.NetworkID
		if seen[id] {
			return nil, fmt.Errorf("payment: duplicate rail %q", id)
		}
		seen[id] = true
		if r.Facilitator == nil {
			return nil, fmt.Errorf("payment: rail %q has no facilitator", id)
		}

		req := gateway.PaymentRequirement{
			Scheme:            "exact",
			Network:           id,
			MaxAmountRequired: "0",
			PayTo:             r.PayTo,
			Asset:             r.asset(),
			Facilitator:       r.FacilitatorURL,
			MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		}
		if err := validation.ValidatePaymentRequirement(req); err != nil {
			return nil, fmt.Errorf("payment: rail %q: %w", id, err)
		}
	}

	if primary == "" {
		primary = rails[0].Chain.NetworkID
	}
	if !seen[primary] {
		return nil, fmt.Errorf("payment: primary network %q is not configured", primary)
	}

	return &Gateway{
		Enabled:           true,
		Prices:            prices,
		Timeout:           DefaultTimeout,
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
		Description:       DefaultDescription,
		MimeType:          DefaultMimeType,
		primary:           primary,
		rails:             rails,
	}, nil
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Primary returns the default settlement network.
func (g *Gateway) Primary() string { return g.primary }

// Networks returns the configured rails, primary first.
func (g *Gateway) Networks() []Rail {
	out := make([]Rail, 0, len(g.rails))
	if r, ok := g.rail(g.primary); ok {
		out = append(out, r)
	}
	for _, r := range g.rails {
		if r.Chain.NetworkID != g.primary {
			out = append(out, r)
		}
	}
	return out
}

func (g *Gateway) rail(network string) (Rail, bool) {
	for _, r := range g.rails {
		if r.Chain.NetworkID == network {
			return r, true
		}
	}
	return Rail{}, false
}

// Price returns the USD price of path.
func (g *Gateway) Price(path string) float64 {
	return g.Prices.Resolve(path)
}

// Requires reports whether path needs a payment under the current configuration.
func (g *Gateway) Requires(path string) bool {
	return g.Enabled && g.Price(path) > 0
}

// Challenge builds the requirements for path. The preferred network is used when configured,
// otherwise the primary; the alternate is the next other rail.
func (g *Gateway) Challenge(path, preferred string) (Challenge, error) {
	price := g.Price(path)

	chosen := g.primary
	if _, ok := g.rail(preferred); ok {
		chosen = preferred
	}

	ch := Challenge{Price: price}
	for _, r := range g.Networks() {
		req, err := g.requirement(r, path, price)
		if err != nil {
			return Challenge{}, err
		}
		switch {
		case r.Chain.NetworkID == chosen:
			ch.Primary = req
		case ch.Alternate == nil:
			alt := req
			ch.Alternate = &alt
		}
	}
	return ch, nil
}

func (g *Gateway) requirement(r Rail, path string, price float64) (gateway.PaymentRequirement, error) {
	amount, err := gateway.ToMinorUnits(price, r.Chain.Decimals)
	if err != nil {
		return gateway.PaymentRequirement{}, fmt.Errorf("payment: price for %s: %w", path, err)
	}
	timeout := g.MaxTimeoutSeconds
	if timeout <= 0 || timeout > DefaultMaxTimeoutSeconds {
		timeout = DefaultMaxTimeoutSeconds
	}
	return gateway.PaymentRequirement{
		Scheme:            "exact",
		Network:           r.Chain.NetworkID,
		MaxAmountRequired: amount,
		Resource:          path,
		PayTo:             r.PayTo,
		Asset:             r.asset(),
		Facilitator:       r.FacilitatorURL,
		MaxTimeoutSeconds: timeout,
		MimeType:          g.MimeType,
		Description:       g.Description,
	}, nil
}

// Evaluate runs the payment state machine for one request. paymentHeader is the raw X-Payment
// value and preferred the raw X-Payment-Network value; either may be empty.
func (g *Gateway) Evaluate(ctx context.Context, path, paymentHeader, preferred string) Outcome {
	if !g.Requires(path) {
		return Outcome{State: StateNoChallenge}
	}

	ch, err := g.Challenge(path, preferred)
	if err != nil {
		g.logger().Error("failed to build payment challenge", "path", path, "error", err)
		return Outcome{State: StateRejected, Reason: ReasonInternal}
	}

	if paymentHeader == "" {
		return Outcome{State: StateChallengeIssued, Network: ch.Primary.Network, Challenge: &ch}
	}

	out := g.verify(ctx, path, paymentHeader, preferred, &ch)
	outcome := "verified"
	if out.State != StateVerified {
		outcome = "rejected"
	}
	g.Metrics.Payment(out.Network, outcome)
	return out
}

func (g *Gateway) verify(ctx context.Context, path, header, preferred string, ch *Challenge) Outcome {
	reject := func(network, reason string) Outcome {
		g.logger().Debug("payment rejected", "path", path, "network", network, "reason", reason)
		return Outcome{State: StateRejected, Reason: reason, Network: network, Challenge: ch}
	}

	proof, err := encoding.DecodeProof(header)
	if err != nil {
		return reject(ch.Primary.Network, ReasonMalformedProof)
	}

	network := proof.ProofNetwork()
	if network == "" {
		network = ch.Primary.Network
	}

	r, ok := g.rail(network)
	if !ok {
		return reject(network, ReasonUnsupportedNetwork)
	}
	if r.Chain.Family != proof.ProofFamily() {
		return reject(network, ReasonNetworkMismatch)
	}
	if _, declared := g.rail(preferred); declared && proof.ProofNetwork() != "" && preferred != proof.ProofNetwork() {
		return reject(network, ReasonNetworkMismatch)
	}

	req, err := g.requirement(r, path, ch.Price)
	if err != nil {
		return reject(network, ReasonInternal)
	}

	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := r.Facilitator.Verify(vctx, header, req)
	if err != nil {
		g.logger().Warn("facilitator verify failed", "network", network, "error", err)
		if errors.Is(err, gateway.ErrFacilitatorUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return reject(network, FacilitatorUnreachable(network))
		}
		return reject(network, FacilitatorError(network))
	}
	if resp == nil || !resp.IsValid {
		reason := ReasonPaymentInvalid
		if resp != nil && resp.InvalidReason != "" {
			reason = resp.InvalidReason
		}
		return reject(network, reason)
	}

	payer := resp.Payer
	if payer == "" {
		payer = PayerOf(proof)
	}
	return Outcome{State: StateVerified, Network: network, Challenge: ch, Payer: payer}
}

// For returns the requirement issued for network.
func (c *Challenge) For(network string) (gateway.PaymentRequirement, bool) {
	if c == nil {
		return gateway.PaymentRequirement{}, false
	}
	if c.Primary.Network == network {
		return c.Primary, true
	}
	if c.Alternate != nil && c.Alternate.Network == network {
		return *c.Alternate, true
	}
	return gateway.PaymentRequirement{}, false
}
