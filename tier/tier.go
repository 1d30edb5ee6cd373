// Package tier assigns a trust tier to each inbound request.
//
// Precedence is fixed: paid (X-Payment present), staked (X-Staker corroborated), signed
// (valid wallet signature and fresh nonce), free. Credentials that fail a check are ignored and
// the request falls through to the next rule; classification never returns an error.
package tier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/nonce"
	"github.com/btcfi/gateway/sigverify"
	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/validation"
)

// Request headers read by the classifier.
const (
	HeaderPayment = "X-Payment"
	HeaderStaker  = "X-Staker"
)

// Demotion reasons recorded on Identity.DemotionReason.
const (
	ReasonMalformedSigningHeaders = "malformed_signing_headers"
	ReasonInvalidSigner           = "invalid_signer_address"
	ReasonTimestampExpired        = "timestamp_expired"
	ReasonSignatureInvalid        = "signature_invalid"
	ReasonNonceReplayed           = "nonce_replayed"
	ReasonNonceUnavailable        = "nonce_store_unavailable"
	ReasonInvalidStaker           = "invalid_staker_address"
	ReasonStakeNotFound           = "stake_not_found"
	ReasonStakingUnavailable      = "staking_unavailable"
)

const userAgentPrefix = 50

// Classifier assigns tiers. The zero value classifies everything as paid or free; set Nonces to
// enable the signed tier.
type Classifier struct {
	// Nonces enforces single-use nonces for signed requests. Nil disables the signed tier.
	Nonces *nonce.Ledger

	// Staking corroborates X-Staker claims. When nil a well-formed staker address is trusted.
	Staking staking.StatusProvider

	// StakingTimeout bounds a staking lookup. Zero means 10 seconds.
	StakingTimeout time.Duration

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

func (c *Classifier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Classify returns the identity of r.
func (c *Classifier) Classify(ctx context.Context, r *http.Request) gateway.Identity {
	origin := ClientOrigin(r)
	ua := r.Header.Get("User-Agent")
	if len(ua) > userAgentPrefix {
		ua = ua[:userAgentPrefix]
	}

	if strings.TrimSpace(r.Header.Get(HeaderPayment)) != "" {
		return gateway.Identity{
			Tier:              gateway.TierPaid,
			ClientFingerprint: Fingerprint(origin, ua),
		}
	}

	var demotion string

	if staker := strings.TrimSpace(r.Header.Get(HeaderStaker)); staker != "" {
		id, reason := c.classifyStaker(ctx, staker)
		if reason == "" {
			return id
		}
		demotion = reason
		c.demote(r, reason)
	}

	bundle, err := validation.ParseSignatureBundle(r.Header)
	switch {
	case err != nil:
		reason := ReasonMalformedSigningHeaders
		if errors.Is(err, gateway.ErrInvalidSigner) {
			reason = ReasonInvalidSigner
		}
		c.demote(r, reason)
		return c.free(origin, ua, reason)

	case bundle != nil && c.Nonces != nil:
		reason := c.checkSigned(ctx, r, bundle)
		if reason == "" {
			return gateway.Identity{
				Tier:              gateway.TierSigned,
				Family:            bundle.Family,
				SignerAddress:     bundle.Signer,
				ClientFingerprint: Fingerprint(origin, strings.ToLower(bundle.Signer)),
			}
		}
		c.demote(r, reason)
		return c.free(origin, ua, reason)
	}

	return c.free(origin, ua, demotion)
}

func (c *Classifier) free(origin, ua, reason string) gateway.Identity {
	return gateway.Identity{
		Tier:              gateway.TierFree,
		ClientFingerprint: Fingerprint(origin, ua),
		DemotionReason:    reason,
	}
}

func (c *Classifier) classifyStaker(ctx context.Context, staker string) (gateway.Identity, string) {
	family, ok := validation.AddressFamily(staker)
	if !ok {
		return gateway.Identity{}, ReasonInvalidStaker
	}

	id := gateway.Identity{
		Tier:              gateway.TierStaked,
		Family:            family,
		SignerAddress:     staker,
		ClientFingerprint: Fingerprint("staker", strings.ToLower(staker)),
	}
	if c.Staking == nil {
		return id, ""
	}

	timeout := c.StakingTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := c.Staking.StakeStatus(lookupCtx, staker)
	if err != nil {
		c.logger().Warn("staking lookup failed", "staker", staker, "error", err)
		return gateway.Identity{}, ReasonStakingUnavailable
	}
	if !status.Staked() {
		return gateway.Identity{}, ReasonStakeNotFound
	}
	return id, ""
}

// checkSigned verifies the signature before claiming the nonce so a forged request cannot burn
// a legitimate caller's nonce.
func (c *Classifier) checkSigned(ctx context.Context, r *http.Request, b *gateway.SignatureBundle) string {
	if !c.Nonces.CheckTimestamp(b.Timestamp) {
		return ReasonTimestampExpired
	}

	msg := b.Message(r.Method, r.URL.Path)
	res := sigverify.Check([]byte(msg), b.Signature, b.Signer, b.Family)
	if !res.OK {
		c.Metrics.SignatureCheck(string(b.Family), res.Reason)
		return ReasonSignatureInvalid
	}
	c.Metrics.SignatureCheck(string(b.Family), "ok")

	if err := c.Nonces.Admit(ctx, b.Nonce, b.Timestamp); err != nil {
		if errors.Is(err, gateway.ErrNonceReplayed) {
			return ReasonNonceReplayed
		}
		if errors.Is(err, gateway.ErrTimestampSkew) {
			return ReasonTimestampExpired
		}
		c.logger().Warn("nonce ledger unavailable", "error", err)
		return ReasonNonceUnavailable
	}
	return ""
}

func (c *Classifier) demote(r *http.Request, reason string) {
	c.Metrics.Demotion(reason)
	c.logger().Debug("credentials ignored", "path", r.URL.Path, "reason", reason)
}

// ClientOrigin returns the caller's network origin: the first X-Forwarded-For hop, then
// X-Real-IP, then the connection's remote host.
func ClientOrigin(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Fingerprint derives a stable, fixed-length rate-limit key from its parts.
func Fingerprint(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
