// Package helpers provides the response writers and header policies shared by the stdlib and Gin
// gateway middleware, so both emit identical bodies and headers.
package helpers

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/ratelimit"
)

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": strings.Join([]string{
		"Content-Type",
		"X-Payment", "x-payment",
		"X-Payment-Network", "x-payment-network",
		"X-Signature", "x-signature",
		"X-Nonce", "x-nonce",
		"X-Signer", "x-signer",
		"X-Timestamp", "x-timestamp",
		"X-Staker", "x-staker",
		"X-Encrypt-Response", "x-encrypt-response",
		"Authorization",
	}, ", "),
	"Access-Control-Max-Age": "86400",
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"X-XSS-Protection":          "1; mode=block",
	"Referrer-Policy":           "strict-origin-when-cross-origin",
	"Permissions-Policy":        "camera=(), microphone=(), geolocation=(), interest-cohort=()",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains; preload",
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
}

// ApplyCORS sets the CORS headers on h.
func ApplyCORS(h http.Header) {
	for k, v := range corsHeaders {
		h.Set(k, v)
	}
}

// ApplySecurity sets the security headers on h.
func ApplySecurity(h http.Header) {
	for k, v := range securityHeaders {
		h.Set(k, v)
	}
}

// CachePolicy returns the Cache-Control value for path, or "" to leave it unset.
func CachePolicy(path string) string {
	switch {
	case strings.Contains(path, "/intelligence/"), strings.Contains(path, "/security/"):
		return "no-store"
	case strings.Contains(path, "/zk/"), strings.Contains(path, "/stream"):
		return "no-store"
	case strings.Contains(path, "/fees"), strings.Contains(path, "/mempool"):
		return "public, max-age=10, stale-while-revalidate=20"
	case strings.Contains(path, "/block/"), strings.Contains(path, "/solv/"):
		return "public, max-age=60, stale-while-revalidate=120"
	case strings.Contains(path, "/address/"):
		return "public, max-age=15, stale-while-revalidate=30"
	case strings.Contains(path, "/tx/") && !strings.Contains(path, "/broadcast"):
		return "public, max-age=300, stale-while-revalidate=600"
	case strings.Contains(path, "/staking/"), strings.Contains(path, "/health"):
		return "public, max-age=30, stale-while-revalidate=60"
	case strings.Contains(path, "/broadcast"), strings.Contains(path, "/admin/"):
		return "no-store"
	default:
		return ""
	}
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding error cannot be reported to the client.
	_ = json.NewEncoder(w).Encode(v)
}

// AlternatePayment is the second rail offered in a 402 body.
type AlternatePayment struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Asset             string `json:"asset"`
	Facilitator       string `json:"facilitator"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
}

// NetworkInfo describes a rail's facilitator.
type NetworkInfo struct {
	Provider string `json:"provider"`
	Fees     string `json:"fees"`
}

// PaymentRequiredResponse is the 402 body.
type PaymentRequiredResponse struct {
	Error               string                     `json:"error"`
	Code                int                        `json:"code"`
	Message             string                     `json:"message"`
	Reason              string                     `json:"reason,omitempty"`
	Network             string                     `json:"network,omitempty"`
	PaymentRequirements gateway.PaymentRequirement `json:"paymentRequirements"`
	AlternatePayment    *AlternatePayment          `json:"alternatePayment,omitempty"`
	Networks            map[string]NetworkInfo     `json:"networks"`
	Pricing             map[string]float64         `json:"pricing"`
}

// pricingSamples are the representative paths summarised in the 402 pricing block.
var pricingSamples = map[string]string{
	"broadcast":    "/api/v1/tx/broadcast",
	"intelligence": "/api/v1/intelligence",
	"solv":         "/api/v1/solv",
	"security":     "/api/v1/security",
	"zk":           "/api/v1/zk",
}

// Pricing summarises the price table for callers.
func Pricing(prices gateway.PriceTable) map[string]float64 {
	out := map[string]float64{"default": prices.Default}
	for label, path := range pricingSamples {
		out[label] = prices.Resolve(path)
	}
	return out
}

// FormatPrice renders a USD price the way it appears in headers and messages.
func FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

// BuildPaymentRequired renders the 402 body for out, which must carry a challenge.
func BuildPaymentRequired(g *payment.Gateway, out payment.Outcome) PaymentRequiredResponse {
	ch := out.Challenge
	body := PaymentRequiredResponse{
		Error:               "Payment Required",
		Code:                http.StatusPaymentRequired,
		Message:             "This endpoint requires $" + FormatPrice(ch.Price) + " USDC",
		PaymentRequirements: ch.Primary,
		Networks:            make(map[string]NetworkInfo),
		Pricing:             Pricing(g.Prices),
	}
	// The primary requirement is advertised without the verify-only fields.
	body.PaymentRequirements.MimeType = ""
	body.PaymentRequirements.Description = ""

	if alt := ch.Alternate; alt != nil {
		body.AlternatePayment = &AlternatePayment{
			Scheme:            alt.Scheme,
			Network:           alt.Network,
			MaxAmountRequired: alt.MaxAmountRequired,
			PayTo:             alt.PayTo,
			Asset:             alt.Asset,
			Facilitator:       alt.Facilitator,
			MaxTimeoutSeconds: alt.MaxTimeoutSeconds,
		}
	}
	for _, r := range g.Networks() {
		body.Networks[r.Chain.NetworkID] = NetworkInfo{Provider: r.Provider, Fees: r.Fees}
	}

	if out.State == payment.StateRejected {
		body.Error = "Payment Invalid"
		body.Reason = out.Reason
		body.Network = out.Network
		body.Message = "Payment verification failed. Please retry."
	}
	return body
}

// SendPaymentRequired writes a 402 response for out.
func SendPaymentRequired(w http.ResponseWriter, g *payment.Gateway, out payment.Outcome) {
	if out.Challenge == nil {
		SendInternalError(w)
		return
	}
	networks := make([]string, 0, 2)
	for _, r := range g.Networks() {
		networks = append(networks, r.Chain.NetworkID)
	}

	h := w.Header()
	h.Set("X-Payment-Required", "true")
	h.Set("X-Payment-Amount", FormatPrice(out.Challenge.Price))
	h.Set("X-Payment-Currency", "USDC")
	h.Set("X-Payment-Networks", strings.Join(networks, ","))
	WriteJSON(w, http.StatusPaymentRequired, BuildPaymentRequired(g, out))
}

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Code       string            `json:"code"`
	Tier       string            `json:"tier"`
	Limit      int               `json:"limit"`
	RetryAfter int               `json:"retryAfter"`
	Upgrade    map[string]string `json:"upgrade"`
}

// RetryAfterSeconds rounds a decision's RetryAfter up to whole seconds, minimum 1.
func RetryAfterSeconds(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// SendRateLimited writes a 429 response for d.
func SendRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	retryAfter := RetryAfterSeconds(d)
	SetRateLimitHeaders(w.Header(), d)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteJSON(w, http.StatusTooManyRequests, RateLimitedResponse{
		Success:    false,
		Error:      "Rate limit exceeded",
		Code:       "RATE_LIMITED",
		Tier:       string(d.Tier),
		Limit:      d.Limit,
		RetryAfter: retryAfter,
		Upgrade: map[string]string{
			"payment": "Add X-Payment header with x402 proof for unlimited",
			"staking": "Stake USDC for unlimited + priority. See /api/v1/staking/status",
		},
	})
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for d.
func SetRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Unlimited {
		h.Set("X-RateLimit-Limit", "unlimited")
	} else {
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	}
	h.Set("X-RateLimit-Tier", string(d.Tier))
}

// SendInternalError writes the generic 500 body.
func SendInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"error":   "Internal server error",
	})
}
