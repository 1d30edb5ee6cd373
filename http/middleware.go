// Package http provides the gateway middleware for net/http servers.
//
// Every request under the API prefix runs the same fixed pipeline: request ID and panic
// recovery, CORS preflight, tier classification, rate limiting, payment gating, then the
// business handler. Paid responses are buffered so a receipt over the exact body can be
// attached, and any response can be sealed for callers that send X-Encrypt-Response.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/encrypt"
	"github.com/btcfi/gateway/http/internal/helpers"
	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/ratelimit"
	"github.com/btcfi/gateway/receipt"
	"github.com/btcfi/gateway/revenue"
	"github.com/btcfi/gateway/tier"
)

// Request headers read by the middleware.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderPaymentNetwork = "X-Payment-Network"
)

// DefaultPathPrefix is the prefix the middleware applies to.
const DefaultPathPrefix = "/api/"

// Config holds the components composed by the middleware. Only Classifier is required;
// a nil Limiter, Payments, Receipts or Revenue disables that stage.
type Config struct {
	Classifier *tier.Classifier
	Limiter    *ratelimit.Limiter
	Payments   *payment.Gateway
	Receipts   *receipt.Issuer
	Revenue    *revenue.Ledger

	// Encrypt honours X-Encrypt-Response.
	Encrypt bool

	// PathPrefix limits the middleware to matching paths. Empty means DefaultPathPrefix.
	PathPrefix string

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) prefix() string {
	if c.PathPrefix != "" {
		return c.PathPrefix
	}
	return DefaultPathPrefix
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	identityContextKey = contextKey("gateway_identity")
	paymentContextKey  = contextKey("gateway_payment")
	loggerContextKey   = contextKey("gateway_logger")
)

// IdentityFromContext returns the identity the middleware classified the request as.
func IdentityFromContext(ctx context.Context) (gateway.Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(gateway.Identity)
	return id, ok
}

// PaymentFromContext returns the verified payment outcome, if the request paid.
func PaymentFromContext(ctx context.Context) (payment.Outcome, bool) {
	out, ok := ctx.Value(paymentContextKey).(payment.Outcome)
	return out, ok
}

// LoggerFromContext returns the request-scoped logger, falling back to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Admission is the result of the pre-handler stages.
type Admission struct {
	Identity gateway.Identity
	Decision ratelimit.Decision
	Payment  payment.Outcome

	// Request carries the identity, payment and logger in its context.
	Request *http.Request

	Logger *slog.Logger
}

// Paid reports whether the request carries a verified payment.
func (a *Admission) Paid() bool {
	return a.Payment.State == payment.StateVerified
}

// Gateway runs the pipeline stages. NewMiddleware and the Gin adapter share it.
type Gateway struct {
	cfg Config
}

// NewGateway validates cfg and returns a Gateway.
func NewGateway(cfg Config) *Gateway {
	if cfg.Classifier == nil {
		cfg.Classifier = &tier.Classifier{Metrics: cfg.Metrics, Logger: cfg.Logger}
	}
	return &Gateway{cfg: cfg}
}

// Applies reports whether path is gated.
func (g *Gateway) Applies(path string) bool {
	return strings.HasPrefix(path, g.cfg.prefix())
}

// Begin assigns a request ID, applies the CORS and security headers and answers preflights.
// It returns false when the response has been written.
func (g *Gateway) Begin(w http.ResponseWriter, r *http.Request) (*http.Request, *slog.Logger, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	w.Header().Set(HeaderRequestID, id)

	logger := g.cfg.logger().With("request_id", id)
	r = r.WithContext(context.WithValue(r.Context(), loggerContextKey, logger))

	helpers.ApplyCORS(w.Header())
	helpers.ApplySecurity(w.Header())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return r, logger, false
	}
	return r, logger, true
}

// Admit classifies, rate limits and payment-gates r. It returns false when it has written a
// 429 or 402 response.
func (g *Gateway) Admit(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*Admission, bool) {
	ctx := r.Context()
	path := r.URL.Path

	identity := g.cfg.Classifier.Classify(ctx, r)
	g.cfg.Metrics.Request(string(identity.Tier))

	decision := ratelimit.Decision{Allowed: true, Unlimited: !identity.Tier.Limited(), Tier: identity.Tier}
	if g.cfg.Limiter != nil {
		decision = g.cfg.Limiter.Allow(ctx, identity)
	}
	if !decision.Allowed {
		logger.Info("rate limit exceeded", "path", path, "tier", identity.Tier, "retry_after", decision.RetryAfter)
		helpers.SendRateLimited(w, decision)
		return nil, false
	}

	out := payment.Outcome{State: payment.StateNoChallenge}
	if g.cfg.Payments != nil {
		out = g.cfg.Payments.Evaluate(ctx, path, r.Header.Get(tier.HeaderPayment), r.Header.Get(HeaderPaymentNetwork))
		switch out.State {
		case payment.StateChallengeIssued:
			logger.Info("payment required", "path", path, "tier", identity.Tier, "network", out.Network)
			helpers.SendPaymentRequired(w, g.cfg.Payments, out)
			return nil, false
		case payment.StateRejected:
			logger.Warn("payment rejected", "path", path, "network", out.Network, "reason", out.Reason)
			helpers.SendPaymentRequired(w, g.cfg.Payments, out)
			return nil, false
		case payment.StateVerified:
			logger.Info("payment verified", "path", path, "network", out.Network, "payer", out.Payer)
			if g.cfg.Revenue != nil {
				g.cfg.Revenue.RecordPayment(out.Network, path)
			}
		}
	}

	ctx = context.WithValue(ctx, identityContextKey, identity)
	if out.State == payment.StateVerified {
		ctx = context.WithValue(ctx, paymentContextKey, out)
	}

	return &Admission{
		Identity: identity,
		Decision: decision,
		Payment:  out,
		Request:  r.WithContext(ctx),
		Logger:   logger,
	}, true
}

// Decorate sets the headers every admitted response carries.
func (g *Gateway) Decorate(h http.Header, a *Admission, path string) {
	if policy := helpers.CachePolicy(path); policy != "" {
		h.Set("Cache-Control", policy)
	}
	helpers.SetRateLimitHeaders(h, a.Decision)
	if a.Paid() {
		h.Set("X-Paid", "true")
	} else {
		h.Set("X-Paid", "false")
	}
}

// Finish post-processes a buffered response body: it attaches a receipt to successful paid
// responses and seals the body when the caller asked for encryption. It returns the body
// to send.
func (g *Gateway) Finish(h http.Header, status int, body []byte, a *Admission, key *[32]byte) []byte {
	if status < 400 && a.Paid() && g.cfg.Receipts != nil {
		amount := ""
		if req, ok := a.Payment.Challenge.For(a.Payment.Network); ok {
			amount = req.MaxAmountRequired
		}
		token, err := g.cfg.Receipts.Issue(a.Request.URL.Path, amount, a.Payment.Network, body)
		if err != nil {
			a.Logger.Warn("failed to issue receipt", "error", err)
		} else {
			h.Set(receipt.HeaderName, token)
		}
	}

	if key != nil {
		env, err := encrypt.Seal(body, key)
		if err != nil {
			a.Logger.Warn("failed to encrypt response", "error", err)
			return body
		}
		sealed, err := env.Marshal()
		if err != nil {
			a.Logger.Warn("failed to encode encrypted response", "error", err)
			return body
		}
		h.Set("Content-Type", encrypt.ContentType)
		return sealed
	}
	return body
}

// needsBuffer reports whether the handler's response must be held back for Finish.
func (g *Gateway) needsBuffer(a *Admission, key *[32]byte) bool {
	return key != nil || (a.Paid() && g.cfg.Receipts != nil)
}

func (g *Gateway) encryptionKey(r *http.Request) *[32]byte {
	if !g.cfg.Encrypt {
		return nil
	}
	return encrypt.RequestedKey(r)
}

// NewMiddleware creates the gateway middleware.
func NewMiddleware(cfg Config) func(http.Handler) http.Handler {
	g := NewGateway(cfg)
	return g.Handler
}

// Handler wraps next with the gateway pipeline.
func (g *Gateway) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Applies(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		iw := &responseInterceptor{w: w}
		defer func() {
			g.cfg.Metrics.ObserveRequest(iw.statusCode(), time.Since(start))
		}()
		defer g.recover(iw, r)

		r, logger, ok := g.Begin(iw, r)
		if !ok {
			return
		}

		a, ok := g.Admit(iw, r, logger)
		if !ok {
			return
		}
		g.Decorate(iw.Header(), a, r.URL.Path)

		key := g.encryptionKey(r)
		if !g.needsBuffer(a, key) {
			next.ServeHTTP(iw, a.Request)
			return
		}

		iw.buffering = true
		next.ServeHTTP(iw, a.Request)
		iw.buffering = false

		status := iw.statusCode()
		body := g.Finish(iw.Header(), status, iw.body.Bytes(), a, key)
		iw.Header().Del("Content-Length")
		iw.flushed = true
		iw.w.WriteHeader(status)
		_, _ = iw.w.Write(body)
	})
}

func (g *Gateway) recover(iw *responseInterceptor, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	g.cfg.logger().Error("panic in request pipeline",
		"request_id", iw.Header().Get(HeaderRequestID), "path", r.URL.Path, "panic", rec)
	if iw.flushed {
		return
	}
	iw.buffering = false
	iw.body.Reset()
	iw.status = http.StatusInternalServerError
	helpers.SendInternalError(iw.w)
}
