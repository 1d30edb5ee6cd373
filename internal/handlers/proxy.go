package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/btcfi/gateway"
	httpgw "github.com/btcfi/gateway/http"
	"github.com/btcfi/gateway/payment"
)

// Headers added to proxied requests so the upstream can see the admission decision.
const (
	HeaderUpstreamTier  = "X-Gateway-Tier"
	HeaderUpstreamPayer = "X-Gateway-Payer"
)

// strippedHeaders carry caller credentials the upstream must not see or trust.
var strippedHeaders = []string{
	"X-Payment",
	"X-Signature",
	"X-Internal-Key",
	HeaderUpstreamTier,
	HeaderUpstreamPayer,
}

// NewProxy forwards admitted requests to upstream.
func NewProxy(upstream string, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", upstream)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			for _, h := range strippedHeaders {
				pr.Out.Header.Del(h)
			}
			out, ok := httpgw.PaymentFromContext(pr.In.Context())
			verified := ok && out.State == payment.StateVerified
			if id, ok := httpgw.IdentityFromContext(pr.In.Context()); ok {
				tier := id.Tier
				// An X-Payment header nobody verified (free path, payments off) is not a payment.
				if tier == gateway.TierPaid && !verified {
					tier = gateway.TierFree
				}
				pr.Out.Header.Set(HeaderUpstreamTier, string(tier))
			}
			if verified && out.Payer != "" {
				pr.Out.Header.Set(HeaderUpstreamPayer, out.Payer)
			}
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusBadGateway, "Upstream unavailable", "UPSTREAM_UNAVAILABLE")
		},
	}, nil
}
