// Package chi provides Chi-compatible gateway middleware.
// This package is a thin adapter over the stdlib middleware in the parent package.
package chi

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	httpgw "github.com/btcfi/gateway/http"
)

// NewChiMiddleware creates the gateway middleware for a Chi router or route group.
//
// Unlike the stdlib middleware it gates every route it is mounted on unless cfg.PathPrefix
// says otherwise, since Chi groups already scope middleware. A request ID assigned by Chi's
// RequestID middleware is reused so logs and the X-Request-ID header agree.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Use(chimw.RequestID)
//	r.Route("/api", func(r chi.Router) {
//	    r.Use(NewChiMiddleware(cfg))
//	    r.Get("/v1/fees", fees)
//	})
func NewChiMiddleware(cfg httpgw.Config) func(http.Handler) http.Handler {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/"
	}
	gated := httpgw.NewMiddleware(cfg)

	return func(next http.Handler) http.Handler {
		h := gated(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := chimw.GetReqID(r.Context()); id != "" && r.Header.Get(httpgw.HeaderRequestID) == "" {
				r = r.Clone(r.Context())
				r.Header.Set(httpgw.HeaderRequestID, id)
			}
			h.ServeHTTP(w, r)
		})
	}
}
