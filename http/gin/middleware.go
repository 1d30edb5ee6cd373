// Package gin provides Gin-compatible gateway middleware.
// This package is a thin adapter that runs the stdlib pipeline from the http package and
// hands the admitted request back to the Gin handler chain.
package gin

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	httpgw "github.com/btcfi/gateway/http"
)

// Gin context keys set for admitted requests.
const (
	IdentityKey = "gateway_identity"
	PaymentKey  = "gateway_payment"
)

// NewGinMiddleware creates the gateway middleware for Gin.
//
// The middleware:
//   - Runs the full gateway pipeline on requests under cfg.PathPrefix
//   - Calls c.Abort() when the pipeline answered the request itself (preflight, 429, 402)
//   - Stores the identity via c.Set(IdentityKey, ...) and a verified payment via c.Set(PaymentKey, ...)
//   - Routes handler output through the pipeline so receipts and encryption apply
//
// Example usage:
//
//	r := gin.Default()
//	r.Use(NewGinMiddleware(cfg))
//	r.GET("/api/v1/fees", func(c *gin.Context) {
//	    if id, ok := c.Get(IdentityKey); ok {
//	        c.JSON(200, gin.H{"tier": id.(gateway.Identity).Tier})
//	    }
//	})
func NewGinMiddleware(cfg httpgw.Config) gin.HandlerFunc {
	gated := httpgw.NewMiddleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := r.Context().Value(ginContextKey{}).(*gin.Context)
		if !ok {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		c.Set(admittedKey, true)
		c.Request = r
		if id, ok := httpgw.IdentityFromContext(r.Context()); ok {
			c.Set(IdentityKey, id)
		}
		if out, ok := httpgw.PaymentFromContext(r.Context()); ok {
			c.Set(PaymentKey, out)
		}

		orig := c.Writer
		rw := &responseWriter{ResponseWriter: orig, w: w}
		c.Writer = rw
		defer func() { c.Writer = orig }()
		c.Next()
		// A status set without a body (c.Status(204)) has not reached the pipeline yet.
		if rw.status != 0 {
			rw.WriteHeaderNow()
		}
	}))

	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), ginContextKey{}, c)
		gated.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
		if !c.GetBool(admittedKey) {
			c.Abort()
		}
	}
}

type ginContextKey struct{}

const admittedKey = "gateway_admitted"

// responseWriter routes Gin's writes through the gateway pipeline's writer.
type responseWriter struct {
	gin.ResponseWriter
	w http.ResponseWriter

	status  int
	size    int
	written bool
}

func (rw *responseWriter) Header() http.Header {
	return rw.w.Header()
}

func (rw *responseWriter) WriteHeader(code int) {
	if code > 0 && !rw.written {
		rw.status = code
	}
}

func (rw *responseWriter) WriteHeaderNow() {
	if rw.written {
		return
	}
	rw.written = true
	rw.w.WriteHeader(rw.Status())
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.WriteHeaderNow()
	n, err := rw.w.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) WriteString(s string) (int, error) {
	return rw.Write([]byte(s))
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) Size() int {
	if !rw.written {
		return -1
	}
	return rw.size
}

func (rw *responseWriter) Written() bool {
	return rw.written
}

func (rw *responseWriter) Flush() {
	rw.WriteHeaderNow()
	if flusher, ok := rw.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.w.(http.Hijacker); ok {
		rw.written = true
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("hijacking not supported")
}
