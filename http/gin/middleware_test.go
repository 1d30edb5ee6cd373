package gin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/encoding"
	"github.com/btcfi/gateway/facilitator"
	httpgw "github.com/btcfi/gateway/http"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/receipt"
	"github.com/btcfi/gateway/tier"
)

const testReceiptKey = "gin-adapter-test-receipt-key-0123456789"

func init() {
	// Disable Gin debug mode for cleaner test output
	gin.SetMode(gin.TestMode)
}

type stubFacilitator struct {
	valid bool
}

func (s *stubFacilitator) Verify(context.Context, string, gateway.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	return &facilitator.VerifyResponse{IsValid: s.valid, InvalidReason: "invalid_signature"}, nil
}

func (s *stubFacilitator) Supported(context.Context) (*facilitator.SupportedResponse, error) {
	return &facilitator.SupportedResponse{}, nil
}

func newRouter(t *testing.T, valid bool) *gin.Engine {
	t.Helper()
	f := &stubFacilitator{valid: valid}
	payments, err := payment.New(gateway.DefaultPriceTable(), "base",
		payment.Rail{
			Chain:          gateway.BaseMainnet,
			PayTo:          "0xA6Bba2453673196ae22fb249C7eA9FA118a87150",
			FacilitatorURL: "https://x402.org/facilitator",
			Facilitator:    f,
		},
	)
	if err != nil {
		t.Fatalf("payment.New: %v", err)
	}
	issuer, err := receipt.NewIssuer([]byte(testReceiptKey))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	r := gin.New()
	r.Use(NewGinMiddleware(httpgw.Config{
		Classifier: &tier.Classifier{},
		Payments:   payments,
		Receipts:   issuer,
	}))
	r.GET("/api/health", func(c *gin.Context) {
		id, ok := c.Get(IdentityKey)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no identity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"tier": id.(gateway.Identity).Tier})
	})
	r.GET("/api/v1/fees", func(c *gin.Context) {
		out, ok := c.Get(PaymentKey)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no payment"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"network": out.(payment.Outcome).Network})
	})
	return r
}

func paymentHeader(t *testing.T) string {
	t.Helper()
	h, err := encoding.EncodeProof(gateway.EVMProof{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Signature:   "0x" + fmt.Sprintf("%0130x", 1),
		Authorization: gateway.EVMAuthorization{
			From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
			To:          "0xA6Bba2453673196ae22fb249C7eA9FA118a87150",
			Value:       "10000",
			ValidAfter:  "0",
			ValidBefore: "9999999999",
			Nonce:       "0x01",
		},
	})
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}
	return h
}

func TestGinMiddleware_FreePathAdmitted(t *testing.T) {
	r := newRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["tier"] != "free" {
		t.Errorf("tier = %q, want free", body["tier"])
	}
	if got := rec.Header().Get("X-Paid"); got != "false" {
		t.Errorf("X-Paid = %q, want false", got)
	}
}

func TestGinMiddleware_NoPaymentReturns402(t *testing.T) {
	r := newRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/fees", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["error"] != "Payment Required" {
		t.Errorf("error = %v, want Payment Required", body["error"])
	}
}

func TestGinMiddleware_InvalidPayment(t *testing.T) {
	r := newRouter(t, false)

	req := httptest.NewRequest("GET", "/api/v1/fees", nil)
	req.Header.Set("X-Payment", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["reason"] != "invalid_signature" {
		t.Errorf("reason = %v, want invalid_signature", body["reason"])
	}
}

func TestGinMiddleware_PaidWithReceipt(t *testing.T) {
	r := newRouter(t, true)

	req := httptest.NewRequest("GET", "/api/v1/fees", nil)
	req.Header.Set("X-Payment", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Paid"); got != "true" {
		t.Errorf("X-Paid = %q, want true", got)
	}

	token := rec.Header().Get(receipt.HeaderName)
	v := receipt.NewVerifier([]byte(testReceiptKey)).Verify(token)
	if !v.Valid {
		t.Fatalf("receipt invalid: %s", v.Error)
	}
	if v.Payload.ResponseHash != receipt.ResponseHash(rec.Body.Bytes()) {
		t.Error("receipt does not cover the response body")
	}
}

func TestGinMiddleware_Preflight(t *testing.T) {
	r := newRouter(t, true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("OPTIONS", "/api/v1/fees", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestGinMiddleware_StatusOnlyResponses(t *testing.T) {
	r := newRouter(t, true)
	r.GET("/api/v1/staking/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/api/v1/staking/accepted", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.GET("/api/admin/fail", func(c *gin.Context) { c.AbortWithStatus(http.StatusInternalServerError) })

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "no content", path: "/api/v1/staking/empty", want: http.StatusNoContent},
		{name: "accepted", path: "/api/v1/staking/accepted", want: http.StatusAccepted},
		{name: "abort with status", path: "/api/admin/fail", want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGinMiddleware_PaidErrorHasNoReceipt(t *testing.T) {
	r := newRouter(t, true)
	r.GET("/api/v1/mempool", func(c *gin.Context) { c.AbortWithStatus(http.StatusBadGateway) })

	req := httptest.NewRequest("GET", "/api/v1/mempool", nil)
	req.Header.Set("X-Payment", paymentHeader(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := rec.Header().Get(receipt.HeaderName); got != "" {
		t.Errorf("receipt issued for an error response: %q", got)
	}
}
