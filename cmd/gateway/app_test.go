package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/internal/config"
)

const testSigningKey = "gateway-app-test-signing-key-0123456789"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(facilitatorURL, upstream string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Addr: ":0", LogLevel: slog.LevelInfo},
		Payment: config.PaymentConfig{
			Network:           "base",
			BaseFacilitator:   facilitatorURL,
			SolanaFacilitator: facilitatorURL,
			BasePayTo:         "0xA6Bba2453673196ae22fb249C7eA9FA118a87150",
			SolanaPayTo:       "8f2LTSW8ffDHE1UgkkUjJXpuXpvSq8gGXtWVrGX2uRqQ",
			BaseAsset:         gateway.BaseMainnet.USDCAddress,
			SolanaAsset:       gateway.SolanaMainnet.USDCAddress,
			OutboundTimeout:   5 * time.Second,
			Prices:            gateway.DefaultPriceTable(),
		},
		RateLimit: config.RateLimitConfig{
			Free:        100,
			Signed:      500,
			Window:      time.Minute,
			BackoffBase: time.Minute,
			MaxBackoff:  5 * time.Minute,
		},
		Nonce:       config.NonceConfig{TTL: 5 * time.Minute, MaxDrift: time.Minute, MaxEntries: 1000},
		Receipt:     config.ReceiptConfig{SigningKey: []byte(testSigningKey), Issuer: "btcfi.test"},
		AdminAPIKey: "admin-key",
		UpstreamURL: upstream,
	}
}

func newTestServers(t *testing.T) (facilitatorURL, upstreamURL string) {
	t.Helper()
	f := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kinds":[]}`))
	}))
	t.Cleanup(f.Close)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","tier":"` + r.Header.Get("X-Gateway-Tier") + `"}`))
	}))
	t.Cleanup(up.Close)
	return f.URL, up.URL
}

func newTestApp(t *testing.T, cfg config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, discard())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func serveRequest(a *app, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	return rec
}

func TestApp_Routes(t *testing.T) {
	f, up := newTestServers(t)
	a := newTestApp(t, testConfig(f, up))

	t.Run("health", func(t *testing.T) {
		rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Status != "healthy" {
			t.Errorf("health status = %q", body.Status)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if rec.Header().Get("X-RateLimit-Limit") != "100" {
			t.Errorf("X-RateLimit-Limit = %q", rec.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("proxied free request", func(t *testing.T) {
		rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/api/v1/fees", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"path":"/api/v1/fees"`) || !strings.Contains(rec.Body.String(), `"tier":"free"`) {
			t.Errorf("unexpected upstream body: %s", rec.Body.String())
		}
	})

	t.Run("peac.txt", func(t *testing.T) {
		rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/.well-known/peac.txt", nil))
		if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "version: 0.9.15") {
			t.Errorf("got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("admin requires key", func(t *testing.T) {
		rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/api/admin/revenue", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", rec.Code)
		}

		req := httptest.NewRequest(http.MethodGet, "/api/admin/revenue", nil)
		req.Header.Set("X-Admin-Key", "admin-key")
		if rec := serveRequest(a, req); rec.Code != http.StatusOK {
			t.Errorf("authorized status = %d", rec.Code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestApp_PaymentRequired(t *testing.T) {
	f, up := newTestServers(t)
	cfg := testConfig(f, up)
	cfg.Payment.Enabled = true
	a := newTestApp(t, cfg)

	rec := serveRequest(a, httptest.NewRequest(http.MethodGet, "/api/v1/intelligence/whales", nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "20000") {
		t.Errorf("expected 20000 minor units in challenge: %s", rec.Body.String())
	}

	rec = serveRequest(a, httptest.NewRequest(http.MethodGet, "/api/v1", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("index must stay free, got %d", rec.Code)
	}
}

func TestApp_UnverifiedPaymentIsNotForwardedAsPaid(t *testing.T) {
	f, up := newTestServers(t)

	tests := []struct {
		name    string
		enabled bool
		path    string
	}{
		{name: "payments disabled", enabled: false, path: "/api/v1/fees"},
		{name: "free path", enabled: true, path: "/api/v1/staking/history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(f, up)
			cfg.Payment.Enabled = tt.enabled
			a := newTestApp(t, cfg)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Payment", "eyJ4NDAyVmVyc2lvbiI6MX0=")
			rec := serveRequest(a, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"tier":"free"`) {
				t.Errorf("upstream saw an unverified payment as paid: %s", rec.Body.String())
			}
		})
	}
}

func TestApp_InvalidUpstream(t *testing.T) {
	f, _ := newTestServers(t)
	if _, err := newApp(context.Background(), testConfig(f, "://nope"), discard()); err == nil {
		t.Error("expected error for invalid upstream url")
	}
}

func TestReceiptVerifyCommand(t *testing.T) {
	t.Setenv("PEAC_SIGNING_KEY", testSigningKey)
	t.Setenv("PEAC_ED25519_SEED", "")

	issuer, err := newIssuer(config.ReceiptConfig{SigningKey: []byte(testSigningKey), Issuer: "btcfi.test"}, discard())
	if err != nil {
		t.Fatal(err)
	}
	token, err := issuer.Issue("/api/v1/fees", "10000", "base", []byte(`{"ok":true}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
		want    string
	}{
		{name: "valid", token: token, want: `"valid": true`},
		{name: "tampered", token: token + "x", wantErr: true, want: `"valid": false`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetErr(io.Discard)
			cmd.SetArgs([]string{"receipt", "verify", tt.token})

			err := cmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute error = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}
