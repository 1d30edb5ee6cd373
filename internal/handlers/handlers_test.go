package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/facilitator"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/revenue"
	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/store"
	"github.com/btcfi/gateway/store/memory"
)

const (
	basePayTo   = "0xA6Bba2453673196ae22fb249C7eA9FA118a87150"
	solanaPayTo = "8f2LTSW8ffDHE1UgkkUjJXpuXpvSq8gGXtWVrGX2uRqQ"
	adminKey    = "admin-secret"
)

type stubFacilitator struct {
	err error
}

func (s *stubFacilitator) Verify(context.Context, string, gateway.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	return &facilitator.VerifyResponse{IsValid: true}, nil
}

func (s *stubFacilitator) Supported(context.Context) (*facilitator.SupportedResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &facilitator.SupportedResponse{}, nil
}

type downStore struct {
	store.Store
}

func (downStore) Ping(context.Context) error { return store.ErrUnavailable }

type stubStaking struct {
	status *staking.Status
	err    error
}

func (s *stubStaking) StakeStatus(_ context.Context, address string) (*staking.Status, error) {
	if s.err != nil {
		return nil, s.err
	}
	st := *s.status
	st.Address = address
	return &st, nil
}

type fakeCaller struct {
	out  []byte
	err  error
	call ethereum.CallMsg
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.call = call
	return f.out, f.err
}

func newPayments(t *testing.T, base, sol facilitator.Interface) *payment.Gateway {
	t.Helper()
	g, err := payment.New(gateway.DefaultPriceTable(), "base",
		payment.Rail{
			Chain:          gateway.BaseMainnet,
			PayTo:          basePayTo,
			FacilitatorURL: "https://x402.org/facilitator",
			Provider:       "Coinbase",
			Facilitator:    base,
		},
		payment.Rail{
			Chain:          gateway.SolanaMainnet,
			PayTo:          solanaPayTo,
			FacilitatorURL: "https://thrt.ai/nlx402",
			Provider:       "NLx402 (PCEF)",
			Facilitator:    sol,
		},
	)
	if err != nil {
		t.Fatalf("payment.New: %v", err)
	}
	return g
}

func newHandlers(t *testing.T) *Handlers {
	t.Helper()
	return &Handlers{
		Payments: newPayments(t, &stubFacilitator{}, &stubFacilitator{}),
		Store:    memory.New(),
		AdminKey: adminKey,
		Limits:   Limits{Free: 100, Signed: 500, Window: time.Minute},
		Started:  time.Now().Add(-90 * time.Minute),
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		store      store.Store
		solanaErr  error
		wantStatus string
		wantDown   string
	}{
		{name: "all reachable", store: memory.New(), wantStatus: StatusHealthy},
		{name: "facilitator down", store: memory.New(), solanaErr: errors.New("timeout"), wantStatus: StatusPartial, wantDown: "facilitator_solana"},
		{name: "store down", store: downStore{}, wantStatus: StatusDegraded, wantDown: "store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			h.Store = tt.store
			h.Payments = newPayments(t, &stubFacilitator{}, &stubFacilitator{err: tt.solanaErr})

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			var body healthBody
			decode(t, rec, &body)

			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Version != Version {
				t.Errorf("version = %q", body.Version)
			}
			if len(body.Checks) != 3 {
				t.Errorf("expected 3 checks, got %v", body.Checks)
			}
			if tt.wantDown != "" && body.Checks[tt.wantDown].Status != "down" {
				t.Errorf("check %s = %+v, want down", tt.wantDown, body.Checks[tt.wantDown])
			}
			if !body.X402.Enabled || len(body.X402.Networks) != 2 {
				t.Errorf("unexpected x402 status: %+v", body.X402)
			}
			if body.Uptime < 5400 || body.UptimeHuman != "1h 30m" {
				t.Errorf("uptime = %d (%s)", body.Uptime, body.UptimeHuman)
			}
		})
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0h 0m"},
		{59 * time.Second, "0h 0m"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
		{50 * time.Hour, "2d 2h 0m"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.in); got != tt.want {
			t.Errorf("humanDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIndex(t *testing.T) {
	h := newHandlers(t)
	rec := httptest.NewRecorder()
	h.Index(rec, httptest.NewRequest(http.MethodGet, "/api/v1", nil))

	var body struct {
		Version string            `json:"version"`
		Pricing map[string]string `json:"pricing"`
		X402    struct {
			Enabled  bool          `json:"enabled"`
			Primary  string        `json:"primary"`
			Networks []networkInfo `json:"networks"`
		} `json:"x402"`
		Staking struct {
			Plans map[string]staking.Plan `json:"plans"`
		} `json:"staking"`
	}
	decode(t, rec, &body)

	if body.Version != Version || body.X402.Primary != "base" || len(body.X402.Networks) != 2 {
		t.Fatalf("unexpected index: %+v", body)
	}
	if body.X402.Networks[0].Asset != gateway.BaseMainnet.USDCAddress {
		t.Errorf("base asset = %q", body.X402.Networks[0].Asset)
	}
	if body.Pricing["/api/v1/zk/*"] != "$0.03" || body.Pricing["/api/health"] != "free" || body.Pricing["*"] != "$0.01" {
		t.Errorf("unexpected pricing: %v", body.Pricing)
	}
	if _, ok := body.Staking.Plans[staking.PlanWhale]; !ok {
		t.Error("index must list staking plans")
	}
}

func TestStakingStatus(t *testing.T) {
	staker := &staking.Status{Network: "base", StakedUSDC: 250, Tier: staking.PlanStaker}

	tests := []struct {
		name     string
		query    string
		provider staking.StatusProvider
		wantCode int
		wantErr  string
	}{
		{name: "no address lists tiers", query: "", wantCode: http.StatusOK},
		{name: "invalid address", query: "?address=not-a-wallet", provider: &stubStaking{status: staker}, wantCode: http.StatusBadRequest, wantErr: "INVALID_ADDRESS"},
		{name: "not configured", query: "?address=" + basePayTo, wantCode: http.StatusServiceUnavailable, wantErr: "STAKING_UNAVAILABLE"},
		{name: "provider error", query: "?address=" + basePayTo, provider: &stubStaking{err: errors.New("rpc down")}, wantCode: http.StatusInternalServerError, wantErr: "STAKE_CHECK_FAILED"},
		{name: "staked address", query: "?address=" + basePayTo, provider: &stubStaking{status: staker}, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			h.Staking = tt.provider
			h.Escrow = staking.Escrow{Base: "0x1111111111111111111111111111111111111111"}

			rec := httptest.NewRecorder()
			h.StakingStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/staking/status"+tt.query, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr != "" {
				var body errorBody
				decode(t, rec, &body)
				if body.Success || body.Code != tt.wantErr {
					t.Errorf("body = %+v, want code %s", body, tt.wantErr)
				}
				return
			}

			var body struct {
				Success bool            `json:"success"`
				Data    json.RawMessage `json:"data"`
				Meta    meta            `json:"meta"`
			}
			decode(t, rec, &body)
			if !body.Success || body.Meta.Pricing != "free" {
				t.Errorf("unexpected envelope: %+v", body)
			}
			if tt.query == "" {
				if !bytes.Contains(body.Data, []byte(`"tiers"`)) {
					t.Errorf("expected tier listing, got %s", body.Data)
				}
				return
			}
			var st staking.Status
			if err := json.Unmarshal(body.Data, &st); err != nil {
				t.Fatal(err)
			}
			if st.Tier != staking.PlanStaker || st.Address != basePayTo || st.Escrow != h.Escrow {
				t.Errorf("unexpected status: %+v", st)
			}
		})
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		header   string
		value    string
		wantCode int
	}{
		{name: "missing key", key: adminKey, wantCode: http.StatusUnauthorized},
		{name: "wrong key", key: adminKey, header: HeaderAdminKey, value: "guess", wantCode: http.StatusUnauthorized},
		{name: "admin header", key: adminKey, header: HeaderAdminKey, value: adminKey, wantCode: http.StatusOK},
		{name: "bearer token", key: adminKey, header: "Authorization", value: "Bearer " + adminKey, wantCode: http.StatusOK},
		{name: "unconfigured", key: "", header: HeaderAdminKey, value: "", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlers(t)
			h.AdminKey = tt.key
			handler := h.RequireAdmin(http.HandlerFunc(h.AdminRevenue))

			req := httptest.NewRequest(http.MethodGet, "/api/admin/revenue", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), "Unauthorized") {
				t.Errorf("unexpected body: %s", rec.Body.String())
			}
		})
	}
}

func TestAdminRevenue(t *testing.T) {
	h := newHandlers(t)
	h.Revenue = revenue.New(nil)
	h.Revenue.RecordPayment("base", "/api/v1/fees")

	balance := common.LeftPadBytes(big.NewInt(12_345_678).Bytes(), 32)
	caller := &fakeCaller{out: balance}
	h.Treasury = &Treasury{Caller: caller, Token: common.HexToAddress(gateway.BaseMainnet.USDCAddress)}

	rec := httptest.NewRecorder()
	h.AdminRevenue(rec, httptest.NewRequest(http.MethodGet, "/api/admin/revenue", nil))

	var body struct {
		Success bool `json:"success"`
		Revenue struct {
			Treasury map[string]treasuryWallet `json:"treasury"`
			Stats    revenue.Stats             `json:"stats"`
			Pricing  map[string]string         `json:"pricing"`
		} `json:"revenue"`
	}
	decode(t, rec, &body)

	if !body.Success || body.Revenue.Stats.Total != 1 {
		t.Errorf("unexpected revenue: %+v", body)
	}
	if got := body.Revenue.Treasury["base"]; got.Address != basePayTo || got.Balance != "$12.35 USDC" {
		t.Errorf("base treasury = %+v", got)
	}
	if got := body.Revenue.Treasury["solana"].Balance; got != "Check on Solscan" {
		t.Errorf("solana balance = %q", got)
	}
	if *caller.call.To != common.HexToAddress(gateway.BaseMainnet.USDCAddress) {
		t.Errorf("balanceOf sent to %s", caller.call.To)
	}

	t.Run("rpc error", func(t *testing.T) {
		h.Treasury = &Treasury{Caller: &fakeCaller{err: errors.New("rpc down")}}
		rec := httptest.NewRecorder()
		h.AdminRevenue(rec, httptest.NewRequest(http.MethodGet, "/api/admin/revenue", nil))
		if !strings.Contains(rec.Body.String(), "RPC error") {
			t.Errorf("expected RPC error balance, got %s", rec.Body.String())
		}
	})
}

func TestAdminStats(t *testing.T) {
	h := newHandlers(t)
	h.Revenue = revenue.New(nil)
	h.Revenue.RecordPayment("base", "/api/v1/intelligence/whales")
	h.Revenue.RecordPayment("solana", "/api/v1/intelligence/risk")
	h.Revenue.RecordPayment("base", "/api/v1/fees")

	rec := httptest.NewRecorder()
	h.AdminStats(rec, httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil))

	var body struct {
		Revenue struct {
			Total       float64            `json:"total"`
			RequestsDay int64              `json:"requestsDay"`
			ByTier      map[string]float64 `json:"byTier"`
		} `json:"revenue"`
		TopEndpoints []endpointCount `json:"topEndpoints"`
	}
	decode(t, rec, &body)

	if math.Abs(body.Revenue.Total-0.05) > 1e-9 {
		t.Errorf("total = %v, want 0.05", body.Revenue.Total)
	}
	if body.Revenue.RequestsDay != 3 {
		t.Errorf("requestsDay = %d", body.Revenue.RequestsDay)
	}
	if len(body.TopEndpoints) != 2 || body.TopEndpoints[0].Label != "intelligence" || body.TopEndpoints[0].Count != 2 {
		t.Errorf("unexpected top endpoints: %+v", body.TopEndpoints)
	}
}

func TestX402Discovery(t *testing.T) {
	h := newHandlers(t)
	h.MCPTools = 27
	rec := httptest.NewRecorder()
	h.X402Discovery(rec, httptest.NewRequest(http.MethodGet, "/.well-known/x402-discovery.json", nil))

	if got := rec.Header().Get("Cache-Control"); got != "public, s-maxage=3600" {
		t.Errorf("Cache-Control = %q", got)
	}

	var body struct {
		Version string `json:"version"`
		Payment struct {
			Networks  []discoveryNetwork `json:"networks"`
			MinAmount string             `json:"min_amount"`
			MaxAmount string             `json:"max_amount"`
		} `json:"payment"`
		MCP struct {
			Tools int `json:"tools"`
		} `json:"mcp"`
	}
	decode(t, rec, &body)

	if body.Version != "2.0" || body.MCP.Tools != 27 {
		t.Errorf("unexpected document: %+v", body)
	}
	if body.Payment.MinAmount != "0.01" || body.Payment.MaxAmount != "0.05" {
		t.Errorf("amount range = %s..%s", body.Payment.MinAmount, body.Payment.MaxAmount)
	}
	if len(body.Payment.Networks) != 2 {
		t.Fatalf("networks = %+v", body.Payment.Networks)
	}
	sol := body.Payment.Networks[1]
	if sol.ChainID != gateway.SolanaMainnet.ChainID || sol.Name != "Solana" || sol.FacilitatorProvider != "NLx402 (PCEF)" {
		t.Errorf("unexpected solana entry: %+v", sol)
	}
}

func TestPEAC(t *testing.T) {
	h := newHandlers(t)
	rec := httptest.NewRecorder()
	h.PEAC(rec, httptest.NewRequest(http.MethodGet, "/.well-known/peac.txt", nil))

	if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"version: 0.9.15\n",
		"provider: BTCFi API\n",
		"rate_limit: 100/minute\n",
		"rate_limit_signed: 500/minute\n",
		"price: 0.01\n",
		"payment_networks: [base, solana]\n",
		"payment_endpoint: https://btcfi.aiindigo.com/api/v1\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("peac.txt missing %q:\n%s", want, body)
		}
	}
}

func TestPriceRange(t *testing.T) {
	lo, hi := priceRange(gateway.PriceTable{
		Exact:   map[string]float64{"/a": 0},
		Prefix:  map[string]float64{"/b": 0.2, "/c": 0.03},
		Default: 0.05,
	})
	if lo != 0.03 || hi != 0.2 {
		t.Errorf("range = %v..%v", lo, hi)
	}
}

func TestTreasury_BalanceOf(t *testing.T) {
	token := common.HexToAddress(gateway.BaseMainnet.USDCAddress)

	t.Run("encodes call", func(t *testing.T) {
		caller := &fakeCaller{out: common.LeftPadBytes(big.NewInt(1_000_000).Bytes(), 32)}
		tr := &Treasury{Caller: caller, Token: token}

		bal, err := tr.BalanceOf(context.Background(), basePayTo)
		if err != nil {
			t.Fatalf("BalanceOf: %v", err)
		}
		if bal.Int64() != 1_000_000 || FormatUSDC(bal) != "1.00" {
			t.Errorf("balance = %s", bal)
		}
		if len(caller.call.Data) != 36 || !bytes.Equal(caller.call.Data[:4], balanceOfSelector) {
			t.Errorf("unexpected call data %x", caller.call.Data)
		}
		if !bytes.Equal(caller.call.Data[16:], common.HexToAddress(basePayTo).Bytes()) {
			t.Errorf("owner not encoded: %x", caller.call.Data)
		}
	})

	t.Run("short result", func(t *testing.T) {
		tr := &Treasury{Caller: &fakeCaller{}, Token: token}
		bal, err := tr.BalanceOf(context.Background(), basePayTo)
		if err != nil || bal.Sign() != 0 {
			t.Errorf("got %v, %v", bal, err)
		}
	})

	t.Run("invalid owner", func(t *testing.T) {
		tr := &Treasury{Caller: &fakeCaller{}, Token: token}
		if _, err := tr.BalanceOf(context.Background(), solanaPayTo); err == nil {
			t.Error("expected error for non-EVM owner")
		}
	})
}

func TestProxy(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	proxy, err := NewProxy(upstream.URL, nil)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fees?speed=fast", nil)
	req.Header.Set("X-Payment", "proof")
	req.Header.Set("X-Internal-Key", "forged")
	req.Header.Set(HeaderUpstreamTier, "whale")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != `{"ok":true}` {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if got.URL.Path != "/api/v1/fees" || got.URL.RawQuery != "speed=fast" {
		t.Errorf("upstream saw %s", got.URL)
	}
	for _, h := range []string{"X-Payment", "X-Internal-Key", HeaderUpstreamTier} {
		if got.Header.Get(h) != "" {
			t.Errorf("header %s leaked upstream", h)
		}
	}
	if got.Header.Get("Accept") != "application/json" || got.Header.Get("X-Forwarded-For") == "" {
		t.Errorf("unexpected upstream headers: %v", got.Header)
	}

	t.Run("upstream down", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()
		proxy, err := NewProxy(dead.URL, nil)
		if err != nil {
			t.Fatal(err)
		}
		rec := httptest.NewRecorder()
		proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/fees", nil))
		if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "UPSTREAM_UNAVAILABLE") {
			t.Errorf("got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		if _, err := NewProxy("not a url", nil); err == nil {
			t.Error("expected error")
		}
	})
}
