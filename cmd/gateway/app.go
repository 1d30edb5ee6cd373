package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/facilitator"
	httpgw "github.com/btcfi/gateway/http"
	chigw "github.com/btcfi/gateway/http/chi"
	"github.com/btcfi/gateway/internal/config"
	"github.com/btcfi/gateway/internal/handlers"
	"github.com/btcfi/gateway/internal/metrics"
	"github.com/btcfi/gateway/mcp"
	"github.com/btcfi/gateway/nonce"
	"github.com/btcfi/gateway/payment"
	"github.com/btcfi/gateway/ratelimit"
	"github.com/btcfi/gateway/receipt"
	"github.com/btcfi/gateway/revenue"
	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/store"
	"github.com/btcfi/gateway/store/memory"
	"github.com/btcfi/gateway/store/redis"
	"github.com/btcfi/gateway/tier"
)

// app is the wired gateway.
type app struct {
	Handler http.Handler
	Metrics *metrics.Recorder
	Revenue *revenue.Ledger

	closers []func()
}

// Close flushes revenue mirroring before the shared store goes away.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{Metrics: metrics.New()}

	shared, durable, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if rs, ok := durable.(*redis.Store); ok {
		a.closers = append(a.closers, func() { _ = rs.Close() })
	}

	escrow := staking.Escrow{Base: cfg.Staking.ContractBase, Solana: cfg.Staking.ContractSolana}
	stakes, err := openStaking(ctx, cfg, escrow)
	if err != nil {
		return nil, err
	}

	nonces := nonce.New(shared)
	nonces.TTL = cfg.Nonce.TTL
	nonces.MaxDrift = cfg.Nonce.MaxDrift
	nonces.Logger = logger

	classifier := &tier.Classifier{
		Nonces:         nonces,
		Staking:        stakes,
		StakingTimeout: cfg.Payment.OutboundTimeout,
		Metrics:        a.Metrics,
		Logger:         logger,
	}

	limiter := ratelimit.New(durable)
	limiter.Limits = map[gateway.Tier]int{
		gateway.TierFree:   cfg.RateLimit.Free,
		gateway.TierSigned: cfg.RateLimit.Signed,
	}
	limiter.Window = cfg.RateLimit.Window
	limiter.BackoffBase = cfg.RateLimit.BackoffBase
	limiter.MaxBackoff = cfg.RateLimit.MaxBackoff
	limiter.Metrics = a.Metrics
	limiter.Logger = logger

	payments, err := newPayments(cfg, a.Metrics, logger)
	if err != nil {
		return nil, err
	}

	issuer, err := newIssuer(cfg.Receipt, logger)
	if err != nil {
		return nil, err
	}

	a.Revenue = revenue.New(durable)
	a.Revenue.Metrics = a.Metrics
	a.Revenue.Logger = logger
	a.closers = append(a.closers, a.Revenue.Close)

	h := &handlers.Handlers{
		Payments: payments,
		Store:    shared,
		Staking:  stakes,
		Escrow:   escrow,
		Revenue:  a.Revenue,
		AdminKey: cfg.AdminAPIKey,
		Site:     handlers.DefaultSite,
		Limits: handlers.Limits{
			Free:   cfg.RateLimit.Free,
			Signed: cfg.RateLimit.Signed,
			Window: cfg.RateLimit.Window,
		},
		Started: time.Now(),
		Logger:  logger,
	}
	if cfg.TreasuryRPCURL != "" {
		t, err := handlers.DialTreasury(ctx, cfg.TreasuryRPCURL, cfg.Payment.BaseAsset)
		if err != nil {
			logger.Warn("treasury balance disabled", "error", err)
		} else {
			h.Treasury = t
		}
	}

	var mcpServer *mcp.Server
	if cfg.MCP.APIURL != "" {
		mcpServer = mcp.NewServer(cfg.MCP.APIURL, cfg.Payment.Prices)
		mcpServer.InternalKey = cfg.MCP.InternalKey
		mcpServer.Timeout = cfg.Payment.OutboundTimeout
		mcpServer.Logger = logger
		h.MCPTools = len(mcpServer.Tools())
	}

	var upstream http.Handler
	if cfg.UpstreamURL != "" {
		if upstream, err = handlers.NewProxy(cfg.UpstreamURL, logger); err != nil {
			return nil, err
		}
	}

	gw := httpgw.Config{
		Classifier: classifier,
		Limiter:    limiter,
		Payments:   payments,
		Receipts:   issuer,
		Revenue:    a.Revenue,
		Encrypt:    true,
		Metrics:    a.Metrics,
		Logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Handle("/metrics", a.Metrics.Handler())
	r.Get("/.well-known/x402-discovery.json", h.X402Discovery)
	r.Get("/.well-known/peac.txt", h.PEAC)
	r.Route("/api", func(r chi.Router) {
		r.Use(chigw.NewChiMiddleware(gw))

		r.Get("/health", h.Health)
		r.Get("/v1", h.Index)
		r.Get("/v1/staking/status", h.StakingStatus)
		r.With(h.RequireAdmin).Get("/admin/revenue", h.AdminRevenue)
		r.With(h.RequireAdmin).Get("/admin/stats", h.AdminStats)
		if mcpServer != nil {
			r.Handle("/mcp", mcpServer.Handler())
		}
		if upstream != nil {
			r.Handle("/*", upstream)
		}
	})

	a.Handler = r
	return a, nil
}

// openStore returns the store for nonces and the store for counters. Both are Redis when
// REDIS_URL is set; otherwise nonces and counters live in process.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (shared, durable store.Store, err error) {
	if cfg.Store.RedisURL == "" {
		mem := memory.New()
		mem.MaxEntries = cfg.Nonce.MaxEntries
		logger.Warn("REDIS_URL not set, counters are per-process")
		return mem, nil, nil
	}
	rs, err := redis.New(ctx, redis.Config{URL: cfg.Store.RedisURL})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rs, rs, nil
}

func openStaking(ctx context.Context, cfg config.Config, escrow staking.Escrow) (staking.StatusProvider, error) {
	switch {
	case cfg.Staking.RPCURL != "" && cfg.Staking.ContractBase != "":
		reader, err := staking.DialEscrow(ctx, cfg.Staking.RPCURL, cfg.Staking.ContractBase, escrow)
		if err != nil {
			return nil, err
		}
		reader.Timeout = cfg.Payment.OutboundTimeout
		return reader, nil
	case cfg.Staking.ServiceURL != "":
		return &staking.ServiceClient{
			BaseURL: cfg.Staking.ServiceURL,
			Client:  &http.Client{},
			Timeout: cfg.Payment.OutboundTimeout,
		}, nil
	default:
		return nil, nil
	}
}

func newPayments(cfg config.Config, m *metrics.Recorder, logger *slog.Logger) (*payment.Gateway, error) {
	pc := cfg.Payment

	base := facilitator.NewClient(pc.BaseFacilitator)
	base.Timeout = pc.OutboundTimeout
	base.Logger = logger
	switch {
	case pc.CDPKeyName != "":
		auth, err := facilitator.NewCDPAuth(pc.CDPKeyName, pc.CDPKeySecret)
		if err != nil {
			return nil, err
		}
		base.AuthorizationProvider = auth.Provider()
	case pc.FacilitatorAuthorization != "":
		base.Authorization = pc.FacilitatorAuthorization
	}

	sol := facilitator.NewClient(pc.SolanaFacilitator)
	sol.Timeout = pc.OutboundTimeout
	sol.SendExpectations = true
	sol.Logger = logger

	g, err := payment.New(pc.Prices, pc.Network,
		payment.Rail{
			Chain:          gateway.BaseMainnet,
			PayTo:          pc.BasePayTo,
			Asset:          pc.BaseAsset,
			FacilitatorURL: pc.BaseFacilitator,
			Provider:       "Coinbase x402 Facilitator",
			Fees:           "zero (Coinbase ERC-3009)",
			Facilitator:    base,
		},
		payment.Rail{
			Chain:          gateway.SolanaMainnet,
			PayTo:          pc.SolanaPayTo,
			Asset:          pc.SolanaAsset,
			FacilitatorURL: pc.SolanaFacilitator,
			Provider:       "NLx402 (PCEF 501c3)",
			Fees:           "zero (nonprofit)",
			Facilitator:    sol,
		},
	)
	if err != nil {
		return nil, err
	}
	g.Enabled = pc.Enabled
	g.Timeout = pc.OutboundTimeout
	g.Metrics = m
	g.Logger = logger
	return g, nil
}

func newIssuer(cfg config.ReceiptConfig, logger *slog.Logger) (*receipt.Issuer, error) {
	var (
		issuer *receipt.Issuer
		err    error
	)
	if len(cfg.Ed25519Seed) == ed25519.SeedSize {
		issuer, err = receipt.NewEd25519Issuer(ed25519.NewKeyFromSeed(cfg.Ed25519Seed))
	} else {
		if cfg.DevKey {
			logger.Warn("PEAC_SIGNING_KEY not set, receipts are signed with the development key")
		}
		issuer, err = receipt.NewIssuer(cfg.SigningKey)
	}
	if err != nil {
		return nil, err
	}
	issuer.Name = cfg.Issuer
	return issuer, nil
}
