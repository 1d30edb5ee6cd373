// Package config loads gateway settings from the environment (and an optional .env file).
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/btcfi/gateway"
)

// DevSigningKey signs receipts when PEAC_SIGNING_KEY is unset. Never use it in production.
const DevSigningKey = "btcfi-peac-development-signing-key"

type Config struct {
	Server    ServerConfig
	Payment   PaymentConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
	Nonce     NonceConfig
	Receipt   ReceiptConfig
	Staking   StakingConfig
	MCP       MCPConfig

	// AdminAPIKey protects /api/admin. Empty disables the admin routes.
	AdminAPIKey string

	// UpstreamURL is the business API the gateway proxies to.
	UpstreamURL string

	// TreasuryRPCURL is a Base JSON-RPC endpoint used to read the treasury USDC balance.
	// Empty omits on-chain balances from the admin revenue report.
	TreasuryRPCURL string
}

type ServerConfig struct {
	Addr     string
	LogLevel slog.Level
}

type PaymentConfig struct {
	Enabled           bool
	Network           string
	BaseFacilitator   string
	SolanaFacilitator string
	BasePayTo         string
	SolanaPayTo       string
	BaseAsset         string
	SolanaAsset       string

	// FacilitatorAuthorization is sent as the Authorization header to the Base facilitator.
	FacilitatorAuthorization string

	// CDPKeyName and CDPKeySecret sign per-request bearer tokens for the Coinbase facilitator
	// and take precedence over FacilitatorAuthorization.
	CDPKeyName   string
	CDPKeySecret string

	// OutboundTimeout bounds facilitator, staking and durable-store calls.
	OutboundTimeout time.Duration

	Prices gateway.PriceTable
}

// MCPConfig configures the hosted MCP server mounted at /api/mcp.
type MCPConfig struct {
	// APIURL is where tool calls are forwarded. Defaults to UPSTREAM_URL.
	APIURL string

	// InternalKey is sent as X-Internal-Key so forwarded calls skip payment.
	InternalKey string
}

type StoreConfig struct {
	RedisURL string
}

type RateLimitConfig struct {
	Free        int
	Signed      int
	Window      time.Duration
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

type NonceConfig struct {
	TTL        time.Duration
	MaxDrift   time.Duration
	MaxEntries int
}

type ReceiptConfig struct {
	SigningKey []byte

	// Ed25519Seed switches receipts to EdDSA when set (32 bytes, hex).
	Ed25519Seed []byte

	Issuer string

	// DevKey is true when SigningKey fell back to DevSigningKey.
	DevKey bool
}

type StakingConfig struct {
	RPCURL         string
	ContractBase   string
	ContractSolana string
	ServiceURL     string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	level, err := parseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	payment, err := buildPaymentConfig()
	if err != nil {
		return Config{}, err
	}

	rateLimit, err := buildRateLimitConfig()
	if err != nil {
		return Config{}, err
	}

	nonce, err := buildNonceConfig()
	if err != nil {
		return Config{}, err
	}

	receipt, err := buildReceiptConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{
			Addr:     getEnv("SERVER_ADDR", ":8080"),
			LogLevel: level,
		},
		Payment:   payment,
		Store:     StoreConfig{RedisURL: os.Getenv("REDIS_URL")},
		RateLimit: rateLimit,
		Nonce:     nonce,
		Receipt:   receipt,
		Staking: StakingConfig{
			RPCURL:         os.Getenv("STAKING_RPC_URL"),
			ContractBase:   os.Getenv("STAKING_CONTRACT_BASE"),
			ContractSolana: os.Getenv("STAKING_CONTRACT_SOLANA"),
			ServiceURL:     os.Getenv("STAKING_SERVICE_URL"),
		},
		MCP: MCPConfig{
			APIURL:      strings.TrimRight(getEnv("MCP_API_URL", os.Getenv("UPSTREAM_URL")), "/"),
			InternalKey: os.Getenv("INTERNAL_API_KEY"),
		},
		AdminAPIKey:    os.Getenv("ADMIN_API_KEY"),
		UpstreamURL:    os.Getenv("UPSTREAM_URL"),
		TreasuryRPCURL: getEnv("BASE_RPC_URL", os.Getenv("STAKING_RPC_URL")),
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}

func buildPaymentConfig() (PaymentConfig, error) {
	enabled, err := strconv.ParseBool(getEnv("X402_ENABLED", "false"))
	if err != nil {
		return PaymentConfig{}, fmt.Errorf("invalid X402_ENABLED: %w", err)
	}

	timeoutSeconds, err := strconv.Atoi(getEnv("OUTBOUND_TIMEOUT_SECONDS", "10"))
	if err != nil {
		return PaymentConfig{}, fmt.Errorf("invalid OUTBOUND_TIMEOUT_SECONDS: %w", err)
	}
	if timeoutSeconds < 5 || timeoutSeconds > 15 {
		return PaymentConfig{}, fmt.Errorf("OUTBOUND_TIMEOUT_SECONDS must be between 5 and 15, got %d", timeoutSeconds)
	}

	prices, err := buildPriceOverrides(gateway.DefaultPriceTable())
	if err != nil {
		return PaymentConfig{}, err
	}

	network := getEnv("X402_NETWORK", "base")
	if network != "base" && network != "solana" {
		return PaymentConfig{}, fmt.Errorf("invalid X402_NETWORK: %q (want base or solana)", network)
	}

	cdpName, cdpSecret := os.Getenv("CDP_API_KEY_ID"), os.Getenv("CDP_API_KEY_SECRET")
	if (cdpName == "") != (cdpSecret == "") {
		return PaymentConfig{}, fmt.Errorf("CDP_API_KEY_ID and CDP_API_KEY_SECRET must be set together")
	}

	return PaymentConfig{
		Enabled:                  enabled,
		Network:                  network,
		BaseFacilitator:          strings.TrimRight(getEnv("X402_FACILITATOR_URL", "https://x402.org/facilitator"), "/"),
		SolanaFacilitator:        strings.TrimRight(getEnv("NLX402_URL", "https://thrt.ai/nlx402"), "/"),
		BasePayTo:                getEnv("TREASURY_ADDRESS_BASE", "0xA6Bba2453673196ae22fb249C7eA9FA118a87150"),
		SolanaPayTo:              getEnv("TREASURY_ADDRESS_SOLANA", "8f2LTSW8ffDHE1UgkkUjJXpuXpvSq8gGXtWVrGX2uRqQ"),
		BaseAsset:                getEnv("USDC_ADDRESS", gateway.BaseMainnet.USDCAddress),
		SolanaAsset:              getEnv("USDC_MINT_SOLANA", gateway.SolanaMainnet.USDCAddress),
		FacilitatorAuthorization: os.Getenv("FACILITATOR_AUTHORIZATION"),
		CDPKeyName:               cdpName,
		CDPKeySecret:             cdpSecret,
		OutboundTimeout:          time.Duration(timeoutSeconds) * time.Second,
		Prices:                   prices,
	}, nil
}

// buildPriceOverrides applies PRICE_OVERRIDES ("/path=0.02,/other*=0") on top of base.
// A trailing "*" makes the override a prefix entry; otherwise it is an exact path.
func buildPriceOverrides(base gateway.PriceTable) (gateway.PriceTable, error) {
	table := base.Clone()
	raw := strings.TrimSpace(os.Getenv("PRICE_OVERRIDES"))
	if raw == "" {
		return table, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		path, value, ok := strings.Cut(item, "=")
		if !ok {
			return gateway.PriceTable{}, fmt.Errorf("price override must follow PATH=PRICE: %s", item)
		}
		path = strings.TrimSpace(path)
		price, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || price < 0 {
			return gateway.PriceTable{}, fmt.Errorf("invalid price for %s: %q", path, value)
		}
		if !strings.HasPrefix(path, "/") {
			return gateway.PriceTable{}, fmt.Errorf("price override path must start with /: %s", path)
		}

		if prefix, isPrefix := strings.CutSuffix(path, "*"); isPrefix {
			table.Prefix[strings.TrimRight(prefix, "/")] = price
		} else {
			table.Exact[path] = price
		}
	}
	return table, nil
}

func buildRateLimitConfig() (RateLimitConfig, error) {
	free, err := strconv.Atoi(getEnv("RATE_LIMIT_FREE", "100"))
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_FREE: %w", err)
	}
	signed, err := strconv.Atoi(getEnv("RATE_LIMIT_SIGNED", "500"))
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("invalid RATE_LIMIT_SIGNED: %w", err)
	}
	window, err := seconds("RATE_LIMIT_WINDOW_SECONDS", "60")
	if err != nil {
		return RateLimitConfig{}, err
	}
	backoff, err := seconds("RATE_LIMIT_BACKOFF_BASE_SECONDS", "60")
	if err != nil {
		return RateLimitConfig{}, err
	}
	maxBackoff, err := seconds("RATE_LIMIT_MAX_BACKOFF_SECONDS", "300")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if maxBackoff < backoff {
		return RateLimitConfig{}, fmt.Errorf("RATE_LIMIT_MAX_BACKOFF_SECONDS must be >= RATE_LIMIT_BACKOFF_BASE_SECONDS")
	}

	return RateLimitConfig{
		Free:        free,
		Signed:      signed,
		Window:      window,
		BackoffBase: backoff,
		MaxBackoff:  maxBackoff,
	}, nil
}

func buildNonceConfig() (NonceConfig, error) {
	ttl, err := seconds("NONCE_TTL_SECONDS", "300")
	if err != nil {
		return NonceConfig{}, err
	}
	drift, err := seconds("NONCE_MAX_DRIFT_SECONDS", "60")
	if err != nil {
		return NonceConfig{}, err
	}
	maxEntries, err := strconv.Atoi(getEnv("NONCE_MAX_ENTRIES", "10000"))
	if err != nil {
		return NonceConfig{}, fmt.Errorf("invalid NONCE_MAX_ENTRIES: %w", err)
	}
	return NonceConfig{TTL: ttl, MaxDrift: drift, MaxEntries: maxEntries}, nil
}

func buildReceiptConfig() (ReceiptConfig, error) {
	cfg := ReceiptConfig{
		SigningKey: []byte(os.Getenv("PEAC_SIGNING_KEY")),
		Issuer:     getEnv("PEAC_ISSUER", "btcfi.aiindigo.com"),
	}
	if len(cfg.SigningKey) == 0 {
		cfg.SigningKey = []byte(DevSigningKey)
		cfg.DevKey = true
	}

	if seedHex := os.Getenv("PEAC_ED25519_SEED"); seedHex != "" {
		seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
		if err != nil || len(seed) != 32 {
			return ReceiptConfig{}, fmt.Errorf("invalid PEAC_ED25519_SEED: must be 32 hex-encoded bytes")
		}
		cfg.Ed25519Seed = seed
	}
	return cfg, nil
}

func seconds(key, fallback string) (time.Duration, error) {
	n, err := strconv.Atoi(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(n) * time.Second, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
