package tier

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"

	"github.com/btcfi/gateway"
	"github.com/btcfi/gateway/nonce"
	"github.com/btcfi/gateway/staking"
	"github.com/btcfi/gateway/store/memory"
)

var testNow = time.Unix(1700000000, 0)

type stubStaking struct {
	status *staking.Status
	err    error
	calls  int
}

func (s *stubStaking) StakeStatus(context.Context, string) (*staking.Status, error) {
	s.calls++
	return s.status, s.err
}

type downStore struct{ memory.Store }

func (*downStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, gateway.ErrStoreUnavailable
}

func newClassifier() *Classifier {
	mem := memory.New()
	mem.Now = func() time.Time { return testNow }
	ledger := nonce.New(mem)
	ledger.Now = func() time.Time { return testNow }
	return &Classifier{Nonces: ledger}
}

func signedEVMRequest(t *testing.T, path, nonceValue string, ts int64) *http.Request {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tsStr := strconv.FormatInt(ts, 10)
	msg := "GET:" + path + ":" + nonceValue + ":" + tsStr
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	sig[64] += 27

	r := httptest.NewRequest("GET", path, nil)
	r.Header.Set("X-Signature", "0x"+hex.EncodeToString(sig))
	r.Header.Set("X-Nonce", nonceValue)
	r.Header.Set("X-Signer", crypto.PubkeyToAddress(key.PublicKey).Hex())
	r.Header.Set("X-Timestamp", tsStr)
	return r
}

func signedSolanaRequest(t *testing.T, path, nonceValue string, ts int64) *http.Request {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	tsStr := strconv.FormatInt(ts, 10)
	sig, err := key.Sign([]byte("GET:" + path + ":" + nonceValue + ":" + tsStr))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}

	r := httptest.NewRequest("GET", path, nil)
	r.Header.Set("X-Signature", base64.StdEncoding.EncodeToString(sig[:]))
	r.Header.Set("X-Nonce", nonceValue)
	r.Header.Set("X-Signer", key.PublicKey().String())
	r.Header.Set("X-Timestamp", tsStr)
	return r
}

func TestClassify_Precedence(t *testing.T) {
	c := newClassifier()
	ctx := context.Background()

	t.Run("anonymous is free", func(t *testing.T) {
		id := c.Classify(ctx, httptest.NewRequest("GET", "/api/v1/fees", nil))
		if id.Tier != gateway.TierFree {
			t.Errorf("expected free, got %s", id.Tier)
		}
		if id.ClientFingerprint == "" {
			t.Error("expected a fingerprint")
		}
	})

	t.Run("payment wins over everything", func(t *testing.T) {
		r := signedEVMRequest(t, "/api/v1/fees", "pay-1", testNow.Unix())
		r.Header.Set("X-Payment", "eyJ4NDAyVmVyc2lvbiI6MX0=")
		r.Header.Set("X-Staker", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
		if id := c.Classify(ctx, r); id.Tier != gateway.TierPaid {
			t.Errorf("expected paid, got %s", id.Tier)
		}
	})

	t.Run("staker without provider is trusted", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/fees", nil)
		r.Header.Set("X-Staker", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0")
		id := c.Classify(ctx, r)
		if id.Tier != gateway.TierStaked || id.Family != gateway.FamilyEVM {
			t.Errorf("expected staked evm, got %+v", id)
		}
	})

	t.Run("invalid staker falls through", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/fees", nil)
		r.Header.Set("X-Staker", "not-an-address")
		id := c.Classify(ctx, r)
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonInvalidStaker {
			t.Errorf("expected free with invalid staker reason, got %+v", id)
		}
	})
}

func TestClassify_Signed(t *testing.T) {
	ctx := context.Background()

	t.Run("evm signature", func(t *testing.T) {
		c := newClassifier()
		r := signedEVMRequest(t, "/api/v1/fees", "evm-1", testNow.Unix())
		id := c.Classify(ctx, r)
		if id.Tier != gateway.TierSigned || id.Family != gateway.FamilyEVM {
			t.Fatalf("expected signed evm, got %+v", id)
		}
		if id.SignerAddress != r.Header.Get("X-Signer") {
			t.Errorf("unexpected signer %s", id.SignerAddress)
		}
	})

	t.Run("solana signature", func(t *testing.T) {
		c := newClassifier()
		id := c.Classify(ctx, signedSolanaRequest(t, "/api/v1/mempool", "sol-1", testNow.Unix()))
		if id.Tier != gateway.TierSigned || id.Family != gateway.FamilySolana {
			t.Fatalf("expected signed solana, got %+v", id)
		}
	})

	t.Run("replayed nonce is free, not an error", func(t *testing.T) {
		c := newClassifier()
		r := signedEVMRequest(t, "/api/v1/fees", "replay-1", testNow.Unix())
		if id := c.Classify(ctx, r); id.Tier != gateway.TierSigned {
			t.Fatalf("expected first request signed, got %s", id.Tier)
		}
		id := c.Classify(ctx, r)
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonNonceReplayed {
			t.Errorf("expected free with nonce_replayed, got %+v", id)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		c := newClassifier()
		id := c.Classify(ctx, signedEVMRequest(t, "/api/v1/fees", "old-1", testNow.Unix()-120))
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonTimestampExpired {
			t.Errorf("expected timestamp_expired, got %+v", id)
		}
	})

	t.Run("signature over another path does not burn the nonce", func(t *testing.T) {
		c := newClassifier()
		r := signedEVMRequest(t, "/api/v1/fees", "forge-1", testNow.Unix())
		forged := httptest.NewRequest("GET", "/api/v1/mempool", nil)
		forged.Header = r.Header.Clone()

		id := c.Classify(ctx, forged)
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonSignatureInvalid {
			t.Fatalf("expected signature_invalid, got %+v", id)
		}
		if id := c.Classify(ctx, r); id.Tier != gateway.TierSigned {
			t.Errorf("expected genuine request to stay signed, got %+v", id)
		}
	})

	t.Run("incomplete headers", func(t *testing.T) {
		c := newClassifier()
		r := httptest.NewRequest("GET", "/api/v1/fees", nil)
		r.Header.Set("X-Signature", "0xabc")
		id := c.Classify(ctx, r)
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonMalformedSigningHeaders {
			t.Errorf("expected malformed headers reason, got %+v", id)
		}
	})

	t.Run("unknown signer shape", func(t *testing.T) {
		c := newClassifier()
		r := signedEVMRequest(t, "/api/v1/fees", "shape-1", testNow.Unix())
		r.Header.Set("X-Signer", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq")
		id := c.Classify(ctx, r)
		if id.DemotionReason != ReasonInvalidSigner {
			t.Errorf("expected invalid signer reason, got %+v", id)
		}
	})

	t.Run("nonce store outage fails closed", func(t *testing.T) {
		ledger := nonce.New(&downStore{})
		ledger.Now = func() time.Time { return testNow }
		c := &Classifier{Nonces: ledger}
		id := c.Classify(ctx, signedEVMRequest(t, "/api/v1/fees", "down-1", testNow.Unix()))
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonNonceUnavailable {
			t.Errorf("expected free with nonce_store_unavailable, got %+v", id)
		}
	})

	t.Run("signed tier disabled without a ledger", func(t *testing.T) {
		c := &Classifier{}
		id := c.Classify(ctx, signedEVMRequest(t, "/api/v1/fees", "x-1", time.Now().Unix()))
		if id.Tier != gateway.TierFree {
			t.Errorf("expected free, got %s", id.Tier)
		}
	})
}

func TestClassify_StakingProvider(t *testing.T) {
	ctx := context.Background()
	staker := "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"

	request := func() *http.Request {
		r := httptest.NewRequest("GET", "/api/v1/fees", nil)
		r.Header.Set("X-Staker", staker)
		return r
	}

	t.Run("corroborated", func(t *testing.T) {
		c := newClassifier()
		c.Staking = &stubStaking{status: &staking.Status{Tier: staking.PlanStaker}}
		if id := c.Classify(ctx, request()); id.Tier != gateway.TierStaked {
			t.Errorf("expected staked, got %s", id.Tier)
		}
	})

	t.Run("no stake", func(t *testing.T) {
		c := newClassifier()
		c.Staking = &stubStaking{status: &staking.Status{Tier: staking.PlanFree}}
		id := c.Classify(ctx, request())
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonStakeNotFound {
			t.Errorf("expected free with stake_not_found, got %+v", id)
		}
	})

	t.Run("lookup failure fails closed", func(t *testing.T) {
		c := newClassifier()
		c.Staking = &stubStaking{err: errors.New("rpc down")}
		id := c.Classify(ctx, request())
		if id.Tier != gateway.TierFree || id.DemotionReason != ReasonStakingUnavailable {
			t.Errorf("expected free with staking_unavailable, got %+v", id)
		}
	})

	t.Run("falls through to signed", func(t *testing.T) {
		c := newClassifier()
		c.Staking = &stubStaking{status: &staking.Status{Tier: staking.PlanFree}}
		r := signedEVMRequest(t, "/api/v1/fees", "stake-sig-1", testNow.Unix())
		r.Header.Set("X-Staker", staker)
		if id := c.Classify(ctx, r); id.Tier != gateway.TierSigned {
			t.Errorf("expected signed, got %+v", id)
		}
	})
}

func TestClientOrigin(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.1:5555", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientOrigin(r); got != tt.want {
				t.Errorf("ClientOrigin() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("203.0.113.5", "curl/8.0")
	b := Fingerprint("203.0.113.5", "curl/8.0")
	c := Fingerprint("203.0.113.5", "python-requests")

	if a != b {
		t.Error("expected stable fingerprint")
	}
	if a == c {
		t.Error("expected user agent to change the fingerprint")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
}
