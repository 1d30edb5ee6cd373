// Package receipt issues and verifies PEAC payment receipts.
//
// A receipt is a compact JWS (header.payload.signature) attached to paid responses as
// X-PEAC-Receipt. Callers keep it as offline proof of what they paid for and what they got.
// HS256 receipts need the shared key to verify; EdDSA receipts verify with the public key alone.
package receipt

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "gopkg.in/square/go-jose.v2"
)

// Protocol constants.
const (
	Version  = "0.9.15"
	Type     = "PEAC"
	Currency = "USDC"

	DefaultIssuer = "btcfi.aiindigo.com"

	// HeaderName is the response header carrying the receipt.
	HeaderName = "X-PEAC-Receipt"
)

// Verification errors.
const (
	ErrInvalidFormat       = "invalid_format"
	ErrParse               = "parse_error"
	ErrInvalidSignature    = "invalid_signature"
	ErrUnexpectedAlgorithm = "unexpected_algorithm"
)

// Payload is the signed content of a receipt.
type Payload struct {
	Version   string `json:"v"`
	Timestamp string `json:"ts"`
	Resource  string `json:"res"`
	Amount    string `json:"amt"`
	Currency  string `json:"cur"`
	Rail      string `json:"rail"`

	// ResponseHash is the first 16 hex characters of SHA-256 over the response body.
	ResponseHash string `json:"rh"`

	Issuer string `json:"iss"`
}

// Verification is the result of Verify. Error is empty when Valid is true.
type Verification struct {
	Valid   bool     `json:"valid"`
	Payload *Payload `json:"payload,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ResponseHash returns the rh claim for body.
func ResponseHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:16]
}

// Issuer signs receipts.
type Issuer struct {
	// Name is written into the iss claim.
	Name string

	// Now defaults to time.Now.
	Now func() time.Time

	signer jose.Signer
}

// NewIssuer returns an HS256 issuer keyed with secret.
func NewIssuer(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("receipt: signing key cannot be empty")
	}
	return newIssuer(jose.SigningKey{Algorithm: jose.HS256, Key: secret})
}

// NewEd25519Issuer returns an EdDSA issuer.
func NewEd25519Issuer(key ed25519.PrivateKey) (*Issuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("receipt: ed25519 key must be %d bytes", ed25519.PrivateKeySize)
	}
	return newIssuer(jose.SigningKey{Algorithm: jose.EdDSA, Key: key})
}

func newIssuer(key jose.SigningKey) (*Issuer, error) {
	signer, err := jose.NewSigner(key, (&jose.SignerOptions{}).WithType(Type))
	if err != nil {
		return nil, fmt.Errorf("receipt: failed to create signer: %w", err)
	}
	return &Issuer{Name: DefaultIssuer, signer: signer}, nil
}

// Issue signs a receipt for a paid response. amount is in the asset's minor units.
func (i *Issuer) Issue(resource, amount, network string, responseBody []byte) (string, error) {
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	name := i.Name
	if name == "" {
		name = DefaultIssuer
	}

	payload, err := json.Marshal(Payload{
		Version:      Version,
		Timestamp:    now().UTC().Format(time.RFC3339Nano),
		Resource:     resource,
		Amount:       amount,
		Currency:     Currency,
		Rail:         network,
		ResponseHash: ResponseHash(responseBody),
		Issuer:       name,
	})
	if err != nil {
		return "", fmt.Errorf("receipt: failed to marshal payload: %w", err)
	}

	obj, err := i.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("receipt: failed to sign: %w", err)
	}
	return obj.CompactSerialize()
}

// Verifier checks receipts offline.
type Verifier struct {
	algorithm jose.SignatureAlgorithm
	key       any
}

// NewVerifier returns an HS256 verifier.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{algorithm: jose.HS256, key: secret}
}

// NewEd25519Verifier returns an EdDSA verifier that needs only the public key.
func NewEd25519Verifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{algorithm: jose.EdDSA, key: key}
}

// Verify checks token and returns its payload. It never panics.
func (v *Verifier) Verify(token string) (result Verification) {
	defer func() {
		if r := recover(); r != nil {
			result = Verification{Error: ErrParse}
		}
	}()

	if len(strings.Split(token, ".")) != 3 {
		return Verification{Error: ErrInvalidFormat}
	}

	obj, err := jose.ParseSigned(token)
	if err != nil || len(obj.Signatures) != 1 {
		return Verification{Error: ErrParse}
	}

	if alg := jose.SignatureAlgorithm(obj.Signatures[0].Header.Algorithm); alg != v.algorithm {
		return Verification{Error: ErrUnexpectedAlgorithm}
	}

	raw, err := obj.Verify(v.key)
	if err != nil {
		return Verification{Error: ErrInvalidSignature}
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Verification{Error: ErrParse}
	}
	return Verification{Valid: true, Payload: &payload}
}
