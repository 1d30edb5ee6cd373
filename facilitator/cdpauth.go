package facilitator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// CDPTokenLifetime is how long a CDP bearer token stays valid.
const CDPTokenLifetime = 2 * time.Minute

// CDPAuth signs short-lived bearer tokens for the Coinbase Developer Platform facilitator.
// It is safe for concurrent use.
type CDPAuth struct {
	keyName    string
	privateKey crypto.Signer

	// Now returns the current time. Tests replace it to pin token timestamps.
	Now func() time.Time
}

type cdpClaims struct {
	*jwt.Claims
	URIs []string `json:"uris"`
}

// NewCDPAuth parses a CDP API key. secret is either a PEM block (SEC1 EC or PKCS#8) or the
// base64 Ed25519 key CDP issues for newer keys.
func NewCDPAuth(keyName, secret string) (*CDPAuth, error) {
	if keyName == "" {
		return nil, fmt.Errorf("cdp: key name must not be empty")
	}
	key, err := parseCDPKey(secret)
	if err != nil {
		return nil, err
	}
	return &CDPAuth{keyName: keyName, privateKey: key, Now: time.Now}, nil
}

func parseCDPKey(secret string) (crypto.Signer, error) {
	secret = strings.TrimSpace(secret)
	if block, _ := pem.Decode([]byte(secret)); block != nil {
		if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cdp: failed to parse private key: %w", err)
		}
		switch k := key.(type) {
		case *ecdsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("cdp: unsupported private key type %T", key)
		}
	}

	raw, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("cdp: key is neither PEM nor base64")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cdp: ed25519 key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// BearerToken returns a JWT authorizing one request to host+path.
func (a *CDPAuth) BearerToken(method, host, path string) (string, error) {
	alg := jose.EdDSA
	if _, ok := a.privateKey.(*ecdsa.PrivateKey); ok {
		alg = jose.ES256
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cdp: failed to read nonce: %w", err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: alg, Key: a.privateKey},
		(&jose.SignerOptions{}).
			WithType("JWT").
			WithHeader("kid", a.keyName).
			WithHeader("nonce", hex.EncodeToString(nonce)),
	)
	if err != nil {
		return "", fmt.Errorf("cdp: failed to create signer: %w", err)
	}

	now := a.now()
	claims := cdpClaims{
		Claims: &jwt.Claims{
			Subject:   a.keyName,
			Issuer:    "cdp",
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(CDPTokenLifetime)),
		},
		URIs: []string{method + " " + host + path},
	}

	token, err := jwt.Signed(sig).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("cdp: failed to serialize token: %w", err)
	}
	return token, nil
}

// Provider adapts the signer to Client.AuthorizationProvider. A signing failure leaves the
// request unauthenticated and the facilitator answers 401.
func (a *CDPAuth) Provider() func(*http.Request) string {
	return func(req *http.Request) string {
		token, err := a.BearerToken(req.Method, req.URL.Host, req.URL.Path)
		if err != nil {
			return ""
		}
		return "Bearer " + token
	}
}

func (a *CDPAuth) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
