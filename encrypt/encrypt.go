// Package encrypt seals response bodies for callers that send X-Encrypt-Response.
//
// The caller supplies a Curve25519 public key (base64). Each response is sealed with NaCl box
// using a fresh ephemeral keypair and a random 24-byte nonce, so only the caller can open it.
package encrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/nacl/box"
)

// Header names and wire constants.
const (
	HeaderName  = "X-Encrypt-Response"
	Algorithm   = "x25519-xsalsa20-poly1305"
	ContentType = "application/x-encrypted+json"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrInvalidKey indicates the public key is not 32 base64-encoded bytes.
var ErrInvalidKey = errors.New("encrypt: invalid public key")

// Envelope is the JSON body sent instead of the plaintext response.
type Envelope struct {
	Encrypted          bool           `json:"encrypted"`
	Algorithm          string         `json:"algorithm"`
	Ciphertext         string         `json:"ciphertext"`
	Nonce              string         `json:"nonce"`
	EphemeralPublicKey string         `json:"ephemeralPublicKey"`
	DecryptionGuide    map[string]any `json:"decryptionGuide,omitempty"`
}

var guide = map[string]any{
	"step1": "Decode ciphertext, nonce, and ephemeralPublicKey from base64",
	"step2": "Use nacl.box.open(ciphertext, nonce, ephemeralPublicKey, yourSecretKey)",
	"step3": "Parse the decrypted bytes as UTF-8 JSON",
}

// ParseKey decodes a base64 Curve25519 public key.
func ParseKey(s string) (*[keySize]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) < 40 || len(s) > 50 {
		return nil, ErrInvalidKey
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// RequestedKey returns the caller's key from r, or nil when absent or invalid.
func RequestedKey(r *http.Request) *[keySize]byte {
	v := r.Header.Get(HeaderName)
	if v == "" {
		return nil
	}
	key, err := ParseKey(v)
	if err != nil {
		return nil
	}
	return key
}

// Seal encrypts plaintext for recipient.
func Seal(plaintext []byte, recipient *[keySize]byte) (*Envelope, error) {
	return seal(rand.Reader, plaintext, recipient)
}

func seal(rnd io.Reader, plaintext []byte, recipient *[keySize]byte) (*Envelope, error) {
	if recipient == nil {
		return nil, ErrInvalidKey
	}
	ephPub, ephPriv, err := box.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("encrypt: failed to generate keypair: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rnd, nonce[:]); err != nil {
		return nil, fmt.Errorf("encrypt: failed to read nonce: %w", err)
	}

	sealed := box.Seal(nil, plaintext, &nonce, recipient, ephPriv)
	return &Envelope{
		Encrypted:          true,
		Algorithm:          Algorithm,
		Ciphertext:         base64.StdEncoding.EncodeToString(sealed),
		Nonce:              base64.StdEncoding.EncodeToString(nonce[:]),
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(ephPub[:]),
		DecryptionGuide:    guide,
	}, nil
}

// Open decrypts an envelope with the recipient's private key.
func Open(env *Envelope, privateKey *[keySize]byte) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: bad ciphertext: %w", err)
	}
	rawNonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(rawNonce) != nonceSize {
		return nil, errors.New("encrypt: bad nonce")
	}
	peer, err := ParseKey(env.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], rawNonce)
	out, ok := box.Open(nil, sealed, &nonce, peer, privateKey)
	if !ok {
		return nil, errors.New("encrypt: authentication failed")
	}
	return out, nil
}

// Marshal returns the JSON form of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
