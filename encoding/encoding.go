// Package encoding decodes and encodes the base64 JSON documents carried in x402 headers.
//
// The X-Payment header is parsed into a closed set of proof shapes: an EIP-3009 authorization
// (EVM) or a partially signed transaction (Solana). Anything else is rejected.
package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcfi/gateway"
)

// MaxHeaderSize bounds the encoded X-Payment header.
const MaxHeaderSize = 16 * 1024

// wireProof is the JSON envelope of an x402 payment proof.
type wireProof struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     json.RawMessage `json:"payload"`
}

type wireEVMPayload struct {
	Signature     string                    `json:"signature"`
	Authorization *gateway.EVMAuthorization `json:"authorization"`
}

type wireSVMPayload struct {
	Transaction string `json:"transaction"`
}

// decodeBase64 accepts standard and URL-safe alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DecodeProof parses an X-Payment header value.
//
// Returns an error wrapping gateway.ErrMalformedProof when the header is not base64 JSON or
// does not match a known proof shape.
func DecodeProof(header string) (gateway.PaymentProof, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("%w: empty header", gateway.ErrMalformedProof)
	}
	if len(header) > MaxHeaderSize {
		return nil, fmt.Errorf("%w: header exceeds %d bytes", gateway.ErrMalformedProof, MaxHeaderSize)
	}

	decoded, err := decodeBase64(header)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", gateway.ErrMalformedProof, err)
	}

	var wire wireProof
	dec := json.NewDecoder(bytes.NewReader(decoded))
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal proof: %v", gateway.ErrMalformedProof, err)
	}

	if wire.X402Version != 0 && wire.X402Version != 1 {
		return nil, fmt.Errorf("%w: unsupported x402 version %d", gateway.ErrMalformedProof, wire.X402Version)
	}
	if wire.Scheme != "" && wire.Scheme != "exact" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", gateway.ErrMalformedProof, wire.Scheme)
	}
	if len(wire.Payload) == 0 || bytes.Equal(wire.Payload, []byte("null")) {
		return nil, fmt.Errorf("%w: payload cannot be empty", gateway.ErrMalformedProof)
	}

	var evm wireEVMPayload
	if err := json.Unmarshal(wire.Payload, &evm); err == nil && evm.Authorization != nil && evm.Signature != "" {
		return gateway.EVMProof{
			X402Version:   wire.X402Version,
			Scheme:        wire.Scheme,
			Network:       wire.Network,
			Signature:     evm.Signature,
			Authorization: *evm.Authorization,
		}, nil
	}

	var svm wireSVMPayload
	if err := json.Unmarshal(wire.Payload, &svm); err == nil && svm.Transaction != "" {
		if _, err := decodeBase64(svm.Transaction); err != nil {
			return nil, fmt.Errorf("%w: transaction is not base64", gateway.ErrMalformedProof)
		}
		return gateway.SVMProof{
			X402Version: wire.X402Version,
			Scheme:      wire.Scheme,
			Network:     wire.Network,
			Transaction: svm.Transaction,
		}, nil
	}

	return nil, fmt.Errorf("%w: unrecognized payload shape", gateway.ErrMalformedProof)
}

// EncodeProof converts a proof to the base64 JSON form carried in X-Payment.
func EncodeProof(proof gateway.PaymentProof) (string, error) {
	var wire struct {
		X402Version int    `json:"x402Version"`
		Scheme      string `json:"scheme"`
		Network     string `json:"network,omitempty"`
		Payload     any    `json:"payload"`
	}

	switch p := proof.(type) {
	case gateway.EVMProof:
		wire.X402Version, wire.Scheme, wire.Network = p.X402Version, p.Scheme, p.Network
		wire.Payload = wireEVMPayload{Signature: p.Signature, Authorization: &p.Authorization}
	case gateway.SVMProof:
		wire.X402Version, wire.Scheme, wire.Network = p.X402Version, p.Scheme, p.Network
		wire.Payload = wireSVMPayload{Transaction: p.Transaction}
	default:
		return "", fmt.Errorf("%w: unknown proof type %T", gateway.ErrMalformedProof, proof)
	}

	b, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proof: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// EncodeJSON converts v to base64-encoded JSON.
func EncodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeJSON decodes base64-encoded JSON into v.
func DecodeJSON(encoded string, v any) error {
	b, err := decodeBase64(encoded)
	if err != nil {
		return fmt.Errorf("failed to decode base64: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}
