// Package validation checks caller-supplied identifiers and gateway-built payment requirements.
package validation

import (
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"

	solana "github.com/gagliardetto/solana-go"

	"github.com/btcfi/gateway"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Signing header names.
const (
	HeaderSignature = "X-Signature"
	HeaderNonce     = "X-Nonce"
	HeaderSigner    = "X-Signer"
	HeaderTimestamp = "X-Timestamp"
)

// Upper bounds on signing header sizes. Anything longer is not a signature we produce.
const (
	maxSignatureLength = 256
	maxNonceLength     = 128
	maxTimestampLength = 16
)

// AddressFamily returns the wallet family an address belongs to.
// Solana addresses must also decode to a 32-byte public key.
func AddressFamily(address string) (gateway.Family, bool) {
	switch {
	case evmAddressRegex.MatchString(address):
		return gateway.FamilyEVM, true
	case solanaAddressRegex.MatchString(address):
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return "", false
		}
		return gateway.FamilySolana, true
	default:
		return "", false
	}
}

// ValidateAmount validates that an amount string is a valid non-negative integer.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() < 0 {
		return fmt.Errorf("amount cannot be negative, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates an address against the family of network.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	family, err := gateway.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch family {
	case gateway.FamilyEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case gateway.FamilySolana:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
		return nil

	default:
		return fmt.Errorf("unsupported network family for address validation: %s", family)
	}
}

// ValidatePaymentRequirement checks a requirement before it is advertised.
func ValidatePaymentRequirement(req gateway.PaymentRequirement) error {
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}

	if _, err := gateway.ValidateNetwork(req.Network); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}

	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset address cannot be empty")
	}

	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Scheme != "exact" {
		return fmt.Errorf("invalid requirement: unsupported scheme %q", req.Scheme)
	}

	if req.Facilitator == "" {
		return fmt.Errorf("invalid requirement: facilitator cannot be empty")
	}

	if req.MaxTimeoutSeconds <= 0 || req.MaxTimeoutSeconds > 300 {
		return fmt.Errorf("invalid requirement: timeout must be in (0, 300]: %d", req.MaxTimeoutSeconds)
	}

	return nil
}

// ParseSignatureBundle extracts the four signing headers.
//
// It returns (nil, nil) when none of the headers are present. A partial or malformed set
// returns an error wrapping gateway.ErrMalformedHeader or gateway.ErrInvalidSigner.
func ParseSignatureBundle(h http.Header) (*gateway.SignatureBundle, error) {
	sig := strings.TrimSpace(h.Get(HeaderSignature))
	nonce := strings.TrimSpace(h.Get(HeaderNonce))
	signer := strings.TrimSpace(h.Get(HeaderSigner))
	ts := strings.TrimSpace(h.Get(HeaderTimestamp))

	if sig == "" && nonce == "" && signer == "" && ts == "" {
		return nil, nil
	}
	if sig == "" || nonce == "" || signer == "" || ts == "" {
		return nil, fmt.Errorf("%w: incomplete signing headers", gateway.ErrMalformedHeader)
	}

	if len(sig) > maxSignatureLength {
		return nil, fmt.Errorf("%w: signature too long", gateway.ErrMalformedHeader)
	}
	if len(nonce) > maxNonceLength {
		return nil, fmt.Errorf("%w: nonce too long", gateway.ErrMalformedHeader)
	}
	if len(ts) > maxTimestampLength {
		return nil, fmt.Errorf("%w: timestamp too long", gateway.ErrMalformedHeader)
	}

	family, ok := AddressFamily(signer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrInvalidSigner, signer)
	}

	return &gateway.SignatureBundle{
		Signature: sig,
		Nonce:     nonce,
		Signer:    signer,
		Timestamp: ts,
		Family:    family,
	}, nil
}
