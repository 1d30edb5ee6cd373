// Package sigverify checks wallet signatures over request-signing messages.
//
// Two families are supported: EVM wallets sign with EIP-191 personal_sign (secp256k1) and
// Solana wallets sign the raw message bytes with Ed25519. All functions are pure and safe for
// concurrent use. Malformed input never panics; it simply fails verification.
package sigverify

import (
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/btcfi/gateway"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	solana "github.com/gagliardetto/solana-go"
)

// Failure reasons reported by Check.
const (
	ReasonMalformedSignature = "malformed_signature"
	ReasonMalformedKey       = "malformed_key"
	ReasonInvalidRecoveryID  = "invalid_recovery_id"
	ReasonInvalidValues      = "invalid_signature_values"
	ReasonRecoveryFailed     = "recovery_failed"
	ReasonSignerMismatch     = "signer_mismatch"
	ReasonBadSignature       = "bad_signature"
	ReasonUnsupportedFamily  = "unsupported_family"
	ReasonPanic              = "panic"
)

// Result is the outcome of a signature check.
type Result struct {
	OK bool
	// Reason is empty when OK is true.
	Reason string
}

// Verify reports whether signature is a valid signature of message by keyOrAddress.
//
// For FamilyEVM keyOrAddress is a 0x-prefixed address and signature is a 65-byte hex string.
// For FamilySolana keyOrAddress is a base58 public key and signature is 64 bytes encoded as
// base64 or base58.
func Verify(message []byte, signature, keyOrAddress string, family gateway.Family) bool {
	return Check(message, signature, keyOrAddress, family).OK
}

// Check performs the same verification as Verify and reports why a signature was rejected.
func Check(message []byte, signature, keyOrAddress string, family gateway.Family) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Reason: ReasonPanic}
		}
	}()

	switch family {
	case gateway.FamilyEVM:
		return checkEVM(message, signature, keyOrAddress)
	case gateway.FamilySolana:
		return checkSolana(message, signature, keyOrAddress)
	default:
		return Result{Reason: ReasonUnsupportedFamily}
	}
}

func checkEVM(message []byte, signature, address string) Result {
	if !common.IsHexAddress(address) {
		return Result{Reason: ReasonMalformedKey}
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(signature, "0x"), "0X"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return Result{Reason: ReasonMalformedSignature}
	}

	// Wallets emit v as 27/28; SigToPub wants the raw recovery id.
	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return Result{Reason: ReasonInvalidRecoveryID}
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, false) {
		return Result{Reason: ReasonInvalidValues}
	}

	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	normalized[crypto.RecoveryIDOffset] = v

	pub, err := crypto.SigToPub(accounts.TextHash(message), normalized)
	if err != nil {
		return Result{Reason: ReasonRecoveryFailed}
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), address) {
		return Result{Reason: ReasonSignerMismatch}
	}
	return Result{OK: true}
}

func checkSolana(message []byte, signature, publicKey string) Result {
	pub, err := solana.PublicKeyFromBase58(publicKey)
	if err != nil {
		return Result{Reason: ReasonMalformedKey}
	}

	raw, ok := decodeSolanaSignature(signature)
	if !ok {
		return Result{Reason: ReasonMalformedSignature}
	}

	var sig solana.Signature
	copy(sig[:], raw)
	if !sig.Verify(pub, message) {
		return Result{Reason: ReasonBadSignature}
	}
	return Result{OK: true}
}

// decodeSolanaSignature accepts base64 (what agents send) and falls back to base58.
func decodeSolanaSignature(signature string) ([]byte, bool) {
	if raw, err := base64.StdEncoding.DecodeString(signature); err == nil && len(raw) == 64 {
		return raw, true
	}
	if sig, err := solana.SignatureFromBase58(signature); err == nil {
		return sig[:], true
	}
	return nil, false
}
