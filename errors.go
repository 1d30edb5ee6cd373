package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader indicates a request header could not be decoded.
	ErrMalformedHeader = errors.New("gateway: malformed header")

	// ErrMalformedProof indicates the X-Payment proof has an unrecognized shape.
	ErrMalformedProof = errors.New("gateway: malformed payment proof")

	// ErrUnsupportedNetwork indicates a network the gateway does not settle on.
	ErrUnsupportedNetwork = errors.New("gateway: unsupported network")

	// ErrInvalidSigner indicates the X-Signer value is neither an EVM nor a Solana address.
	ErrInvalidSigner = errors.New("gateway: invalid signer address")

	// ErrTimestampSkew indicates the declared timestamp is outside the allowed drift.
	ErrTimestampSkew = errors.New("gateway: timestamp outside allowed drift")

	// ErrNonceReplayed indicates a nonce was already used inside its TTL.
	ErrNonceReplayed = errors.New("gateway: nonce replayed")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached in time.
	ErrFacilitatorUnavailable = errors.New("gateway: facilitator unavailable")

	// ErrVerificationFailed indicates the facilitator returned a non-success status.
	ErrVerificationFailed = errors.New("gateway: payment verification failed")

	// ErrStakingUnavailable indicates the staking-status collaborator failed.
	ErrStakingUnavailable = errors.New("gateway: staking status unavailable")

	// ErrStoreUnavailable indicates the shared counter store failed.
	ErrStoreUnavailable = errors.New("gateway: store unavailable")

	// ErrInvalidAmount indicates a price that cannot be converted to minor units.
	ErrInvalidAmount = errors.New("gateway: invalid amount")
)

// ErrorCode classifies failures for callers and logs.
type ErrorCode string

const (
	// ErrCodeClientInput covers malformed headers and wrong-length fields.
	ErrCodeClientInput ErrorCode = "client_input"

	// ErrCodeReplay covers reused nonces and stale timestamps.
	ErrCodeReplay ErrorCode = "replay"

	// ErrCodeUpstreamUnavailable covers facilitator, staking and store outages.
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"

	// ErrCodeInternal covers anything unexpected.
	ErrCodeInternal ErrorCode = "internal"
)

// GatewayError is a structured error carrying a code and optional details.
type GatewayError struct {
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// NewGatewayError creates a GatewayError wrapping err.
func NewGatewayError(code ErrorCode, message string, err error) *GatewayError {
	return &GatewayError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *GatewayError) WithDetails(key string, value interface{}) *GatewayError {
	e.Details[key] = value
	return e
}

// CodeOf returns the ErrorCode of err, mapping known sentinels when err is not a GatewayError.
func CodeOf(err error) ErrorCode {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Code
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedHeader), errors.Is(err, ErrMalformedProof),
		errors.Is(err, ErrInvalidSigner), errors.Is(err, ErrUnsupportedNetwork):
		return ErrCodeClientInput
	case errors.Is(err, ErrTimestampSkew), errors.Is(err, ErrNonceReplayed):
		return ErrCodeReplay
	case errors.Is(err, ErrFacilitatorUnavailable), errors.Is(err, ErrStakingUnavailable),
		errors.Is(err, ErrStoreUnavailable):
		return ErrCodeUpstreamUnavailable
	default:
		return ErrCodeInternal
	}
}
