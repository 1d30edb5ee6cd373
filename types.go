package gateway

// Tier is the trust level assigned to a request. It governs rate limits and access.
type Tier string

const (
	// TierFree is the default tier for anonymous callers.
	TierFree Tier = "free"

	// TierSigned is assigned when the request carries a valid wallet signature and a fresh nonce.
	TierSigned Tier = "signed"

	// TierPaid is assigned when the request carries an x402 payment proof.
	TierPaid Tier = "paid"

	// TierStaked is assigned when the caller identifies as a staker.
	TierStaked Tier = "staked"
)

// Limited reports whether requests in this tier are counted by the rate limiter.
func (t Tier) Limited() bool {
	return t == TierFree || t == TierSigned
}

// Family identifies the wallet cryptosystem used by a signer.
type Family string

const (
	// FamilyEVM covers secp256k1 wallets with 0x-prefixed addresses.
	FamilyEVM Family = "evm"

	// FamilySolana covers Ed25519 wallets with base58 public keys.
	FamilySolana Family = "solana"
)

// Identity is the per-request view of who is calling. It is never persisted.
type Identity struct {
	// Tier is the trust tier the request was classified into.
	Tier Tier

	// Family is the signer's wallet family. Empty for free and paid callers.
	Family Family

	// SignerAddress is the verified signer (signed tier) or claimed staker (staked tier).
	SignerAddress string

	// ClientFingerprint is the stable key used for rate limiting.
	ClientFingerprint string

	// DemotionReason records why elevated credentials were ignored, e.g. "nonce_replayed".
	DemotionReason string
}

// SignatureBundle is the validated set of request-signing headers.
type SignatureBundle struct {
	Signature string
	Nonce     string
	Signer    string
	Timestamp string
	Family    Family
}

// Message returns the canonical string a caller signs: METHOD:PATH:NONCE:TIMESTAMP.
func (b SignatureBundle) Message(method, path string) string {
	return method + ":" + path + ":" + b.Nonce + ":" + b.Timestamp
}

// PaymentRequirement describes how to pay for one resource on one settlement network.
// It is derived per request from the price table and network configuration.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact").
	Scheme string `json:"scheme"`

	// Network is the settlement network identifier (e.g., "base", "solana").
	Network string `json:"network"`

	// MaxAmountRequired is the price in the asset's smallest unit, as an integer string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the path of the protected resource.
	Resource string `json:"resource,omitempty"`

	// PayTo is the treasury address that receives the payment.
	PayTo string `json:"payTo"`

	// Asset is the token contract (EVM) or mint (Solana) address.
	Asset string `json:"asset"`

	// Facilitator is the endpoint that verifies proofs for this network.
	Facilitator string `json:"facilitator"`

	// MaxTimeoutSeconds is the validity period of the requirement.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	MimeType    string `json:"mimeType,omitempty"`
	Description string `json:"description,omitempty"`
}

// PaymentProof is a caller-supplied proof of payment. It is a closed union:
// the only implementations are EVMProof and SVMProof, built by encoding.DecodeProof.
type PaymentProof interface {
	// ProofNetwork returns the network the proof claims, or "" when it does not say.
	ProofNetwork() string

	// ProofFamily returns the payload family the proof was parsed as.
	ProofFamily() Family

	isPaymentProof()
}

// EVMProof is an EIP-3009 transferWithAuthorization payment.
type EVMProof struct {
	X402Version   int
	Scheme        string
	Network       string
	Signature     string
	Authorization EVMAuthorization
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

func (p EVMProof) ProofNetwork() string { return p.Network }
func (p EVMProof) ProofFamily() Family  { return FamilyEVM }
func (EVMProof) isPaymentProof()        {}

// SVMProof is a partially signed Solana transfer transaction.
type SVMProof struct {
	X402Version int
	Scheme      string
	Network     string

	// Transaction is the base64-encoded partially signed transaction.
	Transaction string
}

func (p SVMProof) ProofNetwork() string { return p.Network }
func (p SVMProof) ProofFamily() Family  { return FamilySolana }
func (SVMProof) isPaymentProof()        {}
