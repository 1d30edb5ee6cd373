// Package gateway holds the shared domain types of the btcfi payment gateway: trust tiers,
// settlement networks, payment requirements and proofs, pricing and errors.
//
// The request pipeline itself lives in the http package; the components it composes live in
// sigverify, nonce, tier, ratelimit, payment, receipt and revenue.
package gateway

import (
	"fmt"
)

// ChainConfig contains the settlement-network constants for USDC.
type ChainConfig struct {
	// NetworkID is the x402 network identifier (e.g., "base", "solana").
	NetworkID string

	// Family is the wallet cryptosystem of the network.
	Family Family

	// ChainID is the CAIP-2 chain identifier used in discovery documents.
	ChainID string

	// Name is a display name.
	Name string

	// USDCAddress is the USDC contract address (EVM) or mint address (Solana).
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals int
}

// Mainnet settlement networks.
var (
	BaseMainnet = ChainConfig{
		NetworkID:   "base",
		Family:      FamilyEVM,
		ChainID:     "eip155:8453",
		Name:        "Base",
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:    6,
	}

	SolanaMainnet = ChainConfig{
		NetworkID:   "solana",
		Family:      FamilySolana,
		ChainID:     "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		Name:        "Solana",
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}
)

// Testnet settlement networks.
var (
	BaseSepolia = ChainConfig{
		NetworkID:   "base-sepolia",
		Family:      FamilyEVM,
		ChainID:     "eip155:84532",
		Name:        "Base Sepolia",
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:    6,
	}

	SolanaDevnet = ChainConfig{
		NetworkID:   "solana-devnet",
		Family:      FamilySolana,
		ChainID:     "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		Name:        "Solana Devnet",
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}
)

var knownChains = map[string]ChainConfig{
	BaseMainnet.NetworkID:   BaseMainnet,
	SolanaMainnet.NetworkID: SolanaMainnet,
	BaseSepolia.NetworkID:   BaseSepolia,
	SolanaDevnet.NetworkID:  SolanaDevnet,
}

// LookupChain returns the chain configuration for a network identifier.
func LookupChain(networkID string) (ChainConfig, bool) {
	c, ok := knownChains[networkID]
	return c, ok
}

// ValidateNetwork validates a network identifier and returns its wallet family.
//
// Supported networks:
//   - EVM: base, base-sepolia
//   - Solana: solana, solana-devnet
func ValidateNetwork(networkID string) (Family, error) {
	if networkID == "" {
		return "", fmt.Errorf("networkID: cannot be empty")
	}
	c, ok := knownChains[networkID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return c.Family, nil
}
