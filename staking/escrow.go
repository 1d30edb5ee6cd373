package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/btcfi/gateway"
)

// getStakeInfoSelector is the 4-byte selector of getStakeInfo(address).
var getStakeInfoSelector = []byte{0x7a, 0x76, 0x64, 0x60}

// EscrowReader reads stakes from the Base escrow contract.
//
// getStakeInfo returns (amount, tier, credits, pending, stakedAt, isFomo) as 32-byte words;
// amount is in USDC minor units.
type EscrowReader struct {
	Caller   ethereum.ContractCaller
	Contract common.Address
	Escrow   Escrow
	Timeout  time.Duration
	Now      func() time.Time
}

var _ StatusProvider = (*EscrowReader)(nil)

// DialEscrow connects to an EVM RPC endpoint and returns a reader for contract.
func DialEscrow(ctx context.Context, rpcURL string, contract string, escrow Escrow) (*EscrowReader, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid staking contract address: %s", contract)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial staking rpc: %w", err)
	}
	return &EscrowReader{
		Caller:   client,
		Contract: common.HexToAddress(contract),
		Escrow:   escrow,
		Timeout:  10 * time.Second,
	}, nil
}

// StakeStatus returns the stake held by address. Non-EVM addresses have no Base stake and
// report the free tier.
func (r *EscrowReader) StakeStatus(ctx context.Context, address string) (*Status, error) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	if !common.IsHexAddress(address) {
		return newStatus(address, "none", 0, 0, r.Escrow, now), nil
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	data := make([]byte, 0, 36)
	data = append(data, getStakeInfoSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	contract := r.Contract
	out, err := r.Caller.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: getStakeInfo: %v", gateway.ErrStakingUnavailable, err)
	}
	if len(out) < 128 {
		// Contract not deployed or not initialised for this address.
		return newStatus(address, "none", 0, 0, r.Escrow, now), nil
	}

	amount := new(big.Int).SetBytes(out[0:32])
	credits := new(big.Int).SetBytes(out[64:96])
	pending := new(big.Int).SetBytes(out[96:128])

	staked, _ := new(big.Float).Quo(new(big.Float).SetInt(amount), big.NewFloat(1e6)).Float64()
	total := new(big.Int).Add(credits, pending)
	var available int64
	if total.IsInt64() {
		available = total.Int64()
	}

	return newStatus(address, "base", staked, available, r.Escrow, now), nil
}
