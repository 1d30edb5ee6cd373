package handlers

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// balanceOfSelector is the 4-byte selector of ERC-20 balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Treasury reads the USDC balance of treasury wallets on Base.
type Treasury struct {
	Caller  ethereum.ContractCaller
	Token   common.Address
	Timeout time.Duration
}

// DialTreasury connects to a Base RPC endpoint and reads balances of token.
func DialTreasury(ctx context.Context, rpcURL, token string) (*Treasury, error) {
	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token address: %s", token)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial treasury rpc: %w", err)
	}
	return &Treasury{
		Caller:  client,
		Token:   common.HexToAddress(token),
		Timeout: 5 * time.Second,
	}, nil
}

// BalanceOf returns the token balance of owner in minor units.
func (t *Treasury) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	if !common.IsHexAddress(owner) {
		return nil, fmt.Errorf("invalid owner address: %s", owner)
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(owner).Bytes(), 32)...)

	token := t.Token
	out, err := t.Caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	if len(out) < 32 {
		return new(big.Int), nil
	}
	return new(big.Int).SetBytes(out[:32]), nil
}

// FormatUSDC renders a 6-decimal amount with two decimal places.
func FormatUSDC(minor *big.Int) string {
	return new(big.Rat).SetFrac(minor, big.NewInt(1_000_000)).FloatString(2)
}
