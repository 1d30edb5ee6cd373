// Package staking resolves the staking tier of a wallet.
//
// Agents stake USDC in an escrow contract for higher API tiers. A StatusProvider looks the
// stake up; EscrowReader reads it from the Base escrow contract and ServiceClient asks a
// separate staking service over HTTP.
package staking

import (
	"context"
	"time"
)

// Plan names.
const (
	PlanFree   = "free"
	PlanStaker = "staker"
	PlanWhale  = "whale"
)

// Plan describes one staking tier.
type Plan struct {
	Name          string   `json:"name"`
	MinStakeUSDC  float64  `json:"minStakeUsdc"`
	RateLimit     string   `json:"rateLimit"`
	Features      []string `json:"features"`
	DripPerDay    int      `json:"dripPerDay"`
	BonusEligible bool     `json:"bonusEligible"`
}

// Plans lists the staking tiers from lowest to highest.
var Plans = map[string]Plan{
	PlanFree: {
		Name:         PlanFree,
		MinStakeUSDC: 0,
		RateLimit:    "100",
		Features:     []string{"core endpoints", "rate limited"},
	},
	PlanStaker: {
		Name:          PlanStaker,
		MinStakeUSDC:  100,
		RateLimit:     "500",
		Features:      []string{"all endpoints", "encrypted responses", "threat analysis", "5x rate limit"},
		DripPerDay:    10,
		BonusEligible: true,
	},
	PlanWhale: {
		Name:          PlanWhale,
		MinStakeUSDC:  1000,
		RateLimit:     "unlimited",
		Features:      []string{"all endpoints", "ZK proofs", "priority routing", "encrypted", "dedicated support"},
		DripPerDay:    200,
		BonusEligible: true,
	},
}

// TierForStake returns the plan earned by stakedUSDC.
func TierForStake(stakedUSDC float64) Plan {
	switch {
	case stakedUSDC >= Plans[PlanWhale].MinStakeUSDC:
		return Plans[PlanWhale]
	case stakedUSDC >= Plans[PlanStaker].MinStakeUSDC:
		return Plans[PlanStaker]
	default:
		return Plans[PlanFree]
	}
}

// Credits is the API credit balance accrued from a stake.
type Credits struct {
	Available  int64     `json:"available"`
	DripPerDay int       `json:"dripPerDay"`
	NextDrip   time.Time `json:"nextDrip"`
}

// Escrow lists the escrow addresses agents stake into.
type Escrow struct {
	Base   string `json:"base"`
	Solana string `json:"solana"`
}

// Status is the staking state of one address.
type Status struct {
	Address    string  `json:"address"`
	Network    string  `json:"network"`
	StakedUSDC float64 `json:"stakedUsdc"`
	Tier       string  `json:"tier"`
	Plan       Plan    `json:"plan"`
	Credits    Credits `json:"credits"`
	Escrow     Escrow  `json:"escrow"`
}

// Staked reports whether the address holds a paid staking tier.
func (s *Status) Staked() bool {
	return s != nil && s.Tier != "" && s.Tier != PlanFree
}

// StatusProvider looks up the staking status of an address.
type StatusProvider interface {
	StakeStatus(ctx context.Context, address string) (*Status, error)
}

// nextDrip returns the next UTC midnight after now.
func nextDrip(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func newStatus(address, network string, staked float64, credits int64, escrow Escrow, now time.Time) *Status {
	plan := TierForStake(staked)
	return &Status{
		Address:    address,
		Network:    network,
		StakedUSDC: staked,
		Tier:       plan.Name,
		Plan:       plan,
		Credits: Credits{
			Available:  credits,
			DripPerDay: plan.DripPerDay,
			NextDrip:   nextDrip(now),
		},
		Escrow: escrow,
	}
}
