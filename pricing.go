package gateway

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// PriceTable maps resource paths to prices in USD.
//
// Resolution order: exact match (Exact, then Prefix keys), then the longest Prefix entry
// that matches on a path-segment boundary, then Default. A price of zero marks a free resource.
type PriceTable struct {
	Exact   map[string]float64
	Prefix  map[string]float64
	Default float64
}

// DefaultPriceTable returns the standard price list for the Bitcoin data API.
func DefaultPriceTable() PriceTable {
	return PriceTable{
		Exact: map[string]float64{
			"/api/v1":              0,
			"/api/v1/payment-test": 0,
			"/api/health":          0,
			"/api/mcp":             0,
		},
		Prefix: map[string]float64{
			"/api/v1/fees":         0.01,
			"/api/v1/mempool":      0.01,
			"/api/v1/address":      0.01,
			"/api/v1/tx":           0.01,
			"/api/v1/block":        0.01,
			"/api/v1/stream":       0.01,
			"/api/v1/intelligence": 0.02,
			"/api/v1/security":     0.02,
			"/api/v1/solv":         0.02,
			"/api/v1/tx/broadcast": 0.05,
			"/api/v1/zk/verify":    0.01,
			"/api/v1/zk":           0.03,
			"/api/v1/staking":      0,
			"/api/admin":           0,
		},
		Default: 0.01,
	}
}

// Resolve returns the price of path in USD.
func (t PriceTable) Resolve(path string) float64 {
	if p, ok := t.Exact[path]; ok {
		return p
	}
	if p, ok := t.Prefix[path]; ok {
		return p
	}

	best := -1
	price := t.Default
	for prefix, p := range t.Prefix {
		if len(prefix) <= best {
			continue
		}
		if strings.HasPrefix(path, prefix) && (strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/') {
			best = len(prefix)
			price = p
		}
	}
	return price
}

// Clone returns a deep copy so overrides never mutate a shared table.
func (t PriceTable) Clone() PriceTable {
	c := PriceTable{
		Exact:   make(map[string]float64, len(t.Exact)),
		Prefix:  make(map[string]float64, len(t.Prefix)),
		Default: t.Default,
	}
	for k, v := range t.Exact {
		c.Exact[k] = v
	}
	for k, v := range t.Prefix {
		c.Prefix[k] = v
	}
	return c
}

// ToMinorUnits converts a decimal price to the asset's smallest unit, truncating
// (floor for non-negative prices) any precision beyond decimals.
// For example, 0.01 with 6 decimals becomes "10000".
//
// The conversion works on the shortest decimal representation of price, so values such as
// 0.57 that are not exact in binary still convert to "570000".
func ToMinorUnits(price float64, decimals int) (string, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 || decimals < 0 {
		return "", ErrInvalidAmount
	}

	text := strconv.FormatFloat(price, 'f', -1, 64)
	whole, frac, _ := strings.Cut(text, ".")
	if len(frac) > decimals {
		frac = frac[:decimals]
	} else {
		frac += strings.Repeat("0", decimals-len(frac))
	}

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return "", ErrInvalidAmount
	}
	return v.String(), nil
}
