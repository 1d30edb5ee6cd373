package gateway

import (
	"errors"
	"math"
	"testing"
)

func TestPriceTable_Resolve(t *testing.T) {
	table := DefaultPriceTable()

	tests := []struct {
		name string
		path string
		want float64
	}{
		{"index is free", "/api/v1", 0},
		{"health is free", "/api/health", 0},
		{"payment test is free", "/api/v1/payment-test", 0},
		{"fees prefix", "/api/v1/fees/recommended", 0.01},
		{"fees exact", "/api/v1/fees", 0.01},
		{"intelligence", "/api/v1/intelligence/consolidation", 0.02},
		{"broadcast beats tx", "/api/v1/tx/broadcast", 0.05},
		{"tx lookup", "/api/v1/tx/abc123", 0.01},
		{"zk verify beats zk", "/api/v1/zk/verify", 0.01},
		{"zk proof", "/api/v1/zk/balance-proof", 0.03},
		{"staking is free", "/api/v1/staking/status", 0},
		{"admin is free", "/api/admin/revenue", 0},
		{"segment boundary", "/api/v1/feesX", 0.01},
		{"unknown falls back to default", "/api/v1/unknown", 0.01},
		{"txfoo is not tx", "/api/v1/txfoo", 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestPriceTable_ResolveSegmentBoundary(t *testing.T) {
	table := PriceTable{
		Prefix:  map[string]float64{"/api/v1/tx": 0.07},
		Default: 0.5,
	}

	if got := table.Resolve("/api/v1/txfoo"); got != 0.5 {
		t.Errorf("expected default for non-boundary match, got %v", got)
	}
	if got := table.Resolve("/api/v1/tx/1"); got != 0.07 {
		t.Errorf("expected prefix price, got %v", got)
	}
}

func TestPriceTable_Clone(t *testing.T) {
	original := DefaultPriceTable()
	clone := original.Clone()
	clone.Prefix["/api/v1/fees"] = 9

	if original.Resolve("/api/v1/fees") != 0.01 {
		t.Error("mutating the clone changed the original table")
	}
}

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		decimals int
		want     string
	}{
		{"one cent", 0.01, 6, "10000"},
		{"two cents", 0.02, 6, "20000"},
		{"five cents", 0.05, 6, "50000"},
		{"binary inexact", 0.57, 6, "570000"},
		{"one dollar", 1, 6, "1000000"},
		{"zero", 0, 6, "0"},
		{"truncates extra precision", 0.0123456789, 6, "12345"},
		{"sub-unit floors to zero", 0.0000001, 6, "0"},
		{"no decimals", 3.99, 0, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinorUnits(tt.price, tt.decimals)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ToMinorUnits(%v, %d) = %s, want %s", tt.price, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestToMinorUnits_Invalid(t *testing.T) {
	for _, price := range []float64{-0.01, math.NaN(), math.Inf(1)} {
		if _, err := ToMinorUnits(price, 6); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ToMinorUnits(%v) error = %v, want ErrInvalidAmount", price, err)
		}
	}
}
