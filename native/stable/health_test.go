package stable

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCalculateHealthFactor(t *testing.T) {
	calc := &HealthCalculator{params: DefaultParams()}
	cases := []struct {
		name  string
		debt  *uint256.Int
		value *uint256.Int
		want  string
	}{
		{"no debt", new(uint256.Int), ether(1), "max"},
		{"nil debt", nil, nil, "max"},
		{"exactly covered", ether(100), ether(200), "1"},
		{"below minimum", ether(100), ether(180), "0.9"},
		{"no collateral", ether(1), new(uint256.Int), "0"},
		{"floors", uint256.NewInt(3), uint256.NewInt(2), "0.333333333333333333"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hf, err := calc.CalculateHealthFactor(tc.debt, tc.value)
			if err != nil {
				t.Fatalf("calculate: %v", err)
			}
			if got := FormatWad(hf); got != tc.want {
				t.Fatalf("health factor = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCalculateHealthFactorOverflow(t *testing.T) {
	calc := &HealthCalculator{params: DefaultParams()}
	_, err := calc.CalculateHealthFactor(uint256.NewInt(1), MaxHealthFactor())
	if !errors.Is(err, ErrValuationOverflow) {
		t.Fatalf("expected ErrValuationOverflow, got %v", err)
	}
}

func TestFormatWad(t *testing.T) {
	cases := map[string]*uint256.Int{
		"0":                    nil,
		"1":                    Wad(),
		"0.000000000000000001": uint256.NewInt(1),
		"12.5":                 new(uint256.Int).Add(ether(12), uint256.NewInt(500_000_000_000_000_000)),
	}
	for want, v := range cases {
		if got := FormatWad(v); got != want {
			t.Fatalf("FormatWad(%v) = %s, want %s", v, got, want)
		}
	}
}
