package mint

import (
	"math/big"
	"testing"
)

func testTierConfig() TierConfig {
	cfg := TierConfig{
		Boundaries: [9]uint64{100, 200, 200, 300, 300, 400, 400, 500, 500},
		Caps:       [tierCount]uint32{2, 4, 6, 8, 10},
	}
	for i := range cfg.Prices {
		cfg.Prices[i] = big.NewInt(int64(20 * (i + 1)))
	}
	return cfg
}

func TestResolveTierWindows(t *testing.T) {
	cfg := testTierConfig()
	cases := []struct {
		name   string
		mask   uint8
		height uint64
		want   uint8
	}{
		{"before all windows", 0xFF, 50, 0},
		{"tier1 window with bit", 0x01, 150, 1},
		{"tier1 window without bit", 0x02, 150, 0},
		{"tier2 window with bit", 0x02, 250, 2},
		{"tier3 window with bit", 0x04, 350, 3},
		{"tier4 window with bit", 0x08, 450, 4},
		{"tier4 window without bit", 0x07, 450, 0},
		{"tier5 needs no whitelist", 0x00, 500, 5},
		{"tier5 far past boundary", 0x00, 1_000_000, 5},
		{"window start inclusive", 0x01, 100, 1},
		{"window end exclusive", 0x01, 200, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveTier(cfg, tc.mask, tc.height); got != tc.want {
				t.Fatalf("ResolveTier(mask=%#x, height=%d) = %d, want %d", tc.mask, tc.height, got, tc.want)
			}
		})
	}
}

func TestTierConfigValidate(t *testing.T) {
	cfg := testTierConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := testTierConfig()
	bad.Boundaries[3] = 150
	if err := bad.Validate(); err == nil {
		t.Fatal("expected decreasing boundary to be rejected")
	}

	bad = testTierConfig()
	bad.Prices[2] = nil
	if err := bad.Validate(); err == nil {
		t.Fatal("expected nil price to be rejected")
	}
}

func TestTierConfigAccessors(t *testing.T) {
	cfg := testTierConfig()
	if got := cfg.Price(1); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("tier 1 price = %s, want 20", got)
	}
	if got := cfg.Price(0); got.Sign() != 0 {
		t.Fatalf("tier 0 price = %s, want 0", got)
	}
	if got := cfg.Cap(5); got != 10 {
		t.Fatalf("tier 5 cap = %d, want 10", got)
	}
	if got := cfg.Cap(6); got != 0 {
		t.Fatalf("out-of-range cap = %d, want 0", got)
	}

	clone := cfg.Clone()
	clone.Prices[0].SetInt64(999)
	if cfg.Prices[0].Cmp(big.NewInt(20)) != 0 {
		t.Fatal("Clone must not alias price amounts")
	}
}
