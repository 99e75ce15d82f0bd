package mint

import (
	"fmt"
	"math/big"
)

// tierCount is the number of pricing tiers. Tiers 1-4 are windowed and
// whitelist-gated; tier 5 is open to everyone once the final boundary passes.
const tierCount = 5

// PendingMint is one queued unit of minting demand awaiting a randomized
// draw. IDs are assigned from a monotonically increasing sequence and never
// reused.
type PendingMint struct {
	ID        uint64   `json:"id"`
	Requester [20]byte `json:"requester"`
}

// TierConfig is the height-window pricing table. Boundaries holds nine block
// heights: pairs (Boundaries[2i], Boundaries[2i+1]) delimit the half-open
// [start, end) window of tier i+1 for i in 0..3, and Boundaries[8] opens the
// unconditional tier 5. Prices and Caps are parallel per-tier arrays; Caps
// limits units minted per identity within a tier.
type TierConfig struct {
	Boundaries [9]uint64           `json:"boundaries"`
	Prices     [tierCount]*big.Int `json:"prices"`
	Caps       [tierCount]uint32   `json:"caps"`
}

// Clone deep-copies the config so stored and live copies never alias.
func (c TierConfig) Clone() TierConfig {
	clone := c
	for i, p := range c.Prices {
		if p != nil {
			clone.Prices[i] = new(big.Int).Set(p)
		} else {
			clone.Prices[i] = big.NewInt(0)
		}
	}
	return clone
}

// Validate checks that boundaries are non-decreasing and prices are present.
// Window overlap is a configuration responsibility, not enforced here; the
// resolver evaluates tiers independently.
func (c TierConfig) Validate() error {
	for i := 1; i < len(c.Boundaries); i++ {
		if c.Boundaries[i] < c.Boundaries[i-1] {
			return fmt.Errorf("mint: tier boundary %d (%d) precedes boundary %d (%d)", i, c.Boundaries[i], i-1, c.Boundaries[i-1])
		}
	}
	for i, p := range c.Prices {
		if p == nil || p.Sign() < 0 {
			return fmt.Errorf("mint: tier %d price must be a non-negative amount", i+1)
		}
	}
	return nil
}

// Price returns the unit price for a tier in 1..5.
func (c TierConfig) Price(tier uint8) *big.Int {
	if tier < 1 || tier > tierCount {
		return big.NewInt(0)
	}
	if c.Prices[tier-1] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(c.Prices[tier-1])
}

// Cap returns the per-identity unit cap for a tier in 1..5.
func (c TierConfig) Cap(tier uint8) uint32 {
	if tier < 1 || tier > tierCount {
		return 0
	}
	return c.Caps[tier-1]
}

// Snapshot is the persisted form of the allocation ledger: the pending queue,
// the available token pool, per-(tier, identity) counters and the running
// totals needed to enforce supply and budget limits across restarts.
type Snapshot struct {
	NextPendingID    uint64            `json:"nextPendingId"`
	Queue            []PendingMint     `json:"queue"`
	Pool             []uint64          `json:"pool"`
	Counters         map[string]uint32 `json:"counters"`
	TotalQueuedEver  uint64            `json:"totalQueuedEver"`
	GiveawayConsumed uint64            `json:"giveawayConsumed"`
}
