package config

import (
	"fmt"
	"math/big"

	"bazaarchain/crypto"
)

const tierCount = 5

// Validate checks the loaded configuration for structural errors before the
// node wires any engine. Address fields may be empty (the matching feature is
// disabled) but must decode when present.
func (c *Config) Validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"mint.GiveawayAccount", c.Mint.GiveawayAccount},
		{"mint.Oracle", c.Mint.Oracle},
		{"mint.Treasury", c.Mint.Treasury},
		{"market.Operator", c.Market.Operator},
		{"market.RoyaltyRecipient", c.Market.RoyaltyRecipient},
	} {
		if field.value == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	if c.Mint.MaxSupply == 0 {
		return fmt.Errorf("config: mint.MaxSupply must be positive")
	}
	if c.Mint.BatchCeiling <= 0 {
		return fmt.Errorf("config: mint.BatchCeiling must be positive")
	}
	if len(c.Mint.TierBoundaries) != 9 {
		return fmt.Errorf("config: mint.TierBoundaries needs 9 heights, got %d", len(c.Mint.TierBoundaries))
	}
	if len(c.Mint.TierPrices) != tierCount {
		return fmt.Errorf("config: mint.TierPrices needs %d entries, got %d", tierCount, len(c.Mint.TierPrices))
	}
	if len(c.Mint.TierCaps) != tierCount {
		return fmt.Errorf("config: mint.TierCaps needs %d entries, got %d", tierCount, len(c.Mint.TierCaps))
	}
	for i, raw := range c.Mint.TierPrices {
		price, ok := new(big.Int).SetString(raw, 10)
		if !ok || price.Sign() < 0 {
			return fmt.Errorf("config: mint.TierPrices[%d] is not a non-negative amount: %q", i, raw)
		}
	}
	if c.Market.BidIncrementBps > 10_000 {
		return fmt.Errorf("config: market.BidIncrementBps out of range: %d", c.Market.BidIncrementBps)
	}
	if c.Market.RoyaltyBps > 10_000 {
		return fmt.Errorf("config: market.RoyaltyBps out of range: %d", c.Market.RoyaltyBps)
	}
	if c.Market.TimeBufferSecs < 0 {
		return fmt.Errorf("config: market.TimeBufferSecs must be non-negative")
	}
	return nil
}

// TierPrices parses the configured per-tier prices into amounts. Validate
// must have passed first.
func (c *Config) TierPrices() [tierCount]*big.Int {
	var out [tierCount]*big.Int
	for i, raw := range c.Mint.TierPrices {
		price, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			price = big.NewInt(0)
		}
		out[i] = price
	}
	return out
}
