package mint

// ResolveTier maps an identity's whitelist bitmask and the current block
// height to a tier number, 0 meaning ineligible. Tiers 1-4 require the height
// to fall inside that tier's [start, end) window and the matching whitelist
// bit to be set; tier 5 opens unconditionally once the final boundary passes.
// Windows are evaluated independently in ascending order, so under a
// correctly non-overlapping configuration at most one check fires.
func ResolveTier(cfg TierConfig, whitelistMask uint8, height uint64) uint8 {
	for tier := uint8(1); tier <= 4; tier++ {
		start := cfg.Boundaries[2*(tier-1)]
		end := cfg.Boundaries[2*(tier-1)+1]
		if height >= start && height < end && whitelistMask&(1<<(tier-1)) != 0 {
			return tier
		}
	}
	if height >= cfg.Boundaries[8] {
		return 5
	}
	return 0
}
