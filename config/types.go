package config

// Pauses carries the per-module kill switches controlled by the operator.
type Pauses struct {
	Mint   bool
	Market bool
}

// IsPaused implements the pause view consumed by the native engines.
func (p Pauses) IsPaused(module string) bool {
	switch module {
	case "mint":
		return p.Mint
	case "market":
		return p.Market
	default:
		return false
	}
}
