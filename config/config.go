package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration loaded from TOML at startup. Amounts are
// decimal strings of base units; addresses are bech32.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	LogEnv      string `toml:"LogEnv"`
	LogFile     string `toml:"LogFile"`

	Mint   MintConfig   `toml:"mint"`
	Market MarketConfig `toml:"market"`
}

// MintConfig seeds the allocation engine parameters at genesis.
type MintConfig struct {
	MaxSupply       uint64   `toml:"MaxSupply"`
	GiveawayAccount string   `toml:"GiveawayAccount"`
	GiveawayBudget  uint64   `toml:"GiveawayBudget"`
	Oracle          string   `toml:"Oracle"`
	Treasury        string   `toml:"Treasury"`
	BatchCeiling    int      `toml:"BatchCeiling"`
	TierBoundaries  []uint64 `toml:"TierBoundaries"`
	TierPrices      []string `toml:"TierPrices"`
	TierCaps        []uint32 `toml:"TierCaps"`
}

// MarketConfig seeds the settlement engine parameters at genesis.
type MarketConfig struct {
	Operator           string `toml:"Operator"`
	TimeBufferSecs     int64  `toml:"TimeBufferSecs"`
	BidIncrementBps    uint32 `toml:"BidIncrementBps"`
	RestrictedListings bool   `toml:"RestrictedListings"`
	RoyaltyRecipient   string `toml:"RoyaltyRecipient"`
	RoyaltyBps         uint32 `toml:"RoyaltyBps"`
}

// Load reads and validates the configuration at path. A missing file is an
// error; nodes do not autogenerate configs.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPCAddress == "" {
		c.RPCAddress = "127.0.0.1:8545"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.NetworkName == "" {
		c.NetworkName = "bazaarchain"
	}
	if c.Mint.BatchCeiling == 0 {
		c.Mint.BatchCeiling = 50
	}
}
