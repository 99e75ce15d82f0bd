package params

import (
	"bytes"
	"encoding/json"
	"fmt"

	"bazaarchain/config"
	"bazaarchain/native/market"
	"bazaarchain/native/mint"
)

const (
	// KeyPauses stores the module pause configuration.
	KeyPauses = "system/pauses"
	// KeyMint stores the mint allocation engine parameters.
	KeyMint = "mint/config"
	// KeyMarket stores the marketplace settlement engine parameters.
	KeyMarket = "market/config"
)

// StoreState captures the state manager capabilities the parameter helpers
// need.
type StoreState interface {
	ParamStoreSet(name string, value []byte) error
	ParamStoreGet(name string) ([]byte, bool, error)
}

// Store provides typed accessors for operator-controlled parameters. Engine
// configs carry a version that must advance by exactly one per update; the
// store enforces that against the persisted copy so stale writes are
// rejected even across restarts.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

// SetPauses persists the pause configuration. Values are JSON to align with
// governance payloads.
func (s *Store) SetPauses(pauses config.Pauses) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(pauses)
	if err != nil {
		return fmt.Errorf("params: encode pauses: %w", err)
	}
	return state.ParamStoreSet(KeyPauses, encoded)
}

// Pauses loads the persisted pause configuration. When unset, a zero-value
// configuration is returned.
func (s *Store) Pauses() (config.Pauses, error) {
	state, err := s.withState()
	if err != nil {
		return config.Pauses{}, err
	}
	raw, ok, err := state.ParamStoreGet(KeyPauses)
	if err != nil {
		return config.Pauses{}, err
	}
	if !ok || len(bytes.TrimSpace(raw)) == 0 {
		return config.Pauses{}, nil
	}
	var pauses config.Pauses
	if err := json.Unmarshal(raw, &pauses); err != nil {
		return config.Pauses{}, fmt.Errorf("params: decode pauses: %w", err)
	}
	return pauses, nil
}

// SetMintConfig persists a new mint parameter set after checking the version
// advances by exactly one.
func (s *Store) SetMintConfig(cfg mint.Config) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	current, ok, err := s.MintConfig()
	if err != nil {
		return err
	}
	var want uint64 = 1
	if ok {
		want = current.Version + 1
	}
	if cfg.Version != want {
		return fmt.Errorf("params: mint config version %d does not follow %d", cfg.Version, want-1)
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("params: encode mint config: %w", err)
	}
	return state.ParamStoreSet(KeyMint, encoded)
}

// MintConfig loads the persisted mint parameter set. The second return is
// false when none has been stored.
func (s *Store) MintConfig() (mint.Config, bool, error) {
	state, err := s.withState()
	if err != nil {
		return mint.Config{}, false, err
	}
	raw, ok, err := state.ParamStoreGet(KeyMint)
	if err != nil || !ok {
		return mint.Config{}, false, err
	}
	var cfg mint.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return mint.Config{}, false, fmt.Errorf("params: decode mint config: %w", err)
	}
	return cfg, true, nil
}

// SetMarketConfig persists a new market parameter set after checking the
// version advances by exactly one.
func (s *Store) SetMarketConfig(cfg market.Config) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	current, ok, err := s.MarketConfig()
	if err != nil {
		return err
	}
	var want uint64 = 1
	if ok {
		want = current.Version + 1
	}
	if cfg.Version != want {
		return fmt.Errorf("params: market config version %d does not follow %d", cfg.Version, want-1)
	}
	encoded, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("params: encode market config: %w", err)
	}
	return state.ParamStoreSet(KeyMarket, encoded)
}

// MarketConfig loads the persisted market parameter set. The second return
// is false when none has been stored.
func (s *Store) MarketConfig() (market.Config, bool, error) {
	state, err := s.withState()
	if err != nil {
		return market.Config{}, false, err
	}
	raw, ok, err := state.ParamStoreGet(KeyMarket)
	if err != nil || !ok {
		return market.Config{}, false, err
	}
	var cfg market.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return market.Config{}, false, fmt.Errorf("params: decode market config: %w", err)
	}
	return cfg, true, nil
}
