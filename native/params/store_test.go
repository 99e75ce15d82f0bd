package params

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"bazaarchain/config"
	"bazaarchain/native/market"
	"bazaarchain/native/mint"
)

type memParams struct {
	values map[string][]byte
}

func newMemParams() *memParams {
	return &memParams{values: make(map[string][]byte)}
}

func (m *memParams) ParamStoreSet(name string, value []byte) error {
	m.values[name] = append([]byte(nil), value...)
	return nil
}

func (m *memParams) ParamStoreGet(name string) ([]byte, bool, error) {
	value, ok := m.values[name]
	return value, ok, nil
}

func validMintConfig(version uint64) mint.Config {
	cfg := mint.Config{
		MaxSupply:    100,
		BatchCeiling: 10,
		Version:      version,
	}
	for i := range cfg.Tiers.Prices {
		cfg.Tiers.Prices[i] = big.NewInt(int64(20 * (i + 1)))
	}
	return cfg
}

func TestPausesRoundTrip(t *testing.T) {
	store := NewStore(newMemParams())

	pauses, err := store.Pauses()
	require.NoError(t, err)
	require.False(t, pauses.Mint)
	require.False(t, pauses.Market)

	require.NoError(t, store.SetPauses(config.Pauses{Mint: true}))
	pauses, err = store.Pauses()
	require.NoError(t, err)
	require.True(t, pauses.Mint)
	require.False(t, pauses.Market)
	require.True(t, pauses.IsPaused("mint"))
	require.False(t, pauses.IsPaused("market"))
}

func TestMintConfigVersioning(t *testing.T) {
	store := NewStore(newMemParams())

	_, ok, err := store.MintConfig()
	require.NoError(t, err)
	require.False(t, ok)

	// The first accepted version is 1.
	require.Error(t, store.SetMintConfig(validMintConfig(2)))
	require.NoError(t, store.SetMintConfig(validMintConfig(1)))

	// Updates must advance by exactly one.
	require.Error(t, store.SetMintConfig(validMintConfig(1)))
	require.Error(t, store.SetMintConfig(validMintConfig(3)))
	require.NoError(t, store.SetMintConfig(validMintConfig(2)))

	cfg, ok, err := store.MintConfig()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), cfg.Version)
	require.Equal(t, uint64(100), cfg.MaxSupply)
}

func TestMintConfigRejectsInvalid(t *testing.T) {
	store := NewStore(newMemParams())
	cfg := validMintConfig(1)
	cfg.MaxSupply = 0
	require.Error(t, store.SetMintConfig(cfg))
}

func TestMarketConfigVersioning(t *testing.T) {
	store := NewStore(newMemParams())

	require.Error(t, store.SetMarketConfig(market.Config{Version: 5}))
	require.NoError(t, store.SetMarketConfig(market.Config{TimeBufferSecs: 60, Version: 1}))
	require.NoError(t, store.SetMarketConfig(market.Config{TimeBufferSecs: 90, Version: 2}))

	cfg, ok, err := store.MarketConfig()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(90), cfg.TimeBufferSecs)

	// Out-of-range increment fractions never persist.
	require.Error(t, store.SetMarketConfig(market.Config{BidIncrementBps: 10_001, Version: 3}))
}

func TestStoreWithoutState(t *testing.T) {
	var store *Store
	_, err := store.Pauses()
	require.Error(t, err)

	empty := NewStore(nil)
	require.Error(t, empty.SetPauses(config.Pauses{}))
}
