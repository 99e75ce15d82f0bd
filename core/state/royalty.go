package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bazaarchain/storage"
)

var royaltyKey = ethcrypto.Keccak256([]byte("royalty:config"))

// ErrNoRoyaltyConfig is returned when no royalty policy has been set. The
// market engine tolerates this by paying zero royalty.
var ErrNoRoyaltyConfig = errors.New("state: royalty config not set")

type storedRoyalty struct {
	Recipient [20]byte
	Bps       uint32
}

// SetRoyaltyConfig installs the collection-wide royalty policy: recipient and
// fraction in basis points.
func (m *Manager) SetRoyaltyConfig(recipient [20]byte, bps uint32) error {
	if bps > 10_000 {
		return fmt.Errorf("state: royalty bps out of range: %d", bps)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := rlp.EncodeToBytes(&storedRoyalty{Recipient: recipient, Bps: bps})
	if err != nil {
		return fmt.Errorf("state: encode royalty config: %w", err)
	}
	return m.db.Put(royaltyKey, raw)
}

// RoyaltyInfo computes the royalty due on a sale price. Callers treat any
// returned error as "no royalty"; this mirrors tolerating non-compliant
// royalty providers rather than surfacing their failures.
func (m *Manager) RoyaltyInfo(tokenID uint64, salePrice *big.Int) ([20]byte, *big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.db.Get(royaltyKey)
	if errors.Is(err, storage.ErrNotFound) {
		return [20]byte{}, nil, ErrNoRoyaltyConfig
	}
	if err != nil {
		return [20]byte{}, nil, err
	}
	var cfg storedRoyalty
	if err := rlp.DecodeBytes(raw, &cfg); err != nil {
		return [20]byte{}, nil, fmt.Errorf("state: decode royalty config: %w", err)
	}
	if salePrice == nil {
		salePrice = big.NewInt(0)
	}
	amount := new(big.Int).Mul(salePrice, big.NewInt(int64(cfg.Bps)))
	amount.Div(amount, big.NewInt(10_000))
	return cfg.Recipient, amount, nil
}
