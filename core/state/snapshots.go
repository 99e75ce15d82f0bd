package state

import (
	"encoding/json"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"bazaarchain/native/market"
	"bazaarchain/native/mint"
	"bazaarchain/storage"
)

var (
	mintSnapshotKey   = ethcrypto.Keccak256([]byte("mint:snapshot"))
	marketSnapshotKey = ethcrypto.Keccak256([]byte("market:snapshot"))
	paramPrefix       = []byte("params:")
)

// MintStatePut persists the allocation ledger snapshot.
func (m *Manager) MintStatePut(snapshot *mint.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("state: nil mint snapshot")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("state: encode mint snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(mintSnapshotKey, raw)
}

// MintStateGet loads the allocation ledger snapshot. The second return is
// false when no snapshot has been persisted yet.
func (m *Manager) MintStateGet() (*mint.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.db.Get(mintSnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snapshot mint.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false, fmt.Errorf("state: decode mint snapshot: %w", err)
	}
	return &snapshot, true, nil
}

// MarketStatePut persists the listing registry and offer/bid ledger snapshot.
func (m *Manager) MarketStatePut(snapshot *market.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("state: nil market snapshot")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("state: encode market snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(marketSnapshotKey, raw)
}

// MarketStateGet loads the marketplace snapshot. The second return is false
// when no snapshot has been persisted yet.
func (m *Manager) MarketStateGet() (*market.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.db.Get(marketSnapshotKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snapshot market.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false, fmt.Errorf("state: decode market snapshot: %w", err)
	}
	return &snapshot, true, nil
}

func paramKey(name string) []byte {
	buf := make([]byte, len(paramPrefix)+len(name))
	copy(buf, paramPrefix)
	copy(buf[len(paramPrefix):], name)
	return ethcrypto.Keccak256(buf)
}

// ParamStoreSet writes a raw governance parameter payload.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(paramKey(name), value)
}

// ParamStoreGet reads a raw governance parameter payload. The second return
// is false when the parameter has never been set.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.db.Get(paramKey(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}
