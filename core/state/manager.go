package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bazaarchain/core/types"
	"bazaarchain/storage"
)

var (
	accountPrefix = []byte("account:")
	vaultSeed     = []byte("bazaarchain/market/vault")
)

// Manager provides typed reads and writes over the node's key-value store. It
// implements the state interfaces consumed by the mint and market engines.
// All methods are safe for concurrent use, though engine operations are
// expected to be serialised above this layer.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return ethcrypto.Keccak256(buf)
}

type storedAccount struct {
	Nonce         uint64
	Balance       *big.Int
	MintWhitelist uint8
}

// GetAccount loads the account for an address, returning an empty account
// when nothing is stored yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccount(addr)
}

func (m *Manager) getAccount(addr []byte) (*types.Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return (&types.Account{}).EnsureBalances(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	account := &types.Account{
		Nonce:         stored.Nonce,
		Balance:       stored.Balance,
		MintWhitelist: stored.MintWhitelist,
	}
	return account.EnsureBalances(), nil
}

// PutAccount persists the account record for an address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putAccount(addr, account)
}

func (m *Manager) putAccount(addr []byte, account *types.Account) error {
	account = account.EnsureBalances()
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %x", addr)
	}
	raw, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:         account.Nonce,
		Balance:       account.Balance,
		MintWhitelist: account.MintWhitelist,
	})
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), raw)
}

// SetMintWhitelist sets the tier eligibility bitmask on an account.
func (m *Manager) SetMintWhitelist(addr []byte, mask uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.getAccount(addr)
	if err != nil {
		return err
	}
	account.MintWhitelist = mask
	return m.putAccount(addr, account)
}

// Credit adds amount to an address balance. Used by genesis funding and the
// RPC faucet surface of dev nodes.
func (m *Manager) Credit(addr []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	account, err := m.getAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.putAccount(addr, account)
}

// MarketVault returns the module-owned custody address holding escrowed
// tokens and currency for the marketplace. Derived, not configured, so it can
// never collide with a user key.
func (m *Manager) MarketVault() ([20]byte, error) {
	var vault [20]byte
	copy(vault[:], ethcrypto.Keccak256(vaultSeed)[12:])
	return vault, nil
}
