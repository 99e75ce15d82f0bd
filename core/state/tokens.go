package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"bazaarchain/storage"
)

var (
	tokenPrefix       = []byte("token:")
	approvalAllPrefix = []byte("token-approval-all:")

	// ErrTokenNotFound is returned when a token identity has never been
	// minted.
	ErrTokenNotFound = errors.New("state: token not found")
	// ErrTokenExists rejects minting the same identity twice.
	ErrTokenExists = errors.New("state: token already minted")
	// ErrNotTokenOwner is returned when a transfer names a sender that does
	// not hold the token.
	ErrNotTokenOwner = errors.New("state: sender does not hold token")
)

func tokenKey(tokenID uint64) []byte {
	buf := make([]byte, len(tokenPrefix)+8)
	copy(buf, tokenPrefix)
	binary.BigEndian.PutUint64(buf[len(tokenPrefix):], tokenID)
	return ethcrypto.Keccak256(buf)
}

func approvalAllKey(owner, operator [20]byte) []byte {
	buf := make([]byte, len(approvalAllPrefix)+40)
	copy(buf, approvalAllPrefix)
	copy(buf[len(approvalAllPrefix):], owner[:])
	copy(buf[len(approvalAllPrefix)+20:], operator[:])
	return ethcrypto.Keccak256(buf)
}

type storedToken struct {
	ID          uint64
	Owner       [20]byte
	Approved    [20]byte
	HasApproval bool
}

func (m *Manager) loadToken(tokenID uint64) (*storedToken, error) {
	raw, err := m.db.Get(tokenKey(tokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	var token storedToken
	if err := rlp.DecodeBytes(raw, &token); err != nil {
		return nil, fmt.Errorf("state: decode token %d: %w", tokenID, err)
	}
	return &token, nil
}

func (m *Manager) writeToken(token *storedToken) error {
	raw, err := rlp.EncodeToBytes(token)
	if err != nil {
		return fmt.Errorf("state: encode token %d: %w", token.ID, err)
	}
	return m.db.Put(tokenKey(token.ID), raw)
}

// MintToken creates a token identity and binds its initial owner. Identities
// are never minted twice.
func (m *Manager) MintToken(tokenID uint64, owner [20]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.loadToken(tokenID); err == nil {
		return ErrTokenExists
	} else if !errors.Is(err, ErrTokenNotFound) {
		return err
	}
	return m.writeToken(&storedToken{ID: tokenID, Owner: owner})
}

// OwnerOf returns the current holder of a token identity.
func (m *Manager) OwnerOf(tokenID uint64) ([20]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, err := m.loadToken(tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	return token.Owner, nil
}

// ApproveToken grants a single-token transfer approval. Only the current
// owner may approve.
func (m *Manager) ApproveToken(owner, spender [20]byte, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, err := m.loadToken(tokenID)
	if err != nil {
		return err
	}
	if token.Owner != owner {
		return ErrNotTokenOwner
	}
	token.Approved = spender
	token.HasApproval = true
	return m.writeToken(token)
}

// SetApprovalForAll grants or revokes an operator's blanket transfer approval
// over every token the owner holds.
func (m *Manager) SetApprovalForAll(owner, operator [20]byte, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := approvalAllKey(owner, operator)
	if !approved {
		return m.db.Delete(key)
	}
	return m.db.Put(key, []byte{1})
}

// IsApprovedFor reports whether operator may move the token on behalf of
// owner, via a per-token approval or a blanket one.
func (m *Manager) IsApprovedFor(owner, operator [20]byte, tokenID uint64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, err := m.loadToken(tokenID)
	if err != nil {
		return false, err
	}
	if token.Owner != owner {
		return false, nil
	}
	if token.HasApproval && token.Approved == operator {
		return true, nil
	}
	ok, err := m.db.Has(approvalAllKey(owner, operator))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// TransferToken moves a token identity between holders. The call fails
// loudly when from does not currently hold the token. Any single-token
// approval clears on transfer.
func (m *Manager) TransferToken(from, to [20]byte, tokenID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, err := m.loadToken(tokenID)
	if err != nil {
		return err
	}
	if token.Owner != from {
		return ErrNotTokenOwner
	}
	token.Owner = to
	token.Approved = [20]byte{}
	token.HasApproval = false
	return m.writeToken(token)
}
