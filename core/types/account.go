package types

import "math/big"

// Account is the ledger record for a single address. Balance is denominated in
// the chain's native BZR unit. MintWhitelist is the per-tier eligibility
// bitmask consumed by the mint allocation engine (bit N-1 gates tier N).
type Account struct {
	Nonce         uint64   `json:"nonce"`
	Balance       *big.Int `json:"balance"`
	MintWhitelist uint8    `json:"mintWhitelist,omitempty"`
}

// EnsureBalances normalises nil amounts so callers never observe a nil balance
// on a loaded account.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if a.Balance == nil {
		a.Balance = big.NewInt(0)
	}
	return a
}

// Clone returns a deep copy so callers can mutate the result without touching
// the stored account.
func (a *Account) Clone() *Account {
	if a == nil {
		return (&Account{}).EnsureBalances()
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}
