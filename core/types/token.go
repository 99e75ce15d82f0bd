package types

// Token is the minimal on-chain record for a minted NFT identity. Metadata and
// URI storage live off-chain; the core only tracks ownership and approvals.
type Token struct {
	ID       uint64 `json:"id"`
	Owner    []byte `json:"owner"`
	Approved []byte `json:"approved,omitempty"`
}
