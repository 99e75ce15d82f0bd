package events

import (
	"math/big"
	"strconv"

	"bazaarchain/core/types"
	"bazaarchain/crypto"
)

const (
	// TypeMintPending is emitted for each mint request queued for a later
	// randomized draw.
	TypeMintPending = "mint.pending"
	// TypeMintCompleted is emitted when a queued request is resolved and a
	// token identity is bound to its requester.
	TypeMintCompleted = "mint.completed"
)

// MintPending records one queued allocation request.
type MintPending struct {
	PendingID uint64
	Requester [20]byte
	Tier      uint8
	Price     *big.Int
}

func (MintPending) EventType() string { return TypeMintPending }

func (e MintPending) Event() *types.Event {
	price := e.Price
	if price == nil {
		price = big.NewInt(0)
	}
	return &types.Event{
		Type: TypeMintPending,
		Attributes: map[string]string{
			"pendingId": strconv.FormatUint(e.PendingID, 10),
			"requester": crypto.MustNewAddress(crypto.BZRPrefix, e.Requester[:]).String(),
			"tier":      strconv.FormatUint(uint64(e.Tier), 10),
			"price":     price.String(),
		},
	}
}

// MintCompleted records a resolved draw: a token identity assigned to the
// requester of a pending entry.
type MintCompleted struct {
	PendingID uint64
	TokenID   uint64
	Owner     [20]byte
}

func (MintCompleted) EventType() string { return TypeMintCompleted }

func (e MintCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeMintCompleted,
		Attributes: map[string]string{
			"pendingId": strconv.FormatUint(e.PendingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"owner":     crypto.MustNewAddress(crypto.BZRPrefix, e.Owner[:]).String(),
		},
	}
}
