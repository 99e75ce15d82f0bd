package market

import (
	"fmt"
	"math/big"
)

// ListingKind distinguishes fixed-price sales from timed auctions.
type ListingKind uint8

const (
	ListingDirect ListingKind = iota
	ListingAuction
)

// Valid reports whether the kind is a supported value.
func (k ListingKind) Valid() bool {
	return k == ListingDirect || k == ListingAuction
}

func (k ListingKind) String() string {
	switch k {
	case ListingDirect:
		return "direct"
	case ListingAuction:
		return "auction"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Listing is one active marketplace entry. IDs are assigned once from a
// monotonically increasing sequence. Direct listings sell at Buyout; auctions
// open bidding at Reserve and settle immediately when a bid reaches a
// positive Buyout. EndTime is zero for direct listings.
type Listing struct {
	ID        uint64      `json:"id"`
	TokenID   uint64      `json:"tokenId"`
	Owner     [20]byte    `json:"owner"`
	Kind      ListingKind `json:"kind"`
	StartTime int64       `json:"startTime"`
	EndTime   int64       `json:"endTime"`
	Reserve   *big.Int    `json:"reserve"`
	Buyout    *big.Int    `json:"buyout"`
}

// Clone deep-copies the listing so registry storage never aliases caller
// memory.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Reserve = cloneAmount(l.Reserve)
	clone.Buyout = cloneAmount(l.Buyout)
	return &clone
}

// Offer is a pending purchase offer against a direct listing, keyed by
// (token, offeror). The amount is held in the market vault until accepted or
// cancelled.
type Offer struct {
	TokenID uint64   `json:"tokenId"`
	Offeror [20]byte `json:"offeror"`
	Price   *big.Int `json:"price"`
}

// Clone deep-copies the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneAmount(o.Price)
	return &clone
}

// WinningBid is the single currently-highest accepted bid on an auction. The
// amount is held in the market vault; a replaced bid is refunded in full
// before the replacement is recorded.
type WinningBid struct {
	TokenID uint64   `json:"tokenId"`
	Bidder  [20]byte `json:"bidder"`
	Price   *big.Int `json:"price"`
}

// Clone deep-copies the bid.
func (b *WinningBid) Clone() *WinningBid {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Price = cloneAmount(b.Price)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Snapshot is the persisted form of the registry and offer/bid ledger.
type Snapshot struct {
	NextListingID uint64        `json:"nextListingId"`
	Listings      []*Listing    `json:"listings"`
	Offers        []*Offer      `json:"offers"`
	Bids          []*WinningBid `json:"bids"`
}
