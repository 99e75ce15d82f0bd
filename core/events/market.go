package events

import (
	"math/big"
	"strconv"

	"bazaarchain/core/types"
	"bazaarchain/crypto"
)

const (
	TypeListingCreated = "market.listing.created"
	TypeListingUpdated = "market.listing.updated"
	TypeListingRemoved = "market.listing.removed"
	TypeSaleExecuted   = "market.sale.executed"
	TypeOfferPlaced    = "market.offer.placed"
	TypeOfferCancelled = "market.offer.cancelled"
	TypeBidPlaced      = "market.bid.placed"
	TypeAuctionClosed  = "market.auction.closed"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddr(a [20]byte) string {
	return crypto.MustNewAddress(crypto.BZRPrefix, a[:]).String()
}

// ListingCreated is emitted when a direct sale or auction listing is opened.
type ListingCreated struct {
	ListingID uint64
	TokenID   uint64
	Owner     [20]byte
	Kind      string
	Reserve   *big.Int
	Buyout    *big.Int
	StartTime int64
	EndTime   int64
}

func (ListingCreated) EventType() string { return TypeListingCreated }

func (e ListingCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeListingCreated,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(e.ListingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"owner":     formatAddr(e.Owner),
			"kind":      e.Kind,
			"reserve":   formatAmount(e.Reserve),
			"buyout":    formatAmount(e.Buyout),
			"startTime": strconv.FormatInt(e.StartTime, 10),
			"endTime":   strconv.FormatInt(e.EndTime, 10),
		},
	}
}

// ListingUpdated is emitted when an owner edits listing terms in place.
type ListingUpdated struct {
	ListingID uint64
	TokenID   uint64
	Reserve   *big.Int
	Buyout    *big.Int
	StartTime int64
	EndTime   int64
}

func (ListingUpdated) EventType() string { return TypeListingUpdated }

func (e ListingUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeListingUpdated,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(e.ListingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"reserve":   formatAmount(e.Reserve),
			"buyout":    formatAmount(e.Buyout),
			"startTime": strconv.FormatInt(e.StartTime, 10),
			"endTime":   strconv.FormatInt(e.EndTime, 10),
		},
	}
}

// ListingRemoved is emitted whenever a listing leaves the registry, whatever
// the reason.
type ListingRemoved struct {
	ListingID uint64
	TokenID   uint64
	Reason    string
}

func (ListingRemoved) EventType() string { return TypeListingRemoved }

func (e ListingRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeListingRemoved,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(e.ListingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"reason":    e.Reason,
		},
	}
}

// SaleExecuted is emitted after a direct purchase, accepted offer, or settled
// auction has paid out and transferred custody.
type SaleExecuted struct {
	ListingID uint64
	TokenID   uint64
	Seller    [20]byte
	Buyer     [20]byte
	Price     *big.Int
	Royalty   *big.Int
}

func (SaleExecuted) EventType() string { return TypeSaleExecuted }

func (e SaleExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeSaleExecuted,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(e.ListingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"seller":    formatAddr(e.Seller),
			"buyer":     formatAddr(e.Buyer),
			"price":     formatAmount(e.Price),
			"royalty":   formatAmount(e.Royalty),
		},
	}
}

// OfferPlaced is emitted when an offer on a direct listing is escrowed.
type OfferPlaced struct {
	TokenID uint64
	Offeror [20]byte
	Price   *big.Int
}

func (OfferPlaced) EventType() string { return TypeOfferPlaced }

func (e OfferPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferPlaced,
		Attributes: map[string]string{
			"tokenId": strconv.FormatUint(e.TokenID, 10),
			"offeror": formatAddr(e.Offeror),
			"price":   formatAmount(e.Price),
		},
	}
}

// OfferCancelled is emitted when an offeror withdraws and is refunded.
type OfferCancelled struct {
	TokenID uint64
	Offeror [20]byte
	Price   *big.Int
}

func (OfferCancelled) EventType() string { return TypeOfferCancelled }

func (e OfferCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOfferCancelled,
		Attributes: map[string]string{
			"tokenId": strconv.FormatUint(e.TokenID, 10),
			"offeror": formatAddr(e.Offeror),
			"price":   formatAmount(e.Price),
		},
	}
}

// BidPlaced is emitted when a bid becomes the new winning bid on an auction.
type BidPlaced struct {
	ListingID uint64
	TokenID   uint64
	Bidder    [20]byte
	Price     *big.Int
	EndTime   int64
}

func (BidPlaced) EventType() string { return TypeBidPlaced }

func (e BidPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeBidPlaced,
		Attributes: map[string]string{
			"listingId": strconv.FormatUint(e.ListingID, 10),
			"tokenId":   strconv.FormatUint(e.TokenID, 10),
			"bidder":    formatAddr(e.Bidder),
			"price":     formatAmount(e.Price),
			"endTime":   strconv.FormatInt(e.EndTime, 10),
		},
	}
}

// AuctionClosed is emitted when an auction is settled or cancelled by the
// operator. Outcome is "settled" or "cancelled".
type AuctionClosed struct {
	ListingID uint64
	TokenID   uint64
	Outcome   string
	Winner    [20]byte
	Price     *big.Int
}

func (AuctionClosed) EventType() string { return TypeAuctionClosed }

func (e AuctionClosed) Event() *types.Event {
	attrs := map[string]string{
		"listingId": strconv.FormatUint(e.ListingID, 10),
		"tokenId":   strconv.FormatUint(e.TokenID, 10),
		"outcome":   e.Outcome,
	}
	if e.Outcome == "settled" {
		attrs["winner"] = formatAddr(e.Winner)
		attrs["price"] = formatAmount(e.Price)
	}
	return &types.Event{Type: TypeAuctionClosed, Attributes: attrs}
}
