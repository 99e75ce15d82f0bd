package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"bazaarchain/core/events"
	"bazaarchain/core/types"
	nativecommon "bazaarchain/native/common"
)

const moduleName = "market"

// basisPoints is the denominator for fee and increment fractions.
const basisPoints = 10_000

var (
	errNilState = errors.New("market engine: state not configured")

	// Precondition violations.
	ErrNotOwner           = errors.New("market: caller is not the listing owner")
	ErrNotOperator        = errors.New("market: caller is not the marketplace operator")
	ErrNotApproved        = errors.New("market: owner does not hold or approve the token")
	ErrListingInactive    = errors.New("market: listing has not started")
	ErrAuctionEnded       = errors.New("market: auction window has closed")
	ErrWrongKind          = errors.New("market: operation does not apply to this listing kind")
	ErrSelfDeal           = errors.New("market: listing owner cannot take their own listing")
	ErrZeroPrice          = errors.New("market: price must be positive")
	ErrExactPayment       = errors.New("market: payment must equal the listing price")
	ErrInvalidDuration    = errors.New("market: auction duration must be positive")
	ErrBuyoutBelowReserve = errors.New("market: buyout price below reserve")
	ErrUpdateAfterStart   = errors.New("market: auction terms frozen once started")
	ErrRestricted         = errors.New("market: listing restricted to approved creators")
	ErrInsufficientFunds  = errors.New("market: account balance below required amount")
	ErrOfferNotFound      = errors.New("market: no matching offer")

	// Policy rejections: expected-path refusals with no state change.
	ErrDuplicateOffer = errors.New("market: offeror already has a pending offer")
	ErrNotWinningBid  = errors.New("market: not winning bid")

	// Invariant violations: fatal for the call.
	ErrRoyaltyExceedsPrice = errors.New("market: royalty amount exceeds sale price")
	ErrReentrant           = errors.New("market: settlement operation already in progress")
)

// Config is the operator-controlled parameter set for the settlement engine.
// Version increases by one on every accepted update.
type Config struct {
	Operator           [20]byte `json:"operator"`
	TimeBufferSecs     int64    `json:"timeBufferSecs"`
	BidIncrementBps    uint32   `json:"bidIncrementBps"`
	RestrictedListings bool     `json:"restrictedListings"`
	Version            uint64   `json:"version"`
}

// Validate rejects configurations the engine cannot operate under.
func (c Config) Validate() error {
	if c.TimeBufferSecs < 0 {
		return fmt.Errorf("market: time buffer must be non-negative")
	}
	if c.BidIncrementBps > basisPoints {
		return fmt.Errorf("market: bid increment bps out of range: %d", c.BidIncrementBps)
	}
	return nil
}

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	OwnerOf(tokenID uint64) ([20]byte, error)
	IsApprovedFor(owner [20]byte, operator [20]byte, tokenID uint64) (bool, error)
	TransferToken(from [20]byte, to [20]byte, tokenID uint64) error
	RoyaltyInfo(tokenID uint64, salePrice *big.Int) ([20]byte, *big.Int, error)
	MarketVault() ([20]byte, error)
	MarketStatePut(snapshot *Snapshot) error
	MarketStateGet() (*Snapshot, bool, error)
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine owns the listing registry and offer/bid ledger and executes every
// sale and auction transition. Each public operation runs as one atomic unit
// relative to the others; the settlement-class operations additionally hold a
// call-scoped guard so no external callee can re-enter while ledger state is
// mid-update.
type Engine struct {
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64

	cfg      Config
	registry *Registry
	ledger   *offerLedger
	entered  bool
}

// NewEngine creates a settlement engine with an empty registry and a no-op
// emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
		registry: NewRegistry(),
		ledger:   newOfferLedger(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the governance pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetConfig installs a new parameter set. The supplied config must carry a
// version exactly one above the current one.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Version != e.cfg.Version+1 {
		return fmt.Errorf("market: config version %d does not follow %d", cfg.Version, e.cfg.Version)
	}
	e.cfg = cfg
	return nil
}

// Config returns a copy of the active parameter set.
func (e *Engine) Config() Config { return e.cfg }

// ListingByID resolves a listing by its stable id.
func (e *Engine) ListingByID(id uint64) (*Listing, bool) { return e.registry.ByID(id) }

// ListingByToken resolves the active listing for a token identity.
func (e *Engine) ListingByToken(tokenID uint64) (*Listing, bool) { return e.registry.ByToken(tokenID) }

// Listings returns every active listing.
func (e *Engine) Listings() []*Listing { return e.registry.All() }

// OffersFor returns the pending offers for a token.
func (e *Engine) OffersFor(tokenID uint64) []*Offer { return e.ledger.offersFor(tokenID) }

// WinningBidFor returns the current winning bid on an auction, if any.
func (e *Engine) WinningBidFor(tokenID uint64) (*WinningBid, bool) { return e.ledger.bid(tokenID) }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// enter acquires the call-scoped settlement guard.
func (e *Engine) enter() error {
	if e.entered {
		return ErrReentrant
	}
	e.entered = true
	return nil
}

func (e *Engine) leave() { e.entered = false }

func (e *Engine) persist() error {
	if e.state == nil {
		return errNilState
	}
	offers, bids := e.ledger.snapshot()
	return e.state.MarketStatePut(&Snapshot{
		NextListingID: e.registry.nextID,
		Listings:      e.registry.All(),
		Offers:        offers,
		Bids:          bids,
	})
}

// Restore loads the persisted registry and ledger snapshot, if any. Called
// once at boot after SetState.
func (e *Engine) Restore() error {
	if e.state == nil {
		return errNilState
	}
	snapshot, ok, err := e.state.MarketStateGet()
	if err != nil {
		return err
	}
	if !ok || snapshot == nil {
		return nil
	}
	e.registry.restore(snapshot.NextListingID, snapshot.Listings)
	e.ledger.restore(snapshot.Offers, snapshot.Bids)
	return nil
}

// verifyCustody checks that owner currently holds the token and has approved
// the market vault to move it.
func (e *Engine) verifyCustody(owner [20]byte, tokenID uint64) error {
	holder, err := e.state.OwnerOf(tokenID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotApproved, err)
	}
	if holder != owner {
		return ErrNotApproved
	}
	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	approved, err := e.state.IsApprovedFor(owner, vault, tokenID)
	if err != nil || !approved {
		return ErrNotApproved
	}
	return nil
}

// CreateListing opens a direct sale or auction for a token the owner holds.
// Auctions escrow the token into market custody immediately; direct listings
// leave custody with the seller until sale. startTime zero means "now".
func (e *Engine) CreateListing(owner [20]byte, tokenID uint64, kind ListingKind, reserve, buyout *big.Int, startTime, duration int64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, ErrWrongKind
	}
	if _, exists := e.registry.ByToken(tokenID); exists {
		return nil, ErrListingExists
	}
	if e.cfg.RestrictedListings && owner != e.cfg.Operator {
		account, err := e.state.GetAccount(owner[:])
		if err != nil {
			return nil, err
		}
		if account.EnsureBalances().MintWhitelist == 0 {
			return nil, ErrRestricted
		}
	}
	reserve = cloneAmount(reserve)
	buyout = cloneAmount(buyout)
	if startTime == 0 {
		startTime = e.now()
	}

	listing := &Listing{
		TokenID:   tokenID,
		Owner:     owner,
		Kind:      kind,
		StartTime: startTime,
		Reserve:   reserve,
		Buyout:    buyout,
	}
	switch kind {
	case ListingDirect:
		if buyout.Sign() <= 0 {
			return nil, ErrZeroPrice
		}
		if err := e.verifyCustody(owner, tokenID); err != nil {
			return nil, err
		}
	case ListingAuction:
		if duration <= 0 {
			return nil, ErrInvalidDuration
		}
		if buyout.Sign() > 0 && buyout.Cmp(reserve) < 0 {
			return nil, ErrBuyoutBelowReserve
		}
		if err := e.verifyCustody(owner, tokenID); err != nil {
			return nil, err
		}
		listing.EndTime = startTime + duration
		vault, err := e.state.MarketVault()
		if err != nil {
			return nil, err
		}
		if err := e.state.TransferToken(owner, vault, tokenID); err != nil {
			return nil, err
		}
	}

	stored, err := e.registry.Add(listing)
	if err != nil {
		return nil, err
	}
	if err := e.persist(); err != nil {
		return nil, err
	}
	e.emit(events.ListingCreated{
		ListingID: stored.ID,
		TokenID:   stored.TokenID,
		Owner:     stored.Owner,
		Kind:      stored.Kind.String(),
		Reserve:   stored.Reserve,
		Buyout:    stored.Buyout,
		StartTime: stored.StartTime,
		EndTime:   stored.EndTime,
	}.Event())
	return stored, nil
}

// UpdateListing edits listing terms in place. Only the owner may edit;
// auction terms are frozen once the auction has started. A zero startTime or
// duration in the payload keeps the existing value.
func (e *Engine) UpdateListing(caller [20]byte, tokenID uint64, reserve, buyout *big.Int, startTime, duration int64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return nil, ErrListingNotFound
	}
	if listing.Owner != caller {
		return nil, ErrNotOwner
	}
	if listing.Kind == ListingAuction && e.now() >= listing.StartTime {
		return nil, ErrUpdateAfterStart
	}

	if reserve != nil {
		listing.Reserve = cloneAmount(reserve)
	}
	if buyout != nil {
		if listing.Kind == ListingDirect && buyout.Sign() <= 0 {
			return nil, ErrZeroPrice
		}
		listing.Buyout = cloneAmount(buyout)
	}
	prevStart := listing.StartTime
	if startTime != 0 {
		listing.StartTime = startTime
	}
	if listing.Kind == ListingAuction {
		if duration != 0 {
			if duration < 0 {
				return nil, ErrInvalidDuration
			}
			listing.EndTime = listing.StartTime + duration
		} else if startTime != 0 {
			// Shifting only the start keeps the auction's length.
			remaining := listing.EndTime - prevStart
			listing.EndTime = listing.StartTime + remaining
		}
		if listing.Buyout.Sign() > 0 && listing.Buyout.Cmp(listing.Reserve) < 0 {
			return nil, ErrBuyoutBelowReserve
		}
	}

	if err := e.registry.Update(listing); err != nil {
		return nil, err
	}
	if err := e.persist(); err != nil {
		return nil, err
	}
	e.emit(events.ListingUpdated{
		ListingID: listing.ID,
		TokenID:   listing.TokenID,
		Reserve:   listing.Reserve,
		Buyout:    listing.Buyout,
		StartTime: listing.StartTime,
		EndTime:   listing.EndTime,
	}.Event())
	return listing, nil
}

// RemoveListing deletes a listing from the registry without settlement. Only
// the listing owner or the marketplace operator may call it. Any live bid is
// refunded in full; token custody for an escrowed auction stays in the vault,
// returning it is a separate operator step.
func (e *Engine) RemoveListing(caller [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if caller != listing.Owner && caller != e.cfg.Operator {
		return ErrNotOwner
	}
	if _, err := e.registry.Remove(tokenID); err != nil {
		return err
	}
	if bid, hasBid := e.ledger.bid(tokenID); hasBid {
		// Ledger entry clears before the refund leaves the vault.
		e.ledger.deleteBid(tokenID)
		vault, err := e.state.MarketVault()
		if err != nil {
			return err
		}
		if err := e.send(vault, bid.Bidder, bid.Price); err != nil {
			return err
		}
	}
	if err := e.persist(); err != nil {
		return err
	}
	e.emit(events.ListingRemoved{
		ListingID: listing.ID,
		TokenID:   listing.TokenID,
		Reason:    "removed",
	}.Event())
	return nil
}

// Buy purchases a direct listing at its exact price. The payment must equal
// the listing price; over- and underpayment are both rejected before any
// currency moves.
func (e *Engine) Buy(buyer [20]byte, tokenID uint64, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if listing.Kind != ListingDirect {
		return ErrWrongKind
	}
	if e.now() <= listing.StartTime {
		return ErrListingInactive
	}
	if buyer == listing.Owner {
		return ErrSelfDeal
	}
	if payment == nil || payment.Cmp(listing.Buyout) != 0 {
		return ErrExactPayment
	}

	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	if err := e.send(buyer, vault, payment); err != nil {
		return err
	}
	if err := e.executeSale(listing, buyer, payment); err != nil {
		// A rejected sale returns the fresh payment to the buyer in full.
		if refundErr := e.send(vault, buyer, payment); refundErr != nil {
			return refundErr
		}
		return err
	}
	return nil
}

// MakeOffer escrows a purchase offer against an active direct listing. One
// pending offer per offeror per token; an existing offer must be cancelled
// before a new price can be proposed.
func (e *Engine) MakeOffer(offeror [20]byte, tokenID uint64, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if listing.Kind != ListingDirect {
		return ErrWrongKind
	}
	if e.now() <= listing.StartTime {
		return ErrListingInactive
	}
	if offeror == listing.Owner {
		return ErrSelfDeal
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}
	if _, exists := e.ledger.offer(tokenID, offeror); exists {
		return ErrDuplicateOffer
	}

	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	if err := e.send(offeror, vault, price); err != nil {
		return err
	}
	e.ledger.putOffer(&Offer{TokenID: tokenID, Offeror: offeror, Price: price})
	if err := e.persist(); err != nil {
		return err
	}
	e.emit(events.OfferPlaced{TokenID: tokenID, Offeror: offeror, Price: price}.Event())
	return nil
}

// AcceptOffer lets the listing owner settle against a pending offer at the
// offer's price. The held amount pays out from the vault, custody moves to
// the offeror and the offer is deleted.
func (e *Engine) AcceptOffer(caller [20]byte, tokenID uint64, offeror [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if listing.Owner != caller {
		return ErrNotOwner
	}
	offer, ok := e.ledger.offer(tokenID, offeror)
	if !ok || offer.Price.Sign() <= 0 {
		return ErrOfferNotFound
	}

	// The offer's funds are already escrowed in the vault.
	if err := e.executeSale(listing, offeror, offer.Price); err != nil {
		return err
	}
	e.ledger.deleteOffer(tokenID, offeror)
	return e.persist()
}

// CancelOffer withdraws the caller's pending offer and refunds the held
// amount in full.
func (e *Engine) CancelOffer(caller [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	offer, ok := e.ledger.offer(tokenID, caller)
	if !ok {
		return ErrOfferNotFound
	}

	// Ledger entry clears before the refund leaves the vault.
	e.ledger.deleteOffer(tokenID, caller)
	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	if err := e.send(vault, caller, offer.Price); err != nil {
		return err
	}
	if err := e.persist(); err != nil {
		return err
	}
	e.emit(events.OfferCancelled{TokenID: tokenID, Offeror: caller, Price: offer.Price}.Event())
	return nil
}

// isNewWinningBid applies the replacement rule: the first bid must meet the
// reserve, and every later bid must exceed the current winner by at least the
// configured increment fraction.
func (e *Engine) isNewWinningBid(listing *Listing, current *WinningBid, price *big.Int) bool {
	if current == nil {
		return price.Cmp(listing.Reserve) >= 0
	}
	if price.Cmp(current.Price) <= 0 {
		return false
	}
	// (price - current) / current >= incrementBps / 10000, in integers:
	// (price - current) * 10000 >= current * incrementBps.
	delta := new(big.Int).Sub(price, current.Price)
	delta.Mul(delta, big.NewInt(basisPoints))
	threshold := new(big.Int).Mul(current.Price, big.NewInt(int64(e.cfg.BidIncrementBps)))
	return delta.Cmp(threshold) >= 0
}

// PlaceBid submits a bid on an active auction. A losing bid is rejected with
// no state change. A winning bid escrows its amount, refunds the displaced
// bid in full, then either settles immediately when it reaches a positive
// buyout price or becomes the recorded winning bid, extending the end time by
// the anti-snipe buffer when the auction is nearly over.
func (e *Engine) PlaceBid(bidder [20]byte, tokenID uint64, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if listing.Kind != ListingAuction {
		return ErrWrongKind
	}
	now := e.now()
	if now <= listing.StartTime {
		return ErrListingInactive
	}
	if now >= listing.EndTime {
		return ErrAuctionEnded
	}
	if bidder == listing.Owner {
		return ErrSelfDeal
	}
	if price == nil || price.Sign() <= 0 {
		return ErrZeroPrice
	}

	current, hasCurrent := e.ledger.bid(tokenID)
	if !hasCurrent {
		current = nil
	}
	if !e.isNewWinningBid(listing, current, price) {
		return ErrNotWinningBid
	}

	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	if err := e.send(bidder, vault, price); err != nil {
		return err
	}
	if listing.Buyout.Sign() > 0 && price.Cmp(listing.Buyout) >= 0 {
		// Buyout reached: the auction settles right now at this price. The
		// displaced bid is only paid back once settlement has committed, so
		// a rejected settlement leaves the prior winning bid in place and
		// returns the fresh escrow to the caller.
		if err := e.settleAuction(listing, bidder, price); err != nil {
			if refundErr := e.send(vault, bidder, price); refundErr != nil {
				return refundErr
			}
			return err
		}
		if current != nil {
			if err := e.send(vault, current.Bidder, current.Price); err != nil {
				return err
			}
		}
		return e.persist()
	}

	if current != nil {
		// The displaced winner is made whole before the new bid is recorded.
		e.ledger.deleteBid(tokenID)
		if err := e.send(vault, current.Bidder, current.Price); err != nil {
			return err
		}
	}

	e.ledger.putBid(&WinningBid{TokenID: tokenID, Bidder: bidder, Price: price})
	if e.cfg.TimeBufferSecs > 0 && listing.EndTime-now <= e.cfg.TimeBufferSecs {
		listing.EndTime += e.cfg.TimeBufferSecs
		if err := e.registry.Update(listing); err != nil {
			return err
		}
	}
	if err := e.persist(); err != nil {
		return err
	}
	e.emit(events.BidPlaced{
		ListingID: listing.ID,
		TokenID:   listing.TokenID,
		Bidder:    bidder,
		Price:     price,
		EndTime:   listing.EndTime,
	}.Event())
	return nil
}

// CloseAuction finalises an auction. Before its start time, or with no
// winning bid, the auction is cancelled: custody returns to the owner and the
// listing is removed with no payout. Otherwise it settles at the winning bid.
// Only the marketplace operator may close auctions.
func (e *Engine) CloseAuction(caller [20]byte, tokenID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	if caller != e.cfg.Operator {
		return ErrNotOperator
	}
	listing, ok := e.registry.ByToken(tokenID)
	if !ok {
		return ErrListingNotFound
	}
	if listing.Kind != ListingAuction {
		return ErrWrongKind
	}

	bid, hasBid := e.ledger.bid(tokenID)
	if e.now() < listing.StartTime || !hasBid {
		// Cancel: registry entry goes first, then custody returns. No payout
		// ever happens on this path.
		if _, err := e.registry.Remove(tokenID); err != nil {
			return err
		}
		vault, err := e.state.MarketVault()
		if err != nil {
			return err
		}
		if err := e.state.TransferToken(vault, listing.Owner, tokenID); err != nil {
			return err
		}
		if err := e.persist(); err != nil {
			return err
		}
		e.emit(events.AuctionClosed{
			ListingID: listing.ID,
			TokenID:   listing.TokenID,
			Outcome:   "cancelled",
		}.Event())
		return nil
	}

	if err := e.settleAuction(listing, bid.Bidder, bid.Price); err != nil {
		return err
	}
	return e.persist()
}
