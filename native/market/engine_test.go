package market

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"bazaarchain/core/events"
	"bazaarchain/core/types"
)

var testVault = addrOf(0xEE)

type mockState struct {
	accounts  map[[20]byte]*types.Account
	tokens    map[uint64][20]byte
	approvals map[string]bool

	royaltyRecipient [20]byte
	royaltyBps       int64
	royaltyErr       error
	royaltyOverride  *big.Int

	snapshot *Snapshot

	// transferHook runs before each custody move, used to simulate a callee
	// that tries to re-enter the engine mid-settlement.
	transferHook func(from, to [20]byte, tokenID uint64) error
}

func newMarketState() *mockState {
	return &mockState{
		accounts:  make(map[[20]byte]*types.Account),
		tokens:    make(map[uint64][20]byte),
		approvals: make(map[string]bool),
	}
}

func (m *mockState) key(addr []byte) [20]byte {
	var key [20]byte
	copy(key[:], addr)
	return key
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	account, ok := m.accounts[m.key(addr)]
	if !ok {
		return (&types.Account{}).EnsureBalances(), nil
	}
	return account.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[m.key(addr)] = account.Clone()
	return nil
}

func (m *mockState) OwnerOf(tokenID uint64) ([20]byte, error) {
	owner, ok := m.tokens[tokenID]
	if !ok {
		return [20]byte{}, fmt.Errorf("token %d not minted", tokenID)
	}
	return owner, nil
}

func approvalKey(owner, operator [20]byte, tokenID uint64) string {
	return fmt.Sprintf("%x:%x:%d", owner, operator, tokenID)
}

func (m *mockState) IsApprovedFor(owner, operator [20]byte, tokenID uint64) (bool, error) {
	return m.approvals[approvalKey(owner, operator, tokenID)], nil
}

func (m *mockState) TransferToken(from, to [20]byte, tokenID uint64) error {
	if m.transferHook != nil {
		if err := m.transferHook(from, to, tokenID); err != nil {
			return err
		}
	}
	owner, ok := m.tokens[tokenID]
	if !ok || owner != from {
		return fmt.Errorf("token %d not held by sender", tokenID)
	}
	m.tokens[tokenID] = to
	return nil
}

func (m *mockState) RoyaltyInfo(tokenID uint64, salePrice *big.Int) ([20]byte, *big.Int, error) {
	if m.royaltyErr != nil {
		return [20]byte{}, nil, m.royaltyErr
	}
	if m.royaltyOverride != nil {
		return m.royaltyRecipient, new(big.Int).Set(m.royaltyOverride), nil
	}
	amount := new(big.Int).Mul(salePrice, big.NewInt(m.royaltyBps))
	amount.Quo(amount, big.NewInt(basisPoints))
	return m.royaltyRecipient, amount, nil
}

func (m *mockState) MarketVault() ([20]byte, error) { return testVault, nil }

func (m *mockState) MarketStatePut(snapshot *Snapshot) error {
	m.snapshot = snapshot
	return nil
}

func (m *mockState) MarketStateGet() (*Snapshot, bool, error) {
	if m.snapshot == nil {
		return nil, false, nil
	}
	return m.snapshot, true, nil
}

func (m *mockState) fund(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	account, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return account.EnsureBalances().Balance
}

func (m *mockState) mintTo(tokenID uint64, owner [20]byte) {
	m.tokens[tokenID] = owner
	m.approvals[approvalKey(owner, testVault, tokenID)] = true
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) last(eventType string) (*types.Event, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].EventType() != eventType {
			continue
		}
		payload, ok := r.events[i].(interface{ Event() *types.Event })
		if !ok {
			return nil, false
		}
		return payload.Event(), true
	}
	return nil, false
}

var (
	operator = addrOf(0x0F)
	seller   = addrOf(0x01)
	buyer    = addrOf(0x02)
	rival    = addrOf(0x03)
	royalty  = addrOf(0x0C)
)

const baseTime = int64(1_700_000_000)

func testMarketConfig() Config {
	return Config{
		Operator:        operator,
		TimeBufferSecs:  60,
		BidIncrementBps: 1000,
		Version:         1,
	}
}

func newTestEngine(t *testing.T, state *mockState) *Engine {
	t.Helper()
	state.royaltyRecipient = royalty
	state.royaltyBps = 500
	engine := NewEngine()
	engine.SetState(state)
	if err := engine.SetConfig(testMarketConfig()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	engine.SetNowFunc(func() int64 { return baseTime })
	return engine
}

func listDirect(t *testing.T, engine *Engine, state *mockState, tokenID uint64, price int64) *Listing {
	t.Helper()
	state.mintTo(tokenID, seller)
	listing, err := engine.CreateListing(seller, tokenID, ListingDirect, nil, big.NewInt(price), baseTime-10, 0)
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}
	return listing
}

func listAuction(t *testing.T, engine *Engine, state *mockState, tokenID uint64, reserve, buyout int64, duration int64) *Listing {
	t.Helper()
	state.mintTo(tokenID, seller)
	var buyoutAmt *big.Int
	if buyout > 0 {
		buyoutAmt = big.NewInt(buyout)
	}
	listing, err := engine.CreateListing(seller, tokenID, ListingAuction, big.NewInt(reserve), buyoutAmt, baseTime-10, duration)
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}
	return listing
}

func TestCreateListingCustody(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	// Direct listings leave custody with the seller.
	listDirect(t, engine, state, 1, 100)
	if owner := state.tokens[1]; owner != seller {
		t.Fatalf("direct listing moved custody to %x", owner)
	}

	// Auctions escrow the token into the vault on creation.
	listAuction(t, engine, state, 2, 50, 0, 3600)
	if owner := state.tokens[2]; owner != testVault {
		t.Fatalf("auction custody with %x, want vault", owner)
	}

	// Listing a token held by someone else is rejected.
	state.tokens[3] = buyer
	if _, err := engine.CreateListing(seller, 3, ListingDirect, nil, big.NewInt(10), 0, 0); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("foreign token: got %v", err)
	}

	// Owned but without vault approval is equally rejected.
	state.tokens[4] = seller
	if _, err := engine.CreateListing(seller, 4, ListingDirect, nil, big.NewInt(10), 0, 0); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("missing approval: got %v", err)
	}

	// One active listing per token.
	if _, err := engine.CreateListing(seller, 1, ListingDirect, nil, big.NewInt(10), 0, 0); !errors.Is(err, ErrListingExists) {
		t.Fatalf("duplicate listing: got %v", err)
	}
}

func TestCreateListingValidation(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	state.mintTo(1, seller)
	if _, err := engine.CreateListing(seller, 1, ListingDirect, nil, big.NewInt(0), 0, 0); !errors.Is(err, ErrZeroPrice) {
		t.Fatalf("zero price: got %v", err)
	}
	if _, err := engine.CreateListing(seller, 1, ListingAuction, big.NewInt(50), nil, 0, 0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("zero duration: got %v", err)
	}
	if _, err := engine.CreateListing(seller, 1, ListingAuction, big.NewInt(50), big.NewInt(40), 0, 3600); !errors.Is(err, ErrBuyoutBelowReserve) {
		t.Fatalf("buyout below reserve: got %v", err)
	}
	if _, err := engine.CreateListing(seller, 1, ListingKind(9), nil, big.NewInt(10), 0, 0); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("invalid kind: got %v", err)
	}
}

func TestRestrictedListings(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	cfg := testMarketConfig()
	cfg.RestrictedListings = true
	cfg.Version = 2
	if err := engine.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	state.mintTo(1, seller)
	if _, err := engine.CreateListing(seller, 1, ListingDirect, nil, big.NewInt(10), 0, 0); !errors.Is(err, ErrRestricted) {
		t.Fatalf("unlisted creator: got %v", err)
	}

	state.accounts[seller] = &types.Account{Balance: big.NewInt(0), MintWhitelist: 0x01}
	if _, err := engine.CreateListing(seller, 1, ListingDirect, nil, big.NewInt(10), 0, 0); err != nil {
		t.Fatalf("whitelisted creator rejected: %v", err)
	}

	state.mintTo(2, operator)
	if _, err := engine.CreateListing(operator, 2, ListingDirect, nil, big.NewInt(10), 0, 0); err != nil {
		t.Fatalf("operator exempt from restriction: %v", err)
	}
}

func TestBuySettlesWithRoyalty(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 500)

	if err := engine.Buy(buyer, 1, big.NewInt(200)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	// 5% royalty on 200: 10 to the royalty recipient, 190 to the seller.
	if got := state.balance(royalty); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("royalty balance = %s, want 10", got)
	}
	if got := state.balance(seller); got.Cmp(big.NewInt(190)) != 0 {
		t.Fatalf("seller balance = %s, want 190", got)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("buyer balance = %s, want 300", got)
	}
	if got := state.balance(testVault); got.Sign() != 0 {
		t.Fatalf("vault retains %s after settlement", got)
	}
	if owner := state.tokens[1]; owner != buyer {
		t.Fatalf("custody with %x after sale", owner)
	}
	if _, ok := engine.ListingByToken(1); ok {
		t.Fatalf("listing survived settlement")
	}
	evt, ok := emitter.last(events.TypeSaleExecuted)
	if !ok {
		t.Fatalf("no sale event emitted")
	}
	if evt.Attributes["royalty"] != "10" {
		t.Fatalf("sale event royalty = %q", evt.Attributes["royalty"])
	}
}

func TestBuyRequiresExactPayment(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 500)

	for _, payment := range []int64{199, 201} {
		if err := engine.Buy(buyer, 1, big.NewInt(payment)); !errors.Is(err, ErrExactPayment) {
			t.Fatalf("payment %d: got %v", payment, err)
		}
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("buyer balance mutated on rejection: %s", got)
	}
}

func TestBuyPreconditions(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 100)

	if err := engine.Buy(seller, 1, big.NewInt(200)); !errors.Is(err, ErrSelfDeal) {
		t.Fatalf("self deal: got %v", err)
	}
	if err := engine.Buy(buyer, 1, big.NewInt(200)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("underfunded buyer: got %v", err)
	}
	if err := engine.Buy(buyer, 7, big.NewInt(200)); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("unknown token: got %v", err)
	}

	// A listing that has not started cannot be taken.
	state.mintTo(2, seller)
	if _, err := engine.CreateListing(seller, 2, ListingDirect, nil, big.NewInt(50), baseTime+100, 0); err != nil {
		t.Fatalf("future listing: %v", err)
	}
	state.fund(buyer, 500)
	if err := engine.Buy(buyer, 2, big.NewInt(50)); !errors.Is(err, ErrListingInactive) {
		t.Fatalf("pre-start buy: got %v", err)
	}
}

func TestRoyaltyLookupFailureToleratedAsZero(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 200)
	state.royaltyErr = fmt.Errorf("no royalty config")

	if err := engine.Buy(buyer, 1, big.NewInt(200)); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if got := state.balance(seller); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("seller balance = %s, want full 200", got)
	}
}

func TestRoyaltyAbovePriceIsFatal(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 200)
	state.royaltyOverride = big.NewInt(201)

	if err := engine.Buy(buyer, 1, big.NewInt(200)); !errors.Is(err, ErrRoyaltyExceedsPrice) {
		t.Fatalf("expected ErrRoyaltyExceedsPrice, got %v", err)
	}
	if owner := state.tokens[1]; owner != seller {
		t.Fatalf("custody moved despite aborted settlement")
	}
}

func TestOfferLifecycle(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 500)

	if err := engine.MakeOffer(buyer, 1, big.NewInt(150)); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("offer not escrowed: %s", got)
	}
	if got := state.balance(testVault); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("vault balance = %s, want 150", got)
	}
	if err := engine.MakeOffer(buyer, 1, big.NewInt(160)); !errors.Is(err, ErrDuplicateOffer) {
		t.Fatalf("duplicate offer: got %v", err)
	}

	// Cancellation refunds the full held amount.
	if err := engine.CancelOffer(buyer, 1); err != nil {
		t.Fatalf("CancelOffer: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("refund incomplete: %s", got)
	}
	if err := engine.CancelOffer(buyer, 1); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("second cancel: got %v", err)
	}
}

func TestAcceptOfferSettlesAtOfferPrice(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 500)

	if err := engine.MakeOffer(buyer, 1, big.NewInt(100)); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	if err := engine.AcceptOffer(rival, 1, buyer); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner accept: got %v", err)
	}
	if err := engine.AcceptOffer(seller, 1, rival); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("phantom offeror: got %v", err)
	}

	if err := engine.AcceptOffer(seller, 1, buyer); err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	// 5% royalty on 100.
	if got := state.balance(seller); got.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("seller balance = %s, want 95", got)
	}
	if got := state.balance(royalty); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("royalty balance = %s, want 5", got)
	}
	if owner := state.tokens[1]; owner != buyer {
		t.Fatalf("custody with %x after acceptance", owner)
	}
	if offers := engine.OffersFor(1); len(offers) != 0 {
		t.Fatalf("offer survived acceptance")
	}
}

func TestBidLadder(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listAuction(t, engine, state, 1, 100, 0, 3600)
	state.fund(buyer, 1000)
	state.fund(rival, 1000)

	// Below reserve: rejected with no funds movement.
	if err := engine.PlaceBid(buyer, 1, big.NewInt(99)); !errors.Is(err, ErrNotWinningBid) {
		t.Fatalf("below reserve: got %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("rejected bid moved funds: %s", got)
	}

	// Reserve met.
	if err := engine.PlaceBid(buyer, 1, big.NewInt(100)); err != nil {
		t.Fatalf("reserve bid: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("bid not escrowed: %s", got)
	}

	// Increment is 10%: 105 loses, 110 wins.
	if err := engine.PlaceBid(rival, 1, big.NewInt(105)); !errors.Is(err, ErrNotWinningBid) {
		t.Fatalf("sub-increment bid: got %v", err)
	}
	if err := engine.PlaceBid(rival, 1, big.NewInt(110)); err != nil {
		t.Fatalf("increment bid: %v", err)
	}

	// The displaced bidder is refunded in full.
	if got := state.balance(buyer); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("displaced bid not refunded: %s", got)
	}
	if got := state.balance(rival); got.Cmp(big.NewInt(890)) != 0 {
		t.Fatalf("new bid not escrowed: %s", got)
	}
	bid, ok := engine.WinningBidFor(1)
	if !ok || bid.Bidder != rival || bid.Price.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("winning bid record = %+v", bid)
	}
}

func TestBidBuyoutSettlesImmediately(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	listAuction(t, engine, state, 1, 100, 300, 3600)
	state.fund(buyer, 1000)

	if err := engine.PlaceBid(buyer, 1, big.NewInt(300)); err != nil {
		t.Fatalf("buyout bid: %v", err)
	}
	if owner := state.tokens[1]; owner != buyer {
		t.Fatalf("custody with %x after buyout", owner)
	}
	if _, ok := engine.ListingByToken(1); ok {
		t.Fatalf("listing survived buyout")
	}
	// 5% royalty on 300.
	if got := state.balance(seller); got.Cmp(big.NewInt(285)) != 0 {
		t.Fatalf("seller balance = %s, want 285", got)
	}
	evt, ok := emitter.last(events.TypeAuctionClosed)
	if !ok || evt.Attributes["outcome"] != "settled" {
		t.Fatalf("auction close event missing or wrong: %+v", evt)
	}
	if evt.Attributes["winner"] == "" {
		t.Fatalf("settled close carries no winner")
	}
}

func TestBidAntiSnipeExtension(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listing := listAuction(t, engine, state, 1, 100, 0, 3600)
	state.fund(buyer, 1000)

	// Bid with 30 seconds left; buffer is 60 so the end time slides out.
	engine.SetNowFunc(func() int64 { return listing.EndTime - 30 })
	if err := engine.PlaceBid(buyer, 1, big.NewInt(100)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	extended, ok := engine.ListingByToken(1)
	if !ok {
		t.Fatalf("listing lost")
	}
	if extended.EndTime != listing.EndTime+60 {
		t.Fatalf("end time = %d, want %d", extended.EndTime, listing.EndTime+60)
	}

	// A bid with plenty of time left does not extend.
	state.fund(rival, 1000)
	engine.SetNowFunc(func() int64 { return listing.StartTime + 10 })
	if err := engine.PlaceBid(rival, 1, big.NewInt(200)); err != nil {
		t.Fatalf("early bid: %v", err)
	}
	unchanged, _ := engine.ListingByToken(1)
	if unchanged.EndTime != extended.EndTime {
		t.Fatalf("end time moved without snipe pressure")
	}
}

func TestBidWindow(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listing := listAuction(t, engine, state, 1, 100, 0, 3600)
	state.fund(buyer, 1000)

	engine.SetNowFunc(func() int64 { return listing.StartTime })
	if err := engine.PlaceBid(buyer, 1, big.NewInt(100)); !errors.Is(err, ErrListingInactive) {
		t.Fatalf("bid at start instant: got %v", err)
	}
	engine.SetNowFunc(func() int64 { return listing.EndTime })
	if err := engine.PlaceBid(buyer, 1, big.NewInt(100)); !errors.Is(err, ErrAuctionEnded) {
		t.Fatalf("bid at end instant: got %v", err)
	}
}

func TestCloseAuctionCancelReturnsCustody(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	listAuction(t, engine, state, 1, 100, 0, 3600)

	if err := engine.CloseAuction(seller, 1); !errors.Is(err, ErrNotOperator) {
		t.Fatalf("non-operator close: got %v", err)
	}

	// No bid arrived: cancellation hands the token back with no payout.
	if err := engine.CloseAuction(operator, 1); err != nil {
		t.Fatalf("CloseAuction: %v", err)
	}
	if owner := state.tokens[1]; owner != seller {
		t.Fatalf("custody with %x after cancel", owner)
	}
	if got := state.balance(seller); got.Sign() != 0 {
		t.Fatalf("cancel paid out %s", got)
	}
	evt, ok := emitter.last(events.TypeAuctionClosed)
	if !ok || evt.Attributes["outcome"] != "cancelled" {
		t.Fatalf("close event missing or wrong: %+v", evt)
	}
}

func TestCloseAuctionSettlesWinningBid(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listAuction(t, engine, state, 1, 100, 0, 3600)
	state.fund(buyer, 1000)

	if err := engine.PlaceBid(buyer, 1, big.NewInt(120)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.CloseAuction(operator, 1); err != nil {
		t.Fatalf("CloseAuction: %v", err)
	}
	if owner := state.tokens[1]; owner != buyer {
		t.Fatalf("custody with %x after settle", owner)
	}
	// 5% royalty on 120.
	if got := state.balance(seller); got.Cmp(big.NewInt(114)) != 0 {
		t.Fatalf("seller balance = %s, want 114", got)
	}
	if got := state.balance(royalty); got.Cmp(big.NewInt(6)) != 0 {
		t.Fatalf("royalty balance = %s, want 6", got)
	}
	if _, ok := engine.WinningBidFor(1); ok {
		t.Fatalf("bid record survived settlement")
	}
}

func TestSettlementGuardBlocksReentry(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	listDirect(t, engine, state, 2, 100)
	state.fund(buyer, 1000)
	state.fund(rival, 1000)

	var reentryErr error
	state.transferHook = func(from, to [20]byte, tokenID uint64) error {
		if tokenID == 1 {
			reentryErr = engine.Buy(rival, 2, big.NewInt(100))
		}
		return nil
	}

	if err := engine.Buy(buyer, 1, big.NewInt(200)); err != nil {
		t.Fatalf("outer Buy: %v", err)
	}
	if !errors.Is(reentryErr, ErrReentrant) {
		t.Fatalf("nested settlement got %v, want ErrReentrant", reentryErr)
	}

	// The guard releases once the outer call finishes.
	state.transferHook = nil
	if err := engine.Buy(rival, 2, big.NewInt(100)); err != nil {
		t.Fatalf("Buy after guard release: %v", err)
	}
}

func TestUpdateListingRules(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	if _, err := engine.UpdateListing(rival, 1, nil, big.NewInt(300), 0, 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner update: got %v", err)
	}
	updated, err := engine.UpdateListing(seller, 1, nil, big.NewInt(300), 0, 0)
	if err != nil {
		t.Fatalf("UpdateListing: %v", err)
	}
	if updated.Buyout.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("price not updated: %s", updated.Buyout)
	}

	// Started auctions are frozen.
	listAuction(t, engine, state, 2, 100, 0, 3600)
	if _, err := engine.UpdateListing(seller, 2, big.NewInt(150), nil, 0, 0); !errors.Is(err, ErrUpdateAfterStart) {
		t.Fatalf("started auction update: got %v", err)
	}

	// A future auction can still be edited, within the reserve/buyout rule.
	state.mintTo(3, seller)
	if _, err := engine.CreateListing(seller, 3, ListingAuction, big.NewInt(100), nil, baseTime+500, 3600); err != nil {
		t.Fatalf("future auction: %v", err)
	}
	if _, err := engine.UpdateListing(seller, 3, big.NewInt(200), big.NewInt(150), 0, 0); !errors.Is(err, ErrBuyoutBelowReserve) {
		t.Fatalf("buyout below reserve on update: got %v", err)
	}
	if _, err := engine.UpdateListing(seller, 3, big.NewInt(120), big.NewInt(150), 0, 0); err != nil {
		t.Fatalf("valid auction update: %v", err)
	}
}

func TestRemoveListingKeepsEscrow(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listAuction(t, engine, state, 1, 100, 0, 3600)
	if err := engine.RemoveListing(rival, 1); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger removal: got %v", err)
	}
	if err := engine.RemoveListing(operator, 1); err != nil {
		t.Fatalf("operator removal: %v", err)
	}
	if _, ok := engine.ListingByToken(1); ok {
		t.Fatalf("listing survived removal")
	}
	// Removal is registry-only; escrow release is a separate operator step.
	if owner := state.tokens[1]; owner != testVault {
		t.Fatalf("removal moved custody to %x", owner)
	}
}

func TestRemoveListingRefundsLiveBid(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listAuction(t, engine, state, 1, 100, 0, 3600)
	state.fund(buyer, 500)
	if err := engine.PlaceBid(buyer, 1, big.NewInt(120)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := engine.RemoveListing(operator, 1); err != nil {
		t.Fatalf("operator removal: %v", err)
	}
	if _, ok := engine.WinningBidFor(1); ok {
		t.Fatalf("bid record survived removal")
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("bidder balance %s after removal, want full refund", got)
	}
	if got := state.balance(testVault); got.Sign() != 0 {
		t.Fatalf("vault still holds %s after removal", got)
	}
	// Token custody stays escrowed, as on the bidless removal path.
	if owner := state.tokens[1]; owner != testVault {
		t.Fatalf("removal moved custody to %x", owner)
	}
}

func TestBuyFailureRefundsPayment(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	state.fund(buyer, 300)

	// A royalty above the sale price aborts the sale with the payment back
	// in the buyer's account.
	state.royaltyOverride = big.NewInt(201)
	if err := engine.Buy(buyer, 1, big.NewInt(200)); !errors.Is(err, ErrRoyaltyExceedsPrice) {
		t.Fatalf("oversized royalty: got %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("buyer balance %s after aborted sale, want 300", got)
	}
	if got := state.balance(testVault); got.Sign() != 0 {
		t.Fatalf("vault holds %s after aborted sale", got)
	}
	if owner := state.tokens[1]; owner != seller {
		t.Fatalf("custody moved to %x on aborted sale", owner)
	}

	// A listing whose token moved away behind the registry entry is refused
	// the same way.
	state.royaltyOverride = nil
	state.tokens[1] = rival
	if err := engine.Buy(buyer, 1, big.NewInt(200)); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("stale listing: got %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("buyer balance %s after stale sale, want 300", got)
	}
	if got := state.balance(testVault); got.Sign() != 0 {
		t.Fatalf("vault holds %s after stale sale", got)
	}
}

func TestBuyoutFailureKeepsPriorBid(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listAuction(t, engine, state, 1, 100, 300, 3600)
	state.fund(buyer, 500)
	state.fund(rival, 700)

	if err := engine.PlaceBid(buyer, 1, big.NewInt(100)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	state.royaltyOverride = big.NewInt(301)
	if err := engine.PlaceBid(rival, 1, big.NewInt(300)); !errors.Is(err, ErrRoyaltyExceedsPrice) {
		t.Fatalf("buyout bid: got %v", err)
	}
	if got := state.balance(rival); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("rival balance %s after aborted buyout, want 700", got)
	}
	bid, ok := engine.WinningBidFor(1)
	if !ok || bid.Bidder != buyer || bid.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("winning bid disturbed by aborted buyout: %+v ok=%v", bid, ok)
	}
	if got := state.balance(testVault); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault holds %s, want the standing escrow 100", got)
	}

	// The same bid settles once the royalty table is sane again, with the
	// displaced bidder made whole.
	state.royaltyOverride = nil
	if err := engine.PlaceBid(rival, 1, big.NewInt(300)); err != nil {
		t.Fatalf("retry buyout: %v", err)
	}
	if got := state.balance(buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("displaced bidder balance %s, want full refund", got)
	}
	if owner := state.tokens[1]; owner != rival {
		t.Fatalf("custody with %x after buyout, want winner", owner)
	}
	if got := state.balance(testVault); got.Sign() != 0 {
		t.Fatalf("vault holds %s after settlement", got)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	state := newMarketState()
	engine := newTestEngine(t, state)

	listDirect(t, engine, state, 1, 200)
	listAuction(t, engine, state, 2, 100, 0, 3600)
	state.fund(buyer, 1000)
	if err := engine.MakeOffer(buyer, 1, big.NewInt(150)); err != nil {
		t.Fatalf("MakeOffer: %v", err)
	}
	if err := engine.PlaceBid(buyer, 2, big.NewInt(100)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	restored := NewEngine()
	restored.SetState(state)
	if err := restored.SetConfig(testMarketConfig()); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	restored.SetNowFunc(func() int64 { return baseTime })
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if len(restored.Listings()) != 2 {
		t.Fatalf("restored %d listings, want 2", len(restored.Listings()))
	}
	if offers := restored.OffersFor(1); len(offers) != 1 || offers[0].Price.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("offer lost in restore: %+v", offers)
	}
	bid, ok := restored.WinningBidFor(2)
	if !ok || bid.Price.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bid lost in restore: %+v", bid)
	}

	// New listings continue the id sequence.
	state.mintTo(3, seller)
	listing, err := restored.CreateListing(seller, 3, ListingDirect, nil, big.NewInt(10), baseTime-1, 0)
	if err != nil {
		t.Fatalf("CreateListing after restore: %v", err)
	}
	if listing.ID != 3 {
		t.Fatalf("listing id after restore = %d, want 3", listing.ID)
	}
}
