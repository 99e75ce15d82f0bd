package state

import (
	"errors"
	"math/big"
	"testing"

	"bazaarchain/core/types"
	"bazaarchain/native/market"
	"bazaarchain/native/mint"
	"bazaarchain/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func addrOf(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	addr := addrOf(0x01)

	// A never-written address reads back as an empty account.
	account, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.Balance.Sign() != 0 || account.Nonce != 0 || account.MintWhitelist != 0 {
		t.Fatalf("fresh account not empty: %+v", account)
	}

	account.Nonce = 7
	account.Balance = big.NewInt(1234)
	account.MintWhitelist = 0x05
	if err := manager.PutAccount(addr[:], account); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	loaded, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(1234)) != 0 || loaded.MintWhitelist != 0x05 {
		t.Fatalf("round trip lost data: %+v", loaded)
	}
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	manager := newTestManager(t)
	addr := addrOf(0x01)
	err := manager.PutAccount(addr[:], &types.Account{Balance: big.NewInt(-1)})
	if err == nil {
		t.Fatalf("negative balance accepted")
	}
}

func TestSetMintWhitelistAndCredit(t *testing.T) {
	manager := newTestManager(t)
	addr := addrOf(0x02)

	if err := manager.SetMintWhitelist(addr[:], 0x03); err != nil {
		t.Fatalf("SetMintWhitelist: %v", err)
	}
	if err := manager.Credit(addr[:], big.NewInt(500)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := manager.Credit(addr[:], big.NewInt(0)); err == nil {
		t.Fatalf("zero credit accepted")
	}

	account, err := manager.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.MintWhitelist != 0x03 || account.Balance.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("state lost across writes: %+v", account)
	}
}

func TestMarketVaultIsStable(t *testing.T) {
	manager := newTestManager(t)
	first, err := manager.MarketVault()
	if err != nil {
		t.Fatalf("MarketVault: %v", err)
	}
	second, err := manager.MarketVault()
	if err != nil {
		t.Fatalf("MarketVault: %v", err)
	}
	if first != second {
		t.Fatalf("vault address not deterministic")
	}
	if first == ([20]byte{}) {
		t.Fatalf("vault address is zero")
	}
}

func TestTokenLifecycle(t *testing.T) {
	manager := newTestManager(t)
	alice := addrOf(0x01)
	bob := addrOf(0x02)
	vault := addrOf(0xEE)

	if _, err := manager.OwnerOf(1); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("unminted token: got %v", err)
	}
	if err := manager.MintToken(1, alice); err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if err := manager.MintToken(1, bob); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("remint: got %v", err)
	}
	owner, err := manager.OwnerOf(1)
	if err != nil || owner != alice {
		t.Fatalf("OwnerOf = %x, %v", owner, err)
	}

	// No approval yet.
	ok, err := manager.IsApprovedFor(alice, vault, 1)
	if err != nil || ok {
		t.Fatalf("unapproved token reported approved")
	}

	// Per-token approval.
	if err := manager.ApproveToken(bob, vault, 1); !errors.Is(err, ErrNotTokenOwner) {
		t.Fatalf("non-owner approve: got %v", err)
	}
	if err := manager.ApproveToken(alice, vault, 1); err != nil {
		t.Fatalf("ApproveToken: %v", err)
	}
	ok, err = manager.IsApprovedFor(alice, vault, 1)
	if err != nil || !ok {
		t.Fatalf("approval not visible")
	}

	// Transfer clears the per-token approval.
	if err := manager.TransferToken(bob, alice, 1); !errors.Is(err, ErrNotTokenOwner) {
		t.Fatalf("transfer from non-holder: got %v", err)
	}
	if err := manager.TransferToken(alice, bob, 1); err != nil {
		t.Fatalf("TransferToken: %v", err)
	}
	owner, err = manager.OwnerOf(1)
	if err != nil || owner != bob {
		t.Fatalf("owner after transfer = %x, %v", owner, err)
	}
	ok, err = manager.IsApprovedFor(bob, vault, 1)
	if err != nil || ok {
		t.Fatalf("approval survived transfer")
	}
}

func TestApprovalForAll(t *testing.T) {
	manager := newTestManager(t)
	alice := addrOf(0x01)
	vault := addrOf(0xEE)

	if err := manager.MintToken(1, alice); err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if err := manager.MintToken(2, alice); err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if err := manager.SetApprovalForAll(alice, vault, true); err != nil {
		t.Fatalf("SetApprovalForAll: %v", err)
	}
	for _, tokenID := range []uint64{1, 2} {
		ok, err := manager.IsApprovedFor(alice, vault, tokenID)
		if err != nil || !ok {
			t.Fatalf("blanket approval missing on token %d", tokenID)
		}
	}
	if err := manager.SetApprovalForAll(alice, vault, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	ok, err := manager.IsApprovedFor(alice, vault, 1)
	if err != nil || ok {
		t.Fatalf("revoked approval still visible")
	}
}

func TestRoyaltyInfo(t *testing.T) {
	manager := newTestManager(t)
	recipient := addrOf(0x0C)

	// Unset config is a distinguishable lookup failure.
	if _, _, err := manager.RoyaltyInfo(1, big.NewInt(100)); !errors.Is(err, ErrNoRoyaltyConfig) {
		t.Fatalf("unset royalty: got %v", err)
	}

	if err := manager.SetRoyaltyConfig(recipient, 10_001); err == nil {
		t.Fatalf("bps above denominator accepted")
	}
	if err := manager.SetRoyaltyConfig(recipient, 500); err != nil {
		t.Fatalf("SetRoyaltyConfig: %v", err)
	}

	got, amount, err := manager.RoyaltyInfo(1, big.NewInt(200))
	if err != nil {
		t.Fatalf("RoyaltyInfo: %v", err)
	}
	if got != recipient {
		t.Fatalf("recipient = %x", got)
	}
	if amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("royalty on 200 at 5%% = %s, want 10", amount)
	}

	// Truncating division: no royalty below the denominator threshold.
	_, amount, err = manager.RoyaltyInfo(1, big.NewInt(19))
	if err != nil {
		t.Fatalf("RoyaltyInfo: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("royalty on 19 at 5%% = %s, want 0", amount)
	}
}

func TestSnapshotStores(t *testing.T) {
	manager := newTestManager(t)

	if _, ok, err := manager.MintStateGet(); err != nil || ok {
		t.Fatalf("empty mint snapshot: ok=%v err=%v", ok, err)
	}
	mintSnap := &mint.Snapshot{
		NextPendingID:   3,
		Queue:           []mint.PendingMint{{ID: 1, Requester: addrOf(0x01)}},
		Pool:            []uint64{4, 5, 6},
		Counters:        map[string]uint32{"1:aa": 2},
		TotalQueuedEver: 3,
	}
	if err := manager.MintStatePut(mintSnap); err != nil {
		t.Fatalf("MintStatePut: %v", err)
	}
	loaded, ok, err := manager.MintStateGet()
	if err != nil || !ok {
		t.Fatalf("MintStateGet: ok=%v err=%v", ok, err)
	}
	if loaded.NextPendingID != 3 || len(loaded.Queue) != 1 || len(loaded.Pool) != 3 {
		t.Fatalf("mint snapshot mangled: %+v", loaded)
	}

	marketSnap := &market.Snapshot{
		NextListingID: 2,
		Listings: []*market.Listing{{
			ID:      1,
			TokenID: 9,
			Owner:   addrOf(0x01),
			Kind:    market.ListingAuction,
			Reserve: big.NewInt(100),
			Buyout:  big.NewInt(0),
		}},
		Bids: []*market.WinningBid{{TokenID: 9, Bidder: addrOf(0x02), Price: big.NewInt(120)}},
	}
	if err := manager.MarketStatePut(marketSnap); err != nil {
		t.Fatalf("MarketStatePut: %v", err)
	}
	restored, ok, err := manager.MarketStateGet()
	if err != nil || !ok {
		t.Fatalf("MarketStateGet: ok=%v err=%v", ok, err)
	}
	if restored.NextListingID != 2 || len(restored.Listings) != 1 || len(restored.Bids) != 1 {
		t.Fatalf("market snapshot mangled: %+v", restored)
	}
	if restored.Listings[0].Reserve.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("listing amounts lost: %+v", restored.Listings[0])
	}
}

func TestParamStore(t *testing.T) {
	manager := newTestManager(t)

	if _, ok, err := manager.ParamStoreGet("mint/config"); err != nil || ok {
		t.Fatalf("unset param: ok=%v err=%v", ok, err)
	}
	if err := manager.ParamStoreSet("mint/config", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("ParamStoreSet: %v", err)
	}
	raw, ok, err := manager.ParamStoreGet("mint/config")
	if err != nil || !ok {
		t.Fatalf("ParamStoreGet: ok=%v err=%v", ok, err)
	}
	if string(raw) != `{"version":1}` {
		t.Fatalf("param payload = %q", raw)
	}
}
