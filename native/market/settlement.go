package market

import (
	"fmt"
	"math/big"

	"bazaarchain/core/events"
)

// send moves currency between ledger accounts. Zero-amount sends are no-ops;
// an insufficient balance on the sender is a precondition failure, any state
// backend failure is fatal for the call.
func (e *Engine) send(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	sender, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	sender = sender.EnsureBalances()
	if sender.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	if err := e.state.PutAccount(from[:], sender); err != nil {
		return err
	}
	recipient, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	recipient = recipient.EnsureBalances()
	recipient.Balance = new(big.Int).Add(recipient.Balance, amount)
	return e.state.PutAccount(to[:], recipient)
}

// payout splits a sale amount held in the vault between the royalty recipient
// and the listing owner. A failing royalty lookup is tolerated as zero
// royalty; a royalty amount exceeding the sale price is an invariant
// violation and aborts the call. Returns the royalty actually paid.
func (e *Engine) payout(listing *Listing, amount *big.Int) (*big.Int, error) {
	vault, err := e.state.MarketVault()
	if err != nil {
		return nil, err
	}
	royalty := big.NewInt(0)
	recipient, royaltyAmount, err := e.state.RoyaltyInfo(listing.TokenID, amount)
	if err == nil && royaltyAmount != nil && royaltyAmount.Sign() > 0 {
		if royaltyAmount.Cmp(amount) > 0 {
			return nil, fmt.Errorf("%w: royalty %s on price %s", ErrRoyaltyExceedsPrice, royaltyAmount, amount)
		}
		if err := e.send(vault, recipient, royaltyAmount); err != nil {
			return nil, err
		}
		royalty = new(big.Int).Set(royaltyAmount)
	}
	remainder := new(big.Int).Sub(amount, royalty)
	if err := e.send(vault, listing.Owner, remainder); err != nil {
		return nil, err
	}
	return royalty, nil
}

// executeSale settles a direct listing whose funds are already held in the
// vault: re-validate the listing against stale state, pay out, move custody
// to the buyer, then drop the listing. Payout strictly precedes the custody
// transfer.
func (e *Engine) executeSale(listing *Listing, buyer [20]byte, price *big.Int) error {
	current, ok := e.registry.ByToken(listing.TokenID)
	if !ok || current.ID != listing.ID {
		return ErrListingNotFound
	}
	if current.Kind != ListingDirect {
		return ErrWrongKind
	}
	if e.now() <= current.StartTime {
		return ErrListingInactive
	}
	if err := e.verifyCustody(current.Owner, current.TokenID); err != nil {
		return err
	}

	royalty, err := e.payout(current, price)
	if err != nil {
		return err
	}
	if err := e.state.TransferToken(current.Owner, buyer, current.TokenID); err != nil {
		return err
	}
	if _, err := e.registry.Remove(current.TokenID); err != nil {
		return err
	}
	if err := e.persist(); err != nil {
		return err
	}
	e.emit(events.SaleExecuted{
		ListingID: current.ID,
		TokenID:   current.TokenID,
		Seller:    current.Owner,
		Buyer:     buyer,
		Price:     price,
		Royalty:   royalty,
	}.Event())
	return nil
}

// settleAuction pays out the winning amount held in the vault, hands the
// escrowed token to the winner and removes the listing and bid record. Used
// both by the operator close path and the immediate buyout path.
func (e *Engine) settleAuction(listing *Listing, winner [20]byte, price *big.Int) error {
	royalty, err := e.payout(listing, price)
	if err != nil {
		return err
	}
	vault, err := e.state.MarketVault()
	if err != nil {
		return err
	}
	if err := e.state.TransferToken(vault, winner, listing.TokenID); err != nil {
		return err
	}
	if _, err := e.registry.Remove(listing.TokenID); err != nil {
		return err
	}
	e.ledger.deleteBid(listing.TokenID)
	e.emit(events.SaleExecuted{
		ListingID: listing.ID,
		TokenID:   listing.TokenID,
		Seller:    listing.Owner,
		Buyer:     winner,
		Price:     price,
		Royalty:   royalty,
	}.Event())
	e.emit(events.AuctionClosed{
		ListingID: listing.ID,
		TokenID:   listing.TokenID,
		Outcome:   "settled",
		Winner:    winner,
		Price:     price,
	}.Event())
	return nil
}
