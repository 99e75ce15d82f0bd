package market

// offerLedger tracks pending direct-sale offers keyed (token, offeror) and
// the single winning bid per auction token. Amounts recorded here are always
// mirrored by currency held in the market vault.
type offerLedger struct {
	offers map[uint64]map[[20]byte]*Offer
	bids   map[uint64]*WinningBid
}

func newOfferLedger() *offerLedger {
	return &offerLedger{
		offers: make(map[uint64]map[[20]byte]*Offer),
		bids:   make(map[uint64]*WinningBid),
	}
}

func (l *offerLedger) offer(tokenID uint64, offeror [20]byte) (*Offer, bool) {
	byOfferor, ok := l.offers[tokenID]
	if !ok {
		return nil, false
	}
	offer, ok := byOfferor[offeror]
	if !ok {
		return nil, false
	}
	return offer.Clone(), true
}

func (l *offerLedger) putOffer(offer *Offer) {
	byOfferor, ok := l.offers[offer.TokenID]
	if !ok {
		byOfferor = make(map[[20]byte]*Offer)
		l.offers[offer.TokenID] = byOfferor
	}
	byOfferor[offer.Offeror] = offer.Clone()
}

func (l *offerLedger) deleteOffer(tokenID uint64, offeror [20]byte) {
	byOfferor, ok := l.offers[tokenID]
	if !ok {
		return
	}
	delete(byOfferor, offeror)
	if len(byOfferor) == 0 {
		delete(l.offers, tokenID)
	}
}

// offersFor returns all pending offers for a token, in unspecified order.
func (l *offerLedger) offersFor(tokenID uint64) []*Offer {
	byOfferor := l.offers[tokenID]
	out := make([]*Offer, 0, len(byOfferor))
	for _, offer := range byOfferor {
		out = append(out, offer.Clone())
	}
	return out
}

func (l *offerLedger) bid(tokenID uint64) (*WinningBid, bool) {
	bid, ok := l.bids[tokenID]
	if !ok {
		return nil, false
	}
	return bid.Clone(), true
}

func (l *offerLedger) putBid(bid *WinningBid) {
	l.bids[bid.TokenID] = bid.Clone()
}

func (l *offerLedger) deleteBid(tokenID uint64) {
	delete(l.bids, tokenID)
}

func (l *offerLedger) snapshot() ([]*Offer, []*WinningBid) {
	offers := make([]*Offer, 0)
	for _, byOfferor := range l.offers {
		for _, offer := range byOfferor {
			offers = append(offers, offer.Clone())
		}
	}
	bids := make([]*WinningBid, 0, len(l.bids))
	for _, bid := range l.bids {
		bids = append(bids, bid.Clone())
	}
	return offers, bids
}

func (l *offerLedger) restore(offers []*Offer, bids []*WinningBid) {
	l.offers = make(map[uint64]map[[20]byte]*Offer)
	l.bids = make(map[uint64]*WinningBid)
	for _, offer := range offers {
		if offer != nil {
			l.putOffer(offer)
		}
	}
	for _, bid := range bids {
		if bid != nil {
			l.putBid(bid)
		}
	}
}
