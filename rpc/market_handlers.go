package rpc

import (
	"encoding/json"
	"errors"

	"bazaarchain/crypto"
	"bazaarchain/native/market"
	"bazaarchain/observability/metrics"
)

type listingView struct {
	ListingID uint64 `json:"listingId"`
	TokenID   uint64 `json:"tokenId"`
	Owner     string `json:"owner"`
	Kind      string `json:"kind"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Reserve   string `json:"reserve"`
	Buyout    string `json:"buyout"`
}

func viewListing(l *market.Listing) listingView {
	return listingView{
		ListingID: l.ID,
		TokenID:   l.TokenID,
		Owner:     crypto.MustNewAddress(crypto.BZRPrefix, l.Owner[:]).String(),
		Kind:      l.Kind.String(),
		StartTime: l.StartTime,
		EndTime:   l.EndTime,
		Reserve:   l.Reserve.String(),
		Buyout:    l.Buyout.String(),
	}
}

type createListingParams struct {
	Owner     string `json:"owner"`
	TokenID   uint64 `json:"tokenId"`
	Kind      string `json:"kind"`
	Reserve   string `json:"reserve"`
	Buyout    string `json:"buyout"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

func (s *Server) handleCreateListing(params []json.RawMessage) (interface{}, *rpcError) {
	var p createListingParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddress(p.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	reserve, rpcErr := parseAmount(p.Reserve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyout, rpcErr := parseAmount(p.Buyout)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var kind market.ListingKind
	switch p.Kind {
	case "direct":
		kind = market.ListingDirect
	case "auction":
		kind = market.ListingAuction
	default:
		return nil, &rpcError{Code: codeInvalidParams, Message: "kind must be direct or auction"}
	}
	listing, err := s.market.CreateListing(owner, p.TokenID, kind, reserve, buyout, p.StartTime, p.Duration)
	if err != nil {
		return nil, engineError(err)
	}
	return viewListing(listing), nil
}

type updateListingParams struct {
	Caller    string `json:"caller"`
	TokenID   uint64 `json:"tokenId"`
	Reserve   string `json:"reserve"`
	Buyout    string `json:"buyout"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
}

func (s *Server) handleUpdateListing(params []json.RawMessage) (interface{}, *rpcError) {
	var p updateListingParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	reserve, rpcErr := parseOptionalAmount(p.Reserve)
	if rpcErr != nil {
		return nil, rpcErr
	}
	buyout, rpcErr := parseOptionalAmount(p.Buyout)
	if rpcErr != nil {
		return nil, rpcErr
	}
	listing, err := s.market.UpdateListing(caller, p.TokenID, reserve, buyout, p.StartTime, p.Duration)
	if err != nil {
		return nil, engineError(err)
	}
	return viewListing(listing), nil
}

type tokenCallerParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
}

func (s *Server) handleRemoveListing(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenCallerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.RemoveListing(caller, p.TokenID); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"removed": true}, nil
}

type buyParams struct {
	Buyer   string `json:"buyer"`
	TokenID uint64 `json:"tokenId"`
	Payment string `json:"payment"`
}

func (s *Server) handleBuy(params []json.RawMessage) (interface{}, *rpcError) {
	var p buyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	buyer, rpcErr := parseAddress(p.Buyer)
	if rpcErr != nil {
		return nil, rpcErr
	}
	payment, rpcErr := parseAmount(p.Payment)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.Buy(buyer, p.TokenID, payment); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"sold": true}, nil
}

type offerParams struct {
	Offeror string `json:"offeror"`
	TokenID uint64 `json:"tokenId"`
	Price   string `json:"price"`
}

func (s *Server) handleMakeOffer(params []json.RawMessage) (interface{}, *rpcError) {
	var p offerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	offeror, rpcErr := parseAddress(p.Offeror)
	if rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount(p.Price)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.MakeOffer(offeror, p.TokenID, price); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"placed": true}, nil
}

type acceptOfferParams struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"tokenId"`
	Offeror string `json:"offeror"`
}

func (s *Server) handleAcceptOffer(params []json.RawMessage) (interface{}, *rpcError) {
	var p acceptOfferParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	offeror, rpcErr := parseAddress(p.Offeror)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.AcceptOffer(caller, p.TokenID, offeror); err != nil {
		return nil, engineError(err)
	}
	// The accepted offer settles via a sale event; the pending-offer gauge
	// still needs its decrement here.
	metrics.Market().OfferClosed()
	return map[string]bool{"accepted": true}, nil
}

func (s *Server) handleCancelOffer(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenCallerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.CancelOffer(caller, p.TokenID); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"cancelled": true}, nil
}

type bidParams struct {
	Bidder  string `json:"bidder"`
	TokenID uint64 `json:"tokenId"`
	Price   string `json:"price"`
}

func (s *Server) handlePlaceBid(params []json.RawMessage) (interface{}, *rpcError) {
	var p bidParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	bidder, rpcErr := parseAddress(p.Bidder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	price, rpcErr := parseAmount(p.Price)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.PlaceBid(bidder, p.TokenID, price); err != nil {
		if errors.Is(err, market.ErrNotWinningBid) {
			metrics.Market().BidRejected()
		}
		return nil, engineError(err)
	}
	return map[string]bool{"winning": true}, nil
}

func (s *Server) handleCloseAuction(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenCallerParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := parseAddress(p.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.market.CloseAuction(caller, p.TokenID); err != nil {
		return nil, engineError(err)
	}
	return map[string]bool{"closed": true}, nil
}

type getListingParams struct {
	TokenID   uint64 `json:"tokenId"`
	ListingID uint64 `json:"listingId"`
}

func (s *Server) handleGetListing(params []json.RawMessage) (interface{}, *rpcError) {
	var p getListingParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	var (
		listing *market.Listing
		ok      bool
	)
	if p.ListingID != 0 {
		listing, ok = s.market.ListingByID(p.ListingID)
	} else {
		listing, ok = s.market.ListingByToken(p.TokenID)
	}
	if !ok {
		return nil, &rpcError{Code: codeServerError, Message: market.ErrListingNotFound.Error()}
	}
	return viewListing(listing), nil
}

func (s *Server) handleListings() (interface{}, *rpcError) {
	all := s.market.Listings()
	out := make([]listingView, 0, len(all))
	for _, l := range all {
		out = append(out, viewListing(l))
	}
	return out, nil
}
