package market

import (
	"errors"
	"fmt"
)

var (
	// ErrListingExists rejects a second active listing for a token.
	ErrListingExists = errors.New("market: token already has an active listing")
	// ErrListingNotFound is returned when neither index resolves the key.
	ErrListingNotFound = errors.New("market: listing not found")
)

// Registry stores active listings in a dense slice with two index maps, one
// keyed by listing id and one by token identity. Both lookups and removal are
// O(1); removal swaps the last element into the vacated slot and re-points
// both maps together so they can never disagree.
type Registry struct {
	entries []*Listing
	byID    map[uint64]int
	byToken map[uint64]int
	nextID  uint64
}

// NewRegistry returns an empty listing registry. Listing ids start at 1.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[uint64]int),
		byToken: make(map[uint64]int),
		nextID:  1,
	}
}

// Add assigns the next listing id, stores a deep copy and returns it. At most
// one active listing may exist per token identity.
func (r *Registry) Add(listing *Listing) (*Listing, error) {
	if listing == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	if _, ok := r.byToken[listing.TokenID]; ok {
		return nil, ErrListingExists
	}
	stored := listing.Clone()
	stored.ID = r.nextID
	r.nextID++
	slot := len(r.entries)
	r.entries = append(r.entries, stored)
	r.byID[stored.ID] = slot
	r.byToken[stored.TokenID] = slot
	return stored.Clone(), nil
}

// ByID resolves a listing by its stable id.
func (r *Registry) ByID(listingID uint64) (*Listing, bool) {
	slot, ok := r.byID[listingID]
	if !ok {
		return nil, false
	}
	return r.entries[slot].Clone(), true
}

// ByToken resolves the active listing for a token identity.
func (r *Registry) ByToken(tokenID uint64) (*Listing, bool) {
	slot, ok := r.byToken[tokenID]
	if !ok {
		return nil, false
	}
	return r.entries[slot].Clone(), true
}

// Update replaces the stored listing in place. The id and token identity must
// match an existing entry.
func (r *Registry) Update(listing *Listing) error {
	if listing == nil {
		return fmt.Errorf("market: nil listing")
	}
	slot, ok := r.byID[listing.ID]
	if !ok || r.entries[slot].TokenID != listing.TokenID {
		return ErrListingNotFound
	}
	r.entries[slot] = listing.Clone()
	return nil
}

// Remove deletes the listing for a token identity via swap-remove, keeping
// both index maps consistent, and returns the removed listing.
func (r *Registry) Remove(tokenID uint64) (*Listing, error) {
	slot, ok := r.byToken[tokenID]
	if !ok {
		return nil, ErrListingNotFound
	}
	removed := r.entries[slot]
	last := len(r.entries) - 1
	if slot != last {
		moved := r.entries[last]
		r.entries[slot] = moved
		r.byID[moved.ID] = slot
		r.byToken[moved.TokenID] = slot
	}
	r.entries[last] = nil
	r.entries = r.entries[:last]
	delete(r.byID, removed.ID)
	delete(r.byToken, removed.TokenID)
	return removed, nil
}

// Len reports the number of active listings.
func (r *Registry) Len() int { return len(r.entries) }

// All returns a copy of every active listing, in storage order.
func (r *Registry) All() []*Listing {
	out := make([]*Listing, 0, len(r.entries))
	for _, l := range r.entries {
		out = append(out, l.Clone())
	}
	return out
}

// restore rebuilds the dense storage and both indexes from a snapshot.
func (r *Registry) restore(nextID uint64, listings []*Listing) {
	r.entries = r.entries[:0]
	r.byID = make(map[uint64]int, len(listings))
	r.byToken = make(map[uint64]int, len(listings))
	for _, l := range listings {
		if l == nil {
			continue
		}
		slot := len(r.entries)
		r.entries = append(r.entries, l.Clone())
		r.byID[l.ID] = slot
		r.byToken[l.TokenID] = slot
	}
	if nextID < 1 {
		nextID = 1
	}
	r.nextID = nextID
}
