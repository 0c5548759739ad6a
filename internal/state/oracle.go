package state

import (
	"sync"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// PriceFeed is the external mark-price / funding-index oracle. Both
// reads are polled at the start of any margin evaluation; the ledger
// never computes either value itself.
type PriceFeed interface {
	MarkPrice() fixmath.Wad
	// FundingIndex is the cumulative per-contract funding accumulator.
	// The ledger ratchets its own copy to the maximum seen, so a feed
	// that briefly regresses cannot un-charge funding.
	FundingIndex() fixmath.Wad
}

// FeedState is a PriceFeed fed externally (mark-price stream, tests).
// Safe for concurrent writers.
type FeedState struct {
	mu      sync.RWMutex
	mark    fixmath.Wad
	funding fixmath.Wad
}

func NewFeedState(mark fixmath.Wad) *FeedState {
	return &FeedState{mark: mark}
}

func (f *FeedState) MarkPrice() fixmath.Wad {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mark
}

func (f *FeedState) FundingIndex() fixmath.Wad {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.funding
}

func (f *FeedState) SetMarkPrice(p fixmath.Wad) {
	f.mu.Lock()
	f.mark = p
	f.mu.Unlock()
}

func (f *FeedState) SetFundingIndex(i fixmath.Wad) {
	f.mu.Lock()
	f.funding = i
	f.mu.Unlock()
}
