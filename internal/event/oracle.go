package event

import (
	"fmt"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// MarkPriceUpdate carries the oracle mark price. Feed updates flow
// through the command loop so every operation prices deterministically.
type MarkPriceUpdate struct {
	Price    fixmath.Wad `json:"price"`
	Sequence int64       `json:"sequence"`
}

func (m *MarkPriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("mark:%d", m.Sequence)
}

func (m *MarkPriceUpdate) CommandType() CommandType {
	return CommandTypeMarkPriceUpdate
}

func (m *MarkPriceUpdate) SourceSequence() int64 {
	return m.Sequence
}

// FundingIndexUpdate carries the cumulative funding-loss index from the
// funding oracle. The ledger ratchets, never lowers.
type FundingIndexUpdate struct {
	Index    fixmath.Wad `json:"index"`
	Sequence int64       `json:"sequence"`
}

func (f *FundingIndexUpdate) IdempotencyKey() string {
	return fmt.Sprintf("funding:%d", f.Sequence)
}

func (f *FundingIndexUpdate) CommandType() CommandType {
	return CommandTypeFundingIndexUpdate
}

func (f *FundingIndexUpdate) SourceSequence() int64 {
	return f.Sequence
}
