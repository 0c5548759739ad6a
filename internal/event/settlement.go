package event

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// BeginSettlement freezes trading against a settlement price.
// Re-invocable while settling to revise the price.
type BeginSettlement struct {
	ChangeID uuid.UUID   `json:"change_id"` // Idempotency key
	Caller   uuid.UUID   `json:"caller"`
	Price    fixmath.Wad `json:"price"`
	Sequence int64       `json:"sequence"`
}

func (b *BeginSettlement) IdempotencyKey() string {
	return b.ChangeID.String()
}

func (b *BeginSettlement) CommandType() CommandType {
	return CommandTypeBeginSettlement
}

func (b *BeginSettlement) SourceSequence() int64 {
	return b.Sequence
}

// EndSettlement finalizes the settlement price.
type EndSettlement struct {
	ChangeID uuid.UUID `json:"change_id"`
	Caller   uuid.UUID `json:"caller"`
	Sequence int64     `json:"sequence"`
}

func (e *EndSettlement) IdempotencyKey() string {
	return e.ChangeID.String()
}

func (e *EndSettlement) CommandType() CommandType {
	return CommandTypeEndSettlement
}

func (e *EndSettlement) SourceSequence() int64 {
	return e.Sequence
}

// Settle pays one account out at the settlement price. Settle itself is
// idempotent in the engine; the key still dedups redelivery.
type Settle struct {
	Owner    uuid.UUID `json:"owner"`
	Sequence int64     `json:"sequence"`
}

func (s *Settle) IdempotencyKey() string {
	return fmt.Sprintf("settle:%s:%d", s.Owner, s.Sequence)
}

func (s *Settle) CommandType() CommandType {
	return CommandTypeSettle
}

func (s *Settle) SourceSequence() int64 {
	return s.Sequence
}
