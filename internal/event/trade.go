package event

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Trade is a matched two-party fill from the matching engine: the taker
// takes Side, the maker takes the counter-side, atomically.
// Idempotency key: fill_id (UUID from matching engine).
type Trade struct {
	FillID       uuid.UUID   `json:"fill_id"`      // Idempotency key
	TakerCaller  uuid.UUID   `json:"taker_caller"` // owner or active broker
	Taker        uuid.UUID   `json:"taker"`
	MakerCaller  uuid.UUID   `json:"maker_caller"`
	Maker        uuid.UUID   `json:"maker"`
	Side         Side        `json:"side"` // taker's side
	Price        fixmath.Wad `json:"price"`
	Amount       fixmath.Wad `json:"amount"`
	FillSequence int64       `json:"fill_sequence"`
}

func (t *Trade) IdempotencyKey() string {
	return t.FillID.String()
}

func (t *Trade) CommandType() CommandType {
	return CommandTypeTrade
}

func (t *Trade) SourceSequence() int64 {
	return t.FillSequence
}
