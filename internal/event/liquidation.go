package event

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Liquidate asks the engine to take over part of an unsafe target
// position. MaxAmount is a ceiling; the engine may fill less.
// Idempotency key: liquidation_id.
type Liquidate struct {
	LiquidationID uuid.UUID   `json:"liquidation_id"` // Idempotency key
	Liquidator    uuid.UUID   `json:"liquidator"`
	Target        uuid.UUID   `json:"target"`
	MaxAmount     fixmath.Wad `json:"max_amount"`
	Sequence      int64       `json:"sequence"`
}

func (l *Liquidate) IdempotencyKey() string {
	return l.LiquidationID.String()
}

func (l *Liquidate) CommandType() CommandType {
	return CommandTypeLiquidate
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}
