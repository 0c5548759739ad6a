package event

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// ApplyWithdrawal earmarks cash behind the withdrawal timelock.
// Idempotency key: request_id.
type ApplyWithdrawal struct {
	RequestID uuid.UUID   `json:"request_id"` // Idempotency key
	Caller    uuid.UUID   `json:"caller"`
	Owner     uuid.UUID   `json:"owner"`
	Amount    fixmath.Wad `json:"amount"`
	Sequence  int64       `json:"sequence"`
}

func (a *ApplyWithdrawal) IdempotencyKey() string {
	return a.RequestID.String()
}

func (a *ApplyWithdrawal) CommandType() CommandType {
	return CommandTypeApplyWithdrawal
}

func (a *ApplyWithdrawal) SourceSequence() int64 {
	return a.Sequence
}

// Withdraw executes a previously applied withdrawal once unlocked.
type Withdraw struct {
	RequestID uuid.UUID   `json:"request_id"`
	Caller    uuid.UUID   `json:"caller"`
	Owner     uuid.UUID   `json:"owner"`
	Amount    fixmath.Wad `json:"amount"`
	Sequence  int64       `json:"sequence"`
}

func (w *Withdraw) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *Withdraw) CommandType() CommandType {
	return CommandTypeWithdraw
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}

// SetBroker delegates trading authority, behind the broker timelock for
// existing accounts.
type SetBroker struct {
	RequestID uuid.UUID `json:"request_id"`
	Owner     uuid.UUID `json:"owner"`
	Broker    uuid.UUID `json:"broker"`
	Sequence  int64     `json:"sequence"`
}

func (s *SetBroker) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *SetBroker) CommandType() CommandType {
	return CommandTypeSetBroker
}

func (s *SetBroker) SourceSequence() int64 {
	return s.Sequence
}
