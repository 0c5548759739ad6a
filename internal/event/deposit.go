package event

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// Deposit credits external collateral to an account.
// Idempotency key: transfer_id (UUID from the custody gateway).
type Deposit struct {
	TransferID uuid.UUID   `json:"transfer_id"` // Idempotency key
	Owner      uuid.UUID   `json:"owner"`
	Amount     fixmath.Wad `json:"amount"`
	Sequence   int64       `json:"sequence"`
}

func (d *Deposit) IdempotencyKey() string {
	return d.TransferID.String()
}

func (d *Deposit) CommandType() CommandType {
	return CommandTypeDeposit
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

// DepositAndSetBroker composes a first-touch deposit with an immediate
// broker delegation.
type DepositAndSetBroker struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	Owner      uuid.UUID   `json:"owner"`
	Broker     uuid.UUID   `json:"broker"`
	Amount     fixmath.Wad `json:"amount"`
	Sequence   int64       `json:"sequence"`
}

func (d *DepositAndSetBroker) IdempotencyKey() string {
	return d.TransferID.String()
}

func (d *DepositAndSetBroker) CommandType() CommandType {
	return CommandTypeDepositAndSetBroker
}

func (d *DepositAndSetBroker) SourceSequence() int64 {
	return d.Sequence
}

// TransferCash moves collateral between two ledger accounts.
type TransferCash struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	Caller     uuid.UUID   `json:"caller"`
	From       uuid.UUID   `json:"from"`
	To         uuid.UUID   `json:"to"`
	Amount     fixmath.Wad `json:"amount"`
	Sequence   int64       `json:"sequence"`
}

func (t *TransferCash) IdempotencyKey() string {
	return t.TransferID.String()
}

func (t *TransferCash) CommandType() CommandType {
	return CommandTypeTransferCash
}

func (t *TransferCash) SourceSequence() int64 {
	return t.Sequence
}
