package event

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// SetParameter updates one numeric governance value by key.
// Idempotency key: change_id.
type SetParameter struct {
	ChangeID uuid.UUID   `json:"change_id"` // Idempotency key
	Caller   uuid.UUID   `json:"caller"`
	Key      string      `json:"key"`
	Value    fixmath.Wad `json:"value"`
	Sequence int64       `json:"sequence"`
}

func (s *SetParameter) IdempotencyKey() string {
	return s.ChangeID.String()
}

func (s *SetParameter) CommandType() CommandType {
	return CommandTypeSetParameter
}

func (s *SetParameter) SourceSequence() int64 {
	return s.Sequence
}

// SetDevAccount points fee credit at a new dev identity.
type SetDevAccount struct {
	ChangeID uuid.UUID `json:"change_id"`
	Caller   uuid.UUID `json:"caller"`
	Dev      uuid.UUID `json:"dev"`
	Sequence int64     `json:"sequence"`
}

func (s *SetDevAccount) IdempotencyKey() string {
	return s.ChangeID.String()
}

func (s *SetDevAccount) CommandType() CommandType {
	return CommandTypeSetDevAccount
}

func (s *SetDevAccount) SourceSequence() int64 {
	return s.Sequence
}

// InsuranceDeposit credits the insurance fund from the admin.
type InsuranceDeposit struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	Caller     uuid.UUID   `json:"caller"`
	Amount     fixmath.Wad `json:"amount"`
	Sequence   int64       `json:"sequence"`
}

func (i *InsuranceDeposit) IdempotencyKey() string {
	return i.TransferID.String()
}

func (i *InsuranceDeposit) CommandType() CommandType {
	return CommandTypeInsuranceDeposit
}

func (i *InsuranceDeposit) SourceSequence() int64 {
	return i.Sequence
}

// InsuranceWithdraw moves part of the insurance fund back to custody.
type InsuranceWithdraw struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	Caller     uuid.UUID   `json:"caller"`
	Amount     fixmath.Wad `json:"amount"`
	Sequence   int64       `json:"sequence"`
}

func (i *InsuranceWithdraw) IdempotencyKey() string {
	return i.TransferID.String()
}

func (i *InsuranceWithdraw) CommandType() CommandType {
	return CommandTypeInsuranceWithdraw
}

func (i *InsuranceWithdraw) SourceSequence() int64 {
	return i.Sequence
}
