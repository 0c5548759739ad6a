package core

import (
	"fmt"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// InvariantValidator checks the book-level invariants that must hold at
// the boundary of every operation. The processor runs it after each
// applied command; tests run it between steps.
type InvariantValidator struct {
	ledger *state.Ledger
}

func NewInvariantValidator(l *state.Ledger) *InvariantValidator {
	return &InvariantValidator{ledger: l}
}

// ValidateOpenInterest verifies long and short open interest match and
// nothing is booked against the flat side. Once the book is settled the
// two sides unwind independently (each Settle flattens one account at a
// time), so only the non-negativity checks remain binding.
func (v *InvariantValidator) ValidateOpenInterest() error {
	long := v.ledger.TotalSize(event.SideLong)
	short := v.ledger.TotalSize(event.SideShort)
	if v.ledger.Status() != state.StatusSettled && !long.Equal(short) {
		return fmt.Errorf("open interest mismatch: long=%s short=%s", long, short)
	}
	if long.IsNegative() || short.IsNegative() {
		return fmt.Errorf("negative open interest: long=%s short=%s", long, short)
	}
	if !v.ledger.TotalSize(event.SideFlat).IsZero() {
		return fmt.Errorf("flat open interest is non-zero: %s", v.ledger.TotalSize(event.SideFlat))
	}
	return nil
}

// ValidatePositions verifies per-account position consistency:
// size == 0 iff flat iff zero entry value, and sizes never negative.
func (v *InvariantValidator) ValidatePositions() error {
	for _, owner := range v.ledger.Directory() {
		acct := v.ledger.Account(owner)
		pos := acct.Position
		if pos.Size.IsNegative() {
			return fmt.Errorf("account %s has negative size %s", owner, pos.Size)
		}
		flat := pos.Side == event.SideFlat
		if flat != pos.Size.IsZero() || flat != pos.EntryValue.IsZero() {
			return fmt.Errorf("account %s inconsistent position: side=%s size=%s entryValue=%s",
				owner, pos.Side, pos.Size, pos.EntryValue)
		}
	}
	return nil
}

// ValidateFundNonNegative verifies the insurance fund never goes negative.
func (v *InvariantValidator) ValidateFundNonNegative() error {
	if v.ledger.InsuranceFund().IsNegative() {
		return fmt.Errorf("insurance fund is negative: %s", v.ledger.InsuranceFund())
	}
	return nil
}

// TotalCash sums every cash balance plus the insurance fund. Deposits
// and withdrawals move it — and so does a trade whenever a closing leg
// realizes pnl while the counterparty still carries its side unrealized.
// BookValue is the quantity trades conserve.
func (v *InvariantValidator) TotalCash() fixmath.Wad {
	total := v.ledger.InsuranceFund()
	for _, owner := range v.ledger.Directory() {
		total = total.Add(v.ledger.Account(owner).CashBalance)
	}
	return total
}

// BookValue is TotalCash plus the aggregate unrealized pnl. With a
// matched book the pnl sum telescopes to short entry value minus long
// entry value, independent of the mark price, so every trade (open,
// close, or flip, at any price, fees included) redistributes BookValue
// without moving it. Holds while the loss accumulators are static;
// socialization and funding charge positions without a cash counterleg.
func (v *InvariantValidator) BookValue() fixmath.Wad {
	total := v.TotalCash()
	for _, owner := range v.ledger.Directory() {
		pos := v.ledger.Account(owner).Position
		switch pos.Side {
		case event.SideLong:
			total = total.Sub(pos.EntryValue)
		case event.SideShort:
			total = total.Add(pos.EntryValue)
		}
	}
	return total
}

// ValidateAll runs every structural invariant.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateOpenInterest(); err != nil {
		return err
	}
	if err := v.ValidatePositions(); err != nil {
		return err
	}
	return v.ValidateFundNonNegative()
}
