package core

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// BeginGlobalSettlement freezes trading against a settlement price.
// Legal from Normal, and again from Settling to revise the price while
// the final reference is being confirmed. Never legal once settled.
func (e *Engine) BeginGlobalSettlement(caller uuid.UUID, price fixmath.Wad) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.ledger.Status() == state.StatusSettled {
		return ErrAlreadySettled
	}
	e.ledger.SetStatus(state.StatusSettling, price)
	e.log.Warn().Str("price", price.String()).Msg("global settlement begun")
	e.observeApplied("begin_settlement")
	return nil
}

// EndGlobalSettlement finalizes the settlement price. From here on
// trading, liquidation, deposits, and withdrawal application are all
// disabled; accounts exit through Settle.
func (e *Engine) EndGlobalSettlement(caller uuid.UUID) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if e.ledger.Status() != state.StatusSettling {
		return ErrWrongStatus
	}
	e.ledger.SetStatus(state.StatusSettled, e.ledger.SettlementPrice())
	e.log.Warn().Str("price", e.ledger.SettlementPrice().String()).Msg("global settlement ended")
	e.observeApplied("end_settlement")
	return nil
}

// Settle pays an account out at the settlement price: margin balance is
// computed through the normal pnl path (accumulators applied as usual),
// the position is zeroed, and the entire remaining cash is pushed to
// custody. Idempotent: a settled account is flat with zero cash, and a
// second call is a no-op.
func (e *Engine) Settle(owner uuid.UUID) error {
	if e.ledger.Status() != state.StatusSettled {
		return ErrWrongStatus
	}
	acct := e.ledger.Account(owner)
	if acct == nil {
		return ErrUnknownAccount
	}

	err := e.atomic([]uuid.UUID{owner}, func() error {
		price := e.ledger.SettlementPrice()
		if !acct.Position.IsFlat() {
			balance := marginBalance(e.ledger, acct, price)
			e.ledger.AddTotalSize(acct.Position.Side, acct.Position.Size.Neg())
			acct.Position = state.Position{}
			acct.CashBalance = balance
		}

		payout := fixmath.Max(acct.CashBalance, fixmath.Zero())
		acct.CashBalance = fixmath.Zero()
		acct.AppliedBalance = fixmath.Zero()
		if payout.IsPositive() {
			if err := e.custody.PushOut(owner, payout); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.observeRejected("settle")
		return err
	}
	e.observeApplied("settle")
	return nil
}
