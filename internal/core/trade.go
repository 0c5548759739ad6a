package core

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// openSlice adds exposure on side at price, capturing accumulator
// baselines for the new slice so it only absorbs growth from here on.
func (e *Engine) openSlice(a *state.Account, side event.Side, price, amount fixmath.Wad) {
	if a.Position.IsFlat() {
		a.Position.Side = side
	}
	a.Position.Size = a.Position.Size.Add(amount)
	a.Position.EntryValue = a.Position.EntryValue.Add(price.Mul(amount))
	a.Position.EntrySocialLoss = a.Position.EntrySocialLoss.Add(
		e.ledger.SocialLossPerContract(side).Mul(amount))
	a.Position.EntryFundingLoss = a.Position.EntryFundingLoss.Add(
		e.ledger.FundingLossPerContract().Mul(amount))
	e.ledger.AddTotalSize(side, amount)
}

// closeSlice removes amount (<= size) of the held position at price,
// realizing the gain/loss on the slice into cash and consuming the
// slice's pro-rata entry baselines.
func (e *Engine) closeSlice(a *state.Account, price, amount fixmath.Wad) {
	side := a.Position.Side
	size := a.Position.Size

	entrySlice := a.Position.EntryValue.Frac(amount, size)
	socialSlice := a.Position.EntrySocialLoss.Frac(amount, size)
	fundingSlice := a.Position.EntryFundingLoss.Frac(amount, size)

	value := price.Mul(amount)
	var gross fixmath.Wad
	if side == event.SideLong {
		gross = value.Sub(entrySlice)
	} else {
		gross = entrySlice.Sub(value)
	}
	realizedSocial := e.ledger.SocialLossPerContract(side).Mul(amount).Sub(socialSlice)
	realizedFunding := e.ledger.FundingLossPerContract().Mul(amount).Sub(fundingSlice)

	a.CashBalance = a.CashBalance.Add(gross).Sub(realizedSocial).Sub(realizedFunding)
	a.Position.EntryValue = a.Position.EntryValue.Sub(entrySlice)
	a.Position.EntrySocialLoss = a.Position.EntrySocialLoss.Sub(socialSlice)
	a.Position.EntryFundingLoss = a.Position.EntryFundingLoss.Sub(fundingSlice)
	a.Position.Size = a.Position.Size.Sub(amount)
	e.ledger.AddTotalSize(side, amount.Neg())

	if a.Position.Size.IsZero() {
		a.Position = state.Position{}
	}
}

// applyFill resolves one leg of a fill against the held position:
// opening/increasing on the same side, closing against the opposite
// side, and flipping when the fill over-closes. Returns the amount of
// fresh exposure opened (zero for a pure de-risking fill).
func (e *Engine) applyFill(a *state.Account, side event.Side, price, amount fixmath.Wad) fixmath.Wad {
	if a.Position.IsFlat() || a.Position.Side == side {
		e.openSlice(a, side, price, amount)
		return amount
	}

	closeAmt := fixmath.Min(amount, a.Position.Size)
	e.closeSlice(a, price, closeAmt)

	opened := amount.Sub(closeAmt)
	if opened.IsPositive() {
		e.openSlice(a, side, price, opened)
	}
	return opened
}

// TradePosition settles a point-to-point fill already agreed at price
// and amount: the taker takes takerSide, the maker the opposite, both
// legs plus the fee legs in one atomic operation. Either caller may be
// the account owner or its active broker.
func (e *Engine) TradePosition(takerCaller, taker, makerCaller, maker uuid.UUID, takerSide event.Side, price, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if taker == maker {
		return ErrSelfTrade
	}
	if takerSide != event.SideLong && takerSide != event.SideShort {
		return ErrInvalidAmount
	}
	if price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	p := e.params.Current()
	if amount.Sign() <= 0 || !amount.IsMultipleOf(p.TradingLotSize) {
		return ErrInvalidTradingLot
	}
	if err := e.authorize(takerCaller, taker); err != nil {
		return err
	}
	if err := e.authorize(makerCaller, maker); err != nil {
		return err
	}

	mark := e.pollOracle()

	err := e.atomic([]uuid.UUID{taker, maker, p.DevAccount}, func() error {
		takerAcct := e.ledger.GetOrCreateAccount(taker)
		makerAcct := e.ledger.GetOrCreateAccount(maker)

		takerOpened := e.applyFill(takerAcct, takerSide, price, amount)
		makerOpened := e.applyFill(makerAcct, takerSide.Counter(), price, amount)

		// Fee legs redistribute, never create or destroy collateral:
		// both fees (either may be a rebate) land net on the dev account.
		if p.DevAccount != uuid.Nil {
			notional := price.Mul(amount)
			takerFee := notional.Mul(p.TakerDevFeeRate)
			makerFee := notional.Mul(p.MakerDevFeeRate)
			takerAcct.CashBalance = takerAcct.CashBalance.Sub(takerFee)
			makerAcct.CashBalance = makerAcct.CashBalance.Sub(makerFee)
			dev := e.ledger.GetOrCreateAccount(p.DevAccount)
			dev.CashBalance = dev.CashBalance.Add(takerFee).Add(makerFee)
		}

		// A leg that grew net exposure must hold initial margin; a
		// purely de-risking leg may execute even while unsafe.
		if takerOpened.IsPositive() && !isIMSafe(e.ledger, takerAcct, mark, p) {
			return ErrMarginUnsafe
		}
		if makerOpened.IsPositive() && !isIMSafe(e.ledger, makerAcct, mark, p) {
			return ErrMarginUnsafe
		}
		return nil
	})
	if err != nil {
		e.observeRejected("trade")
		return err
	}

	e.log.Debug().
		Str("taker", taker.String()).
		Str("maker", maker.String()).
		Str("side", takerSide.String()).
		Str("price", price.String()).
		Str("amount", amount.String()).
		Msg("trade settled")
	e.observeApplied("trade")
	return nil
}
