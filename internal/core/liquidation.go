package core

import (
	"math/big"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// Liquidate resolves an under-margined target by transferring up to
// requestedAmount of its position to the liquidator as a fee-free fill
// at the current mark price (settlement price while settling), charging
// the penalty legs, and socializing any uncoverable deficit. Returns
// the amount actually liquidated.
//
// The absorbable bound is recomputed fresh on every call: the largest
// lot-aligned amount the liquidator can take on and remain initial-
// margin safe immediately afterwards, found by simulating candidate
// amounts against the real ledger and rewinding.
func (e *Engine) Liquidate(liquidator, target uuid.UUID, requestedAmount fixmath.Wad) (fixmath.Wad, error) {
	zero := fixmath.Zero()

	if s := e.ledger.Status(); s != state.StatusNormal && s != state.StatusSettling {
		return zero, ErrWrongStatus
	}
	if liquidator == target {
		return zero, ErrSelfTrade
	}
	if requestedAmount.Sign() <= 0 {
		return zero, ErrInvalidAmount
	}
	targetAcct := e.ledger.Account(target)
	if targetAcct == nil {
		return zero, ErrUnknownAccount
	}
	if targetAcct.Position.IsFlat() {
		return zero, ErrAccountSafe
	}

	price := e.tradingPrice()
	p := e.params.Current()

	if isSafe(e.ledger, targetAcct, price, p) {
		return zero, ErrAccountSafe
	}

	maxAmt := fixmath.FloorToMultiple(
		fixmath.Min(requestedAmount, targetAcct.Position.Size), p.LotSize)
	if maxAmt.IsZero() {
		return zero, ErrInvalidAmount
	}

	amount, err := e.absorbableAmount(liquidator, target, price, maxAmt, p)
	if err != nil {
		e.observeRejected("liquidate")
		return zero, err
	}

	err = e.atomic([]uuid.UUID{liquidator, target}, func() error {
		e.executeLiquidation(liquidator, target, price, amount, p)
		return nil
	})
	if err != nil {
		e.observeRejected("liquidate")
		return zero, err
	}

	e.log.Info().
		Str("liquidator", liquidator.String()).
		Str("target", target.String()).
		Str("price", price.String()).
		Str("amount", amount.String()).
		Msg("liquidation executed")
	e.observeApplied("liquidate")
	if e.metrics != nil {
		e.metrics.LiquidationsTotal.Inc()
	}
	return amount, nil
}

// absorbableAmount finds the largest lot multiple in (0, maxAmt] whose
// full liquidation pipeline leaves the liquidator initial-margin safe.
// Candidates are simulated on the ledger and rewound; smaller amounts
// strain the liquidator less, so a binary search over lot counts finds
// the frontier deterministically.
func (e *Engine) absorbableAmount(liquidator, target uuid.UUID, price, maxAmt fixmath.Wad, p state.GovParams) (fixmath.Wad, error) {
	try := func(amount fixmath.Wad) bool {
		cp := e.ledger.Capture(liquidator, target)
		defer cp.Restore()
		e.executeLiquidation(liquidator, target, price, amount, p)
		return isIMSafe(e.ledger, e.ledger.Account(liquidator), price, p)
	}

	if try(maxAmt) {
		return maxAmt, nil
	}

	lots := new(big.Int).Quo(maxAmt.Raw(), p.LotSize.Raw())
	lo := big.NewInt(0) // last known safe lot count
	hi := lots          // known unsafe
	one := big.NewInt(1)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		amount := fixmath.FromRaw(new(big.Int).Mul(mid, p.LotSize.Raw()))
		if try(amount) {
			lo = mid
		} else {
			hi = mid
		}
	}
	if lo.Sign() == 0 {
		return fixmath.Zero(), ErrLiquidatorUnsafe
	}
	return fixmath.FromRaw(new(big.Int).Mul(lo, p.LotSize.Raw())), nil
}

// executeLiquidation runs the full pipeline against live state; callers
// are responsible for checkpointing around it.
func (e *Engine) executeLiquidation(liquidator, target uuid.UUID, price, amount fixmath.Wad, p state.GovParams) {
	targetAcct := e.ledger.Account(target)
	liqAcct := e.ledger.GetOrCreateAccount(liquidator)
	side := targetAcct.Position.Side

	// Fee-free transfer: the target closes the slice, the liquidator
	// opens the same side (netting against an opposite position first).
	// The liquidator's baselines are captured before this call's
	// social-loss increment, so it never absorbs the loss it is
	// resolving.
	e.closeSlice(targetAcct, price, amount)
	e.applyFill(liqAcct, side, price, amount)

	value := price.Mul(amount)
	penalty := value.Mul(p.LiquidationPenaltyRate)
	fundPenalty := value.Mul(p.PenaltyFundRate)
	targetAcct.CashBalance = targetAcct.CashBalance.Sub(penalty).Sub(fundPenalty)
	liqAcct.CashBalance = liqAcct.CashBalance.Add(penalty)
	e.ledger.AddInsuranceFund(fundPenalty)

	if targetAcct.CashBalance.IsNegative() {
		cover := fixmath.Min(e.ledger.InsuranceFund(), targetAcct.CashBalance.Neg())
		e.ledger.AddInsuranceFund(cover.Neg())
		targetAcct.CashBalance = targetAcct.CashBalance.Add(cover)
	}
	if targetAcct.CashBalance.IsNegative() {
		deficit := targetAcct.CashBalance.Neg()
		total := e.ledger.TotalSize(side)
		if total.IsPositive() {
			e.ledger.AddSocialLoss(side, deficit.Div(total))
			targetAcct.CashBalance = fixmath.Zero()
		} else {
			// No open interest left to carry the loss. The residual
			// stays on the target as bankrupt debt rather than minting
			// collateral out of nothing.
			e.log.Error().
				Str("target", target.String()).
				Str("deficit", deficit.String()).
				Msg("uncoverable deficit with empty book")
		}
	}
}
