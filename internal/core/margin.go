package core

import (
	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// Margin engine: pure functions of (account, price, accumulators,
// governance params). No side effects; every mutating operation and
// every query routes through these.

func positionValue(a *state.Account, price fixmath.Wad) fixmath.Wad {
	if a.Position.IsFlat() {
		return fixmath.Zero()
	}
	return a.Position.Size.Mul(price)
}

// socialLossShare is the accumulator growth this position must absorb:
// size*perContract minus the baseline captured at entry.
func socialLossShare(l *state.Ledger, a *state.Account) fixmath.Wad {
	if a.Position.IsFlat() {
		return fixmath.Zero()
	}
	total := a.Position.Size.Mul(l.SocialLossPerContract(a.Position.Side))
	return total.Sub(a.Position.EntrySocialLoss)
}

func fundingLossShare(l *state.Ledger, a *state.Account) fixmath.Wad {
	if a.Position.IsFlat() {
		return fixmath.Zero()
	}
	total := a.Position.Size.Mul(l.FundingLossPerContract())
	return total.Sub(a.Position.EntryFundingLoss)
}

func pnl(l *state.Ledger, a *state.Account, price fixmath.Wad) fixmath.Wad {
	if a.Position.IsFlat() {
		return fixmath.Zero()
	}
	value := positionValue(a, price)
	var gross fixmath.Wad
	if a.Position.Side == event.SideLong {
		gross = value.Sub(a.Position.EntryValue)
	} else {
		gross = a.Position.EntryValue.Sub(value)
	}
	return gross.Sub(socialLossShare(l, a)).Sub(fundingLossShare(l, a))
}

func marginBalance(l *state.Ledger, a *state.Account, price fixmath.Wad) fixmath.Wad {
	return a.CashBalance.Add(pnl(l, a, price))
}

func positionMargin(a *state.Account, price fixmath.Wad, p state.GovParams) fixmath.Wad {
	return positionValue(a, price).Mul(p.InitialMarginRate)
}

func maintenanceMargin(a *state.Account, price fixmath.Wad, p state.GovParams) fixmath.Wad {
	return positionValue(a, price).Mul(p.MaintenanceMarginRate)
}

func availableMargin(l *state.Ledger, a *state.Account, price fixmath.Wad, p state.GovParams) fixmath.Wad {
	return marginBalance(l, a, price).Sub(positionMargin(a, price, p))
}

func isSafe(l *state.Ledger, a *state.Account, price fixmath.Wad, p state.GovParams) bool {
	return marginBalance(l, a, price).Cmp(maintenanceMargin(a, price, p)) >= 0
}

func isIMSafe(l *state.Ledger, a *state.Account, price fixmath.Wad, p state.GovParams) bool {
	return marginBalance(l, a, price).Cmp(positionMargin(a, price, p)) >= 0
}

func isBankrupt(l *state.Ledger, a *state.Account, price fixmath.Wad) bool {
	return marginBalance(l, a, price).IsNegative()
}

// drawableBalance is the ceiling on what could be withdrawn right now,
// independent of the withdrawal timelock: available margin capped by
// the cash not already earmarked for withdrawal, and never more than
// the cash itself.
func drawableBalance(l *state.Ledger, a *state.Account, price fixmath.Wad, p state.GovParams) fixmath.Wad {
	d := fixmath.Min(
		availableMargin(l, a, price, p),
		a.CashBalance.Sub(a.AppliedBalance),
	)
	return fixmath.Min(d, a.CashBalance)
}
