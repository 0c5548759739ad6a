package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// ==========================================================================
// Fixture
// ==========================================================================

type fixture struct {
	t         *testing.T
	engine    *Engine
	clock     *state.ManualClock
	feed      *state.FeedState
	custody   *state.MemoryCustody
	validator *InvariantValidator
	admin     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	admin := uuid.New()
	params := state.DefaultGovParams()
	// Fee-free unless a test opts in by pointing DevAccount somewhere.
	params.TakerDevFeeRate = fixmath.Zero()
	params.MakerDevFeeRate = fixmath.Zero()

	ledger := state.NewLedger()
	clock := state.NewManualClock(1000)
	feed := state.NewFeedState(wad("7000"))
	custody := state.NewMemoryCustody()

	engine := NewEngine(Deps{
		Ledger:  ledger,
		Params:  state.NewParamStore(admin, params),
		Feed:    feed,
		Custody: custody,
		Clock:   clock,
	})
	return &fixture{
		t:         t,
		engine:    engine,
		clock:     clock,
		feed:      feed,
		custody:   custody,
		validator: NewInvariantValidator(ledger),
		admin:     admin,
	}
}

func wad(s string) fixmath.Wad {
	return fixmath.MustParse(s)
}

func (f *fixture) deposit(owner uuid.UUID, amount string) {
	f.t.Helper()
	f.custody.Fund(owner, wad(amount))
	if err := f.engine.Deposit(owner, wad(amount)); err != nil {
		f.t.Fatalf("deposit %s for %s: %v", amount, owner, err)
	}
}

func (f *fixture) trade(taker, maker uuid.UUID, side event.Side, price, amount string) error {
	return f.engine.TradePosition(taker, taker, maker, maker, side, wad(price), wad(amount))
}

func (f *fixture) mustTrade(taker, maker uuid.UUID, side event.Side, price, amount string) {
	f.t.Helper()
	if err := f.trade(taker, maker, side, price, amount); err != nil {
		f.t.Fatalf("trade %s %s@%s: %v", side, amount, price, err)
	}
	f.checkInvariants()
}

func (f *fixture) view(owner uuid.UUID) MarginView {
	f.t.Helper()
	v, err := f.engine.MarginViewOf(owner)
	if err != nil {
		f.t.Fatalf("margin view of %s: %v", owner, err)
	}
	return v
}

func (f *fixture) checkInvariants() {
	f.t.Helper()
	if err := f.validator.ValidateAll(); err != nil {
		f.t.Fatalf("invariant violated: %v", err)
	}
}

func assertWad(t *testing.T, name string, got fixmath.Wad, want string) {
	t.Helper()
	if !got.Equal(wad(want)) {
		t.Errorf("%s = %s, want %s", name, got, want)
	}
}

// ==========================================================================
// Opening trades and margin quantities
// ==========================================================================

func TestTrade_OpenLongAndPriceMove(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "700")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideLong, "7000", "1")

	v := f.view(u1)
	assertWad(t, "positionValue", v.PositionValue, "7000")
	assertWad(t, "positionMargin", v.PositionMargin, "700")
	assertWad(t, "maintenanceMargin", v.MaintenanceMargin, "350")
	assertWad(t, "marginBalance", v.MarginBalance, "700")
	assertWad(t, "availableMargin", v.AvailableMargin, "0")
	if !v.IsSafe || !v.IsIMSafe || v.IsBankrupt {
		t.Errorf("safety flags = %v/%v/%v", v.IsSafe, v.IsIMSafe, v.IsBankrupt)
	}

	f.feed.SetMarkPrice(wad("6900"))
	v = f.view(u1)
	assertWad(t, "pnl", v.Pnl, "-100")
	assertWad(t, "marginBalance", v.MarginBalance, "600")
	assertWad(t, "availableMargin", v.AvailableMargin, "-90")
	if !v.IsSafe || v.IsIMSafe || v.IsBankrupt {
		t.Errorf("safety flags at 6900 = %v/%v/%v", v.IsSafe, v.IsIMSafe, v.IsBankrupt)
	}

	f.feed.SetMarkPrice(wad("6000"))
	v = f.view(u1)
	assertWad(t, "marginBalance", v.MarginBalance, "-300")
	if v.IsSafe || !v.IsBankrupt {
		t.Errorf("expected bankrupt at 6000, got safe=%v bankrupt=%v", v.IsSafe, v.IsBankrupt)
	}

	f.feed.SetMarkPrice(wad("8000"))
	v = f.view(u1)
	assertWad(t, "marginBalance", v.MarginBalance, "1700")
	assertWad(t, "availableMargin", v.AvailableMargin, "900")
}

func TestTrade_ShortMirrors(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "700")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideShort, "7000", "1")

	f.feed.SetMarkPrice(wad("6900"))
	v := f.view(u1)
	assertWad(t, "pnl", v.Pnl, "100")
	assertWad(t, "marginBalance", v.MarginBalance, "800")

	f.feed.SetMarkPrice(wad("8000"))
	v = f.view(u1)
	assertWad(t, "marginBalance", v.MarginBalance, "-300")
	if !v.IsBankrupt {
		t.Error("short should be bankrupt at 8000")
	}
}

func TestTrade_IncreaseAveragesEntry(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "10000")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideLong, "7000", "1")
	f.mustTrade(u1, u2, event.SideLong, "6000", "1")

	acct, err := f.engine.Account(u1)
	if err != nil {
		t.Fatal(err)
	}
	assertWad(t, "size", acct.Position.Size, "2")
	assertWad(t, "entryValue", acct.Position.EntryValue, "13000")
	assertWad(t, "avgEntryPrice", acct.Position.AvgEntryPrice(), "6500")
}

func TestTrade_CloseRealizesPnl(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "2000")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideLong, "7000", "2")
	f.feed.SetMarkPrice(wad("7500"))
	f.mustTrade(u1, u2, event.SideShort, "7500", "1")

	acct, _ := f.engine.Account(u1)
	assertWad(t, "size", acct.Position.Size, "1")
	assertWad(t, "entryValue", acct.Position.EntryValue, "7000")
	assertWad(t, "cash", acct.CashBalance, "2500") // 2000 + 500 realized
}

func TestTrade_OverCloseFlips(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "3000")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideLong, "7000", "2")
	f.mustTrade(u1, u2, event.SideShort, "7000", "3")

	acct, _ := f.engine.Account(u1)
	if acct.Position.Side != event.SideShort {
		t.Fatalf("side = %s, want Short", acct.Position.Side)
	}
	assertWad(t, "size", acct.Position.Size, "1")
	assertWad(t, "entryValue", acct.Position.EntryValue, "7000")
	assertWad(t, "cash", acct.CashBalance, "3000")
}

func TestTrade_FullCloseZeroesPosition(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "1000")
	f.deposit(u2, "70000")

	f.mustTrade(u1, u2, event.SideLong, "7000", "1")
	f.mustTrade(u1, u2, event.SideShort, "7000", "1")

	acct, _ := f.engine.Account(u1)
	if !acct.Position.IsFlat() {
		t.Fatalf("position not flat: %+v", acct.Position)
	}
	assertWad(t, "entryValue", acct.Position.EntryValue, "0")
	assertWad(t, "totalSize long", f.engine.TotalSize(event.SideLong), "0")
	assertWad(t, "totalSize short", f.engine.TotalSize(event.SideShort), "0")
}

// ==========================================================================
// Trade guards
// ==========================================================================

func TestTrade_MarginUnsafeRejected(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "699")
	f.deposit(u2, "70000")

	err := f.trade(u1, u2, event.SideLong, "7000", "1")
	if !errors.Is(err, ErrMarginUnsafe) {
		t.Fatalf("err = %v, want ErrMarginUnsafe", err)
	}

	// Whole-operation atomicity: nothing moved.
	acct, _ := f.engine.Account(u1)
	if !acct.Position.IsFlat() {
		t.Error("rejected trade left a position")
	}
	assertWad(t, "cash", acct.CashBalance, "699")
	assertWad(t, "totalSize long", f.engine.TotalSize(event.SideLong), "0")
	f.checkInvariants()
}

func TestTrade_DeRiskingAllowedWhileUnsafe(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "700")
	f.deposit(u2, "70000")
	f.mustTrade(u1, u2, event.SideLong, "7000", "1")

	f.feed.SetMarkPrice(wad("6500"))
	if safe, _ := f.engine.IsIMSafe(u1); safe {
		t.Fatal("setup: u1 should be IM-unsafe at 6500")
	}

	// Reducing exposure must pass even while IM-unsafe.
	if err := f.trade(u1, u2, event.SideShort, "6500", "0.5"); err != nil {
		t.Fatalf("de-risking trade rejected: %v", err)
	}
	// Increasing it must not.
	err := f.trade(u1, u2, event.SideLong, "6500", "1")
	if !errors.Is(err, ErrMarginUnsafe) {
		t.Fatalf("err = %v, want ErrMarginUnsafe", err)
	}
}

func TestTrade_TradingLotSize(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "70000")
	f.deposit(u2, "70000")

	if err := f.engine.SetGovernanceParameter(f.admin, "tradingLotSize", wad("1")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetGovernanceParameter(f.admin, "lotSize", wad("0.1")); err != nil {
		t.Fatal(err)
	}

	err := f.trade(u1, u2, event.SideLong, "7000", "0.5")
	if !errors.Is(err, ErrInvalidTradingLot) {
		t.Fatalf("err = %v, want ErrInvalidTradingLot", err)
	}
	if err := f.trade(u1, u2, event.SideLong, "7000", "2"); err != nil {
		t.Fatalf("aligned trade rejected: %v", err)
	}
}

func TestTrade_Authorization(t *testing.T) {
	f := newFixture(t)
	u1, u2, broker, stranger := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	f.deposit(u2, "70000")
	if err := f.engine.DepositAndSetBroker(u1, broker, wad("7000")); err != nil {
		t.Fatal(err)
	}

	// Broker trades on behalf of the owner.
	if err := f.engine.TradePosition(broker, u1, u2, u2, event.SideLong, wad("7000"), wad("1")); err != nil {
		t.Fatalf("broker trade rejected: %v", err)
	}
	// A stranger does not.
	err := f.engine.TradePosition(stranger, u1, u2, u2, event.SideShort, wad("7000"), wad("1"))
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestTrade_SelfAndStatusGuards(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "70000")
	f.deposit(u2, "70000")

	if err := f.trade(u1, u1, event.SideLong, "7000", "1"); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("self trade err = %v", err)
	}

	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); err != nil {
		t.Fatal(err)
	}
	if err := f.trade(u1, u2, event.SideLong, "7000", "1"); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("trade while settling err = %v", err)
	}
}

// ==========================================================================
// Fees
// ==========================================================================

func TestTrade_FeesRedistributeToDev(t *testing.T) {
	f := newFixture(t)
	u1, u2, dev := uuid.New(), uuid.New(), uuid.New()
	f.deposit(u1, "7000")
	f.deposit(u2, "70000")

	if err := f.engine.SetDevAccount(f.admin, dev); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetGovernanceParameter(f.admin, "takerDevFeeRate", wad("0.01")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.SetGovernanceParameter(f.admin, "makerDevFeeRate", wad("-0.005")); err != nil {
		t.Fatal(err)
	}

	before := f.validator.TotalCash()
	f.mustTrade(u1, u2, event.SideLong, "7000", "1")

	u1Acct, _ := f.engine.Account(u1)
	u2Acct, _ := f.engine.Account(u2)
	devAcct, _ := f.engine.Account(dev)
	assertWad(t, "taker cash", u1Acct.CashBalance, "6930")   // 7000 - 70 fee
	assertWad(t, "maker cash", u2Acct.CashBalance, "70035")  // 70000 + 35 rebate
	assertWad(t, "dev cash", devAcct.CashBalance, "35")      // 70 - 35

	// Conservation: fees redistribute, never create or destroy.
	if got := f.validator.TotalCash(); !got.Equal(before) {
		t.Errorf("total cash changed by fees: %s -> %s", before, got)
	}
}

// ==========================================================================
// Funding accumulator
// ==========================================================================

func TestFunding_RatchetIsMonotone(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "7000")
	f.deposit(u2, "70000")
	f.mustTrade(u1, u2, event.SideLong, "7000", "1")

	f.feed.SetFundingIndex(wad("5"))
	v := f.view(u1)
	assertWad(t, "pnl with funding", v.Pnl, "-5")

	// A regressing feed must never un-charge funding.
	f.feed.SetFundingIndex(wad("3"))
	v = f.view(u1)
	assertWad(t, "pnl after regression", v.Pnl, "-5")
	assertWad(t, "fundingLossPerContract", f.engine.FundingLossPerContract(), "5")

	// Both sides absorb the same per-contract charge.
	v2 := f.view(u2)
	assertWad(t, "short pnl with funding", v2.Pnl, "-5")
}

func TestFunding_BaselineOnlyAbsorbsLaterGrowth(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "7000")
	f.deposit(u2, "70000")

	f.feed.SetFundingIndex(wad("5"))
	f.mustTrade(u1, u2, event.SideLong, "7000", "1")

	v := f.view(u1)
	assertWad(t, "pnl at entry index", v.Pnl, "0")

	f.feed.SetFundingIndex(wad("8"))
	v = f.view(u1)
	assertWad(t, "pnl after growth", v.Pnl, "-3")
}

// ==========================================================================
// Conservation across a scripted sequence
// ==========================================================================

func TestConservation_TradesPreserveBookValue(t *testing.T) {
	f := newFixture(t)
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()
	f.deposit(u1, "10000")
	f.deposit(u2, "20000")
	f.deposit(u3, "30000")
	book := f.validator.BookValue()
	assertWad(t, "book value after deposits", book, "60000")

	// Raw cash moves whenever one side of a trade realizes pnl the
	// counterparty still carries unrealized; the entry-value terms in
	// BookValue absorb exactly that drift.
	steps := []func(){
		func() { f.mustTrade(u1, u2, event.SideLong, "7000", "1") },
		func() { f.feed.SetMarkPrice(wad("7200")); f.mustTrade(u2, u3, event.SideLong, "7200", "2") },
		func() { f.feed.SetMarkPrice(wad("6800")); f.mustTrade(u1, u3, event.SideShort, "6800", "0.5") },
	}
	for i, step := range steps {
		step()
		if got := f.validator.BookValue(); !got.Equal(book) {
			t.Fatalf("book value drifted after trade %d: %s -> %s", i+1, book, got)
		}
	}

	// Unwind everything (u1 long 0.5, u2 long 1, u3 short 1.5). Flat
	// positions carry no entry value, so the cash total itself must land
	// back on the deposited 60000 regardless of the price path.
	f.mustTrade(u3, u1, event.SideLong, "7100", "0.5")
	f.mustTrade(u3, u2, event.SideLong, "6900", "1")

	assertWad(t, "total cash after full unwind", f.validator.TotalCash(), "60000")
	assertWad(t, "book value after full unwind", f.validator.BookValue(), "60000")
	f.checkInvariants()
}

func TestDirectory_AppendOnly(t *testing.T) {
	f := newFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.deposit(u1, "100")
	f.deposit(u2, "100")
	f.deposit(u1, "50") // no duplicate entry

	if got := f.engine.TotalAccounts(); got != 2 {
		t.Fatalf("TotalAccounts = %d, want 2", got)
	}
	first, ok := f.engine.AccountAt(0)
	if !ok || first != u1 {
		t.Errorf("AccountAt(0) = %s, want %s", first, u1)
	}
	if !f.engine.IsRegistered(u2) || f.engine.IsRegistered(uuid.New()) {
		t.Error("registration flags wrong")
	}
}
