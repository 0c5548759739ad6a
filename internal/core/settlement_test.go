package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// ==========================================================================
// Lifecycle transitions
// ==========================================================================

func TestSettlement_Lifecycle(t *testing.T) {
	f := newFixture(t)
	u1 := uuid.New()
	f.deposit(u1, "120")

	if got := f.engine.Status(); got != state.StatusNormal {
		t.Fatalf("status = %s, want Normal", got)
	}

	// Ending before beginning is a status error.
	if err := f.engine.EndGlobalSettlement(f.admin); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("end from Normal: err = %v, want ErrWrongStatus", err)
	}

	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); err != nil {
		t.Fatal(err)
	}
	if got := f.engine.Status(); got != state.StatusSettling {
		t.Fatalf("status = %s, want Settling", got)
	}
	assertWad(t, "settlementPrice", f.engine.SettlementPrice(), "7000")

	// Re-invocation while settling revises the price.
	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7200")); err != nil {
		t.Fatalf("revise price: %v", err)
	}
	assertWad(t, "settlementPrice", f.engine.SettlementPrice(), "7200")

	// Settling before the end is a status error.
	if err := f.engine.Settle(u1); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("settle while settling: err = %v, want ErrWrongStatus", err)
	}

	if err := f.engine.EndGlobalSettlement(f.admin); err != nil {
		t.Fatal(err)
	}
	if got := f.engine.Status(); got != state.StatusSettled {
		t.Fatalf("status = %s, want Settled", got)
	}

	// No way back.
	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("begin after settled: err = %v, want ErrAlreadySettled", err)
	}
}

func TestSettlement_AdminOnly(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()

	if err := f.engine.BeginGlobalSettlement(stranger, wad("7000")); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("begin err = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EndGlobalSettlement(stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("end err = %v, want ErrUnauthorized", err)
	}
}

// ==========================================================================
// Payout
// ==========================================================================

func TestSettle_PaysOutFullCash(t *testing.T) {
	f := newFixture(t)
	u1 := uuid.New()
	f.deposit(u1, "120")

	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EndGlobalSettlement(f.admin); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Settle(u1); err != nil {
		t.Fatalf("settle: %v", err)
	}

	acct, _ := f.engine.Account(u1)
	assertWad(t, "cash after settle", acct.CashBalance, "0")
	assertWad(t, "custody balance", f.custody.Balance(u1), "120")

	// Idempotent: the second call finds zero position and zero cash.
	if err := f.engine.Settle(u1); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	assertWad(t, "custody balance unchanged", f.custody.Balance(u1), "120")
}

func TestSettle_PositionsAtSettlementPrice(t *testing.T) {
	f := newFixture(t)
	long, short := uuid.New(), uuid.New()
	f.deposit(long, "1000")
	f.deposit(short, "1000")
	f.mustTrade(long, short, event.SideLong, "7000", "1")

	// Settle at 7100: the long realizes +100, the short -100, through
	// the normal pnl path.
	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7100")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EndGlobalSettlement(f.admin); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Settle(long); err != nil {
		t.Fatal(err)
	}
	assertWad(t, "long payout", f.custody.Balance(long), "1100")
	assertWad(t, "open interest long", f.engine.TotalSize(event.SideLong), "0")

	if err := f.engine.Settle(short); err != nil {
		t.Fatal(err)
	}
	assertWad(t, "short payout", f.custody.Balance(short), "900")
	assertWad(t, "open interest short", f.engine.TotalSize(event.SideShort), "0")

	longAcct, _ := f.engine.Account(long)
	if !longAcct.Position.IsFlat() {
		t.Error("long position not zeroed by settle")
	}
}

func TestSettle_NegativeBalancePaysNothing(t *testing.T) {
	f := newFixture(t)
	long, short := uuid.New(), uuid.New()
	f.deposit(long, "700")
	f.deposit(short, "70000")
	f.mustTrade(long, short, event.SideLong, "7000", "1")

	// The long is under water at the settlement price; it exits with
	// nothing rather than a negative payout.
	if err := f.engine.BeginGlobalSettlement(f.admin, wad("6000")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EndGlobalSettlement(f.admin); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.Settle(long); err != nil {
		t.Fatal(err)
	}
	assertWad(t, "long payout", f.custody.Balance(long), "0")

	acct, _ := f.engine.Account(long)
	assertWad(t, "long cash", acct.CashBalance, "0")
}

func TestSettled_DisablesMutations(t *testing.T) {
	f := newFixture(t)
	u1 := uuid.New()
	f.deposit(u1, "1000")

	if err := f.engine.BeginGlobalSettlement(f.admin, wad("7000")); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.EndGlobalSettlement(f.admin); err != nil {
		t.Fatal(err)
	}

	if err := f.engine.Deposit(u1, wad("1")); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("deposit err = %v, want ErrWrongStatus", err)
	}
	if err := f.engine.ApplyForWithdrawal(u1, u1, wad("1")); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("apply err = %v, want ErrWrongStatus", err)
	}
	if err := f.engine.SetBroker(u1, uuid.New()); !errors.Is(err, ErrWrongStatus) {
		t.Errorf("setBroker err = %v, want ErrWrongStatus", err)
	}
}
