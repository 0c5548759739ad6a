package state

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

func w(s string) fixmath.Wad {
	return fixmath.MustParse(s)
}

func TestParamStore_SetKnownKeys(t *testing.T) {
	ps := NewParamStore(uuid.New(), DefaultGovParams())

	// Every Set revalidates the whole parameter block, so the lots must
	// be raised coarse-first: tradingLotSize up, then lotSize under it.
	cases := []struct {
		key   string
		value string
	}{
		{"initialMarginRate", "0.2"},
		{"maintenanceMarginRate", "0.1"},
		{"liquidationPenaltyRate", "0.01"},
		{"penaltyFundRate", "0.01"},
		{"takerDevFeeRate", "0.001"},
		{"makerDevFeeRate", "-0.0005"},
		{"tradingLotSize", "0.01"},
		{"lotSize", "0.001"},
		{"withdrawalLockPeriod", "10"},
		{"brokerLockPeriod", "0"},
	}
	for _, tc := range cases {
		if err := ps.Set(tc.key, w(tc.value)); err != nil {
			t.Errorf("Set(%s, %s): %v", tc.key, tc.value, err)
		}
	}

	p := ps.Current()
	if !p.InitialMarginRate.Equal(w("0.2")) {
		t.Errorf("im = %s, want 0.2", p.InitialMarginRate)
	}
	if p.WithdrawalLockPeriod != 10 || p.BrokerLockPeriod != 0 {
		t.Errorf("lock periods = %d/%d, want 10/0", p.WithdrawalLockPeriod, p.BrokerLockPeriod)
	}
}

func TestParamStore_UnknownKey(t *testing.T) {
	ps := NewParamStore(uuid.New(), DefaultGovParams())
	err := ps.Set("noSuchKey", w("1"))
	if !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("err = %v, want ErrUnknownParameter", err)
	}
}

func TestParamStore_CrossValidation(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"im must exceed mm", "initialMarginRate", "0.05", "require mm < im"},
		{"mm must be positive", "maintenanceMarginRate", "0", "require mm > 0"},
		{"lpr below mm", "liquidationPenaltyRate", "0.05", "require lpr < mm"},
		{"pfr non-negative", "penaltyFundRate", "-0.001", "require pfr >= 0"},
		{"lot size positive", "lotSize", "0", "require lotSize > 0"},
		{"trading lot positive", "tradingLotSize", "-1", "require tradingLotSize > 0"},
		{"negative lock", "withdrawalLockPeriod", "-1", "whole number"},
		{"fractional lock", "brokerLockPeriod", "1.5", "whole number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ps := NewParamStore(uuid.New(), DefaultGovParams())
			err := ps.Set(tc.key, w(tc.value))
			if err == nil {
				t.Fatalf("Set(%s, %s) succeeded, want error", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %q, want substring %q", err, tc.wantErr)
			}
		})
	}
}

func TestParamStore_TradingLotMultiple(t *testing.T) {
	ps := NewParamStore(uuid.New(), DefaultGovParams())

	// Raising lotSize past the current tradingLotSize is rejected; the
	// coarser lot has to move first.
	if err := ps.Set("lotSize", w("0.1")); err == nil {
		t.Fatal("expected lot compatibility error raising lotSize first")
	}
	if err := ps.Set("tradingLotSize", w("0.1")); err != nil {
		t.Fatal(err)
	}
	if err := ps.Set("lotSize", w("0.1")); err != nil {
		t.Fatal(err)
	}
	// 0.1 is not a multiple of the new 0.25 lot.
	if err := ps.Set("lotSize", w("0.25")); err == nil {
		t.Fatal("expected lot compatibility error")
	}
}

func TestParamStore_FailedSetLeavesParamsUntouched(t *testing.T) {
	ps := NewParamStore(uuid.New(), DefaultGovParams())
	before := ps.Current()
	if err := ps.Set("maintenanceMarginRate", w("0.5")); err == nil {
		t.Fatal("expected validation error")
	}
	if !ps.Current().MaintenanceMarginRate.Equal(before.MaintenanceMarginRate) {
		t.Error("failed Set mutated params")
	}
}

func TestParamStore_Admin(t *testing.T) {
	admin := uuid.New()
	ps := NewParamStore(admin, DefaultGovParams())
	if !ps.IsAdmin(admin) {
		t.Error("admin not recognized")
	}
	if ps.IsAdmin(uuid.New()) {
		t.Error("stranger recognized as admin")
	}

	dev := uuid.New()
	ps.SetDevAccount(dev)
	if ps.Current().DevAccount != dev {
		t.Error("dev account not set")
	}
}
