package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// ErrUnknownParameter is returned for a governance key that does not exist.
var ErrUnknownParameter = errors.New("key not exists")

// GovParams are the governance values every operation revalidates on use.
// Rate changes apply to subsequent operations only, never retroactively.
type GovParams struct {
	InitialMarginRate      fixmath.Wad
	MaintenanceMarginRate  fixmath.Wad
	LiquidationPenaltyRate fixmath.Wad
	PenaltyFundRate        fixmath.Wad
	TakerDevFeeRate        fixmath.Wad // may be negative (rebate)
	MakerDevFeeRate        fixmath.Wad // may be negative (rebate)
	LotSize                fixmath.Wad
	TradingLotSize         fixmath.Wad
	WithdrawalLockPeriod   int64
	BrokerLockPeriod       int64
	DevAccount             uuid.UUID
}

// DefaultGovParams mirrors the usual launch configuration.
func DefaultGovParams() GovParams {
	return GovParams{
		InitialMarginRate:      fixmath.MustParse("0.1"),
		MaintenanceMarginRate:  fixmath.MustParse("0.05"),
		LiquidationPenaltyRate: fixmath.MustParse("0.005"),
		PenaltyFundRate:        fixmath.MustParse("0.005"),
		TakerDevFeeRate:        fixmath.MustParse("0.00075"),
		MakerDevFeeRate:        fixmath.MustParse("-0.00025"),
		LotSize:                fixmath.MustParse("0.000000000000000001"),
		TradingLotSize:         fixmath.MustParse("0.000000000000000001"),
		WithdrawalLockPeriod:   5,
		BrokerLockPeriod:       5,
	}
}

// ParamStore holds the current governance values plus the admin identity
// allowed to change them.
type ParamStore struct {
	params GovParams
	admin  uuid.UUID
}

func NewParamStore(admin uuid.UUID, params GovParams) *ParamStore {
	return &ParamStore{params: params, admin: admin}
}

// Current returns the governance values as of now.
func (ps *ParamStore) Current() GovParams {
	return ps.params
}

// Admin returns the administrative identity.
func (ps *ParamStore) Admin() uuid.UUID {
	return ps.admin
}

// IsAdmin reports whether caller holds the administrative capability.
func (ps *ParamStore) IsAdmin(caller uuid.UUID) bool {
	return caller == ps.admin
}

// Restore replaces the governance values wholesale during recovery.
func (ps *ParamStore) Restore(params GovParams) {
	ps.params = params
}

// SetDevAccount points fee credit at a new dev identity.
func (ps *ParamStore) SetDevAccount(dev uuid.UUID) {
	ps.params.DevAccount = dev
}

// Set updates one numeric governance value by key, validating the
// cross-parameter constraints before committing.
func (ps *ParamStore) Set(key string, value fixmath.Wad) error {
	next := ps.params

	switch key {
	case "initialMarginRate":
		next.InitialMarginRate = value
	case "maintenanceMarginRate":
		next.MaintenanceMarginRate = value
	case "liquidationPenaltyRate":
		next.LiquidationPenaltyRate = value
	case "penaltyFundRate":
		next.PenaltyFundRate = value
	case "takerDevFeeRate":
		next.TakerDevFeeRate = value
	case "makerDevFeeRate":
		next.MakerDevFeeRate = value
	case "lotSize":
		next.LotSize = value
	case "tradingLotSize":
		next.TradingLotSize = value
	case "withdrawalLockPeriod":
		n, err := wholeNumber(value)
		if err != nil {
			return fmt.Errorf("withdrawalLockPeriod: %w", err)
		}
		next.WithdrawalLockPeriod = n
	case "brokerLockPeriod":
		n, err := wholeNumber(value)
		if err != nil {
			return fmt.Errorf("brokerLockPeriod: %w", err)
		}
		next.BrokerLockPeriod = n
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParameter, key)
	}

	if err := ValidateGovParams(next); err != nil {
		return err
	}
	ps.params = next
	return nil
}

// ValidateGovParams checks the cross-parameter constraints:
// mm > 0, im > mm, lpr < mm, lot sizes positive and compatible.
func ValidateGovParams(p GovParams) error {
	if p.MaintenanceMarginRate.Sign() <= 0 {
		return fmt.Errorf("require mm > 0, got %s", p.MaintenanceMarginRate)
	}
	if p.InitialMarginRate.Cmp(p.MaintenanceMarginRate) <= 0 {
		return fmt.Errorf("require mm < im, got mm=%s im=%s", p.MaintenanceMarginRate, p.InitialMarginRate)
	}
	if p.LiquidationPenaltyRate.Cmp(p.MaintenanceMarginRate) >= 0 {
		return fmt.Errorf("require lpr < mm, got lpr=%s mm=%s", p.LiquidationPenaltyRate, p.MaintenanceMarginRate)
	}
	if p.PenaltyFundRate.Sign() < 0 {
		return fmt.Errorf("require pfr >= 0, got %s", p.PenaltyFundRate)
	}
	if p.LotSize.Sign() <= 0 {
		return fmt.Errorf("require lotSize > 0, got %s", p.LotSize)
	}
	if p.TradingLotSize.Sign() <= 0 {
		return fmt.Errorf("require tradingLotSize > 0, got %s", p.TradingLotSize)
	}
	if !p.TradingLotSize.IsMultipleOf(p.LotSize) {
		return fmt.Errorf("require tradingLotSize to be a multiple of lotSize, got %s / %s", p.TradingLotSize, p.LotSize)
	}
	if p.WithdrawalLockPeriod < 0 || p.BrokerLockPeriod < 0 {
		return fmt.Errorf("require non-negative lock periods")
	}
	return nil
}

func wholeNumber(w fixmath.Wad) (int64, error) {
	if !w.IsMultipleOf(fixmath.One()) || w.Sign() < 0 {
		return 0, fmt.Errorf("expected a non-negative whole number, got %s", w)
	}
	units := new(big.Int).Quo(w.Raw(), fixmath.One().Raw())
	if !units.IsInt64() {
		return 0, fmt.Errorf("value out of range: %s", w)
	}
	return units.Int64(), nil
}
