package core

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// Engine is the accounting core: one instance owns the ledger and
// applies every operation in the single total order chosen by its
// caller. It has no internal locking and no goroutines; the Processor
// (or a test) drives it from exactly one goroutine at a time.
type Engine struct {
	ledger  *state.Ledger
	params  *state.ParamStore
	feed    state.PriceFeed
	custody state.Custody
	clock   state.Clock

	log     zerolog.Logger
	metrics *observability.Metrics
}

// Deps carries the external collaborators of the core.
type Deps struct {
	Ledger  *state.Ledger
	Params  *state.ParamStore
	Feed    state.PriceFeed
	Custody state.Custody
	Clock   state.Clock
	Metrics *observability.Metrics
}

func NewEngine(d Deps) *Engine {
	if d.Ledger == nil {
		d.Ledger = state.NewLedger()
	}
	return &Engine{
		ledger:  d.Ledger,
		params:  d.Params,
		feed:    d.Feed,
		custody: d.Custody,
		clock:   d.Clock,
		log:     observability.NewLogger("engine"),
		metrics: d.Metrics,
	}
}

// Ledger exposes the underlying ledger for snapshotting and queries.
func (e *Engine) Ledger() *state.Ledger {
	return e.ledger
}

// Params exposes the governance store.
func (e *Engine) Params() *state.ParamStore {
	return e.params
}

// Clock exposes the host clock.
func (e *Engine) Clock() state.Clock {
	return e.clock
}

// pollOracle reads the oracle once at the start of an evaluation,
// ratcheting the funding accumulator, and returns the mark price.
func (e *Engine) pollOracle() fixmath.Wad {
	e.ledger.RatchetFundingLoss(e.feed.FundingIndex())
	return e.feed.MarkPrice()
}

// tradingPrice is the price liquidations execute at: the mark price
// while the book is open, the settlement price once settling.
func (e *Engine) tradingPrice() fixmath.Wad {
	if e.ledger.Status() == state.StatusSettling {
		e.ledger.RatchetFundingLoss(e.feed.FundingIndex())
		return e.ledger.SettlementPrice()
	}
	return e.pollOracle()
}

// atomic runs fn and rewinds the named accounts plus every global
// scalar if it fails, so a rejected operation leaves no observable
// partial writes.
func (e *Engine) atomic(owners []uuid.UUID, fn func() error) error {
	cp := e.ledger.Capture(owners...)
	if err := fn(); err != nil {
		cp.Restore()
		return err
	}
	return nil
}

// authorize checks that caller may act for the account: the owner
// always may, the currently-active broker may trade on its behalf.
func (e *Engine) authorize(caller, owner uuid.UUID) error {
	if caller == owner {
		return nil
	}
	acct := e.ledger.Account(owner)
	if acct == nil {
		return ErrUnauthorized
	}
	if acct.CurrentBroker(e.clock.Now()) == caller {
		return nil
	}
	return ErrUnauthorized
}

// requireAdmin gates administrative operations.
func (e *Engine) requireAdmin(caller uuid.UUID) error {
	if !e.params.IsAdmin(caller) {
		return ErrUnauthorized
	}
	return nil
}

// ==========================================================================
// Read-only queries (margin engine surface)
// ==========================================================================

// MarginView is the margin engine evaluated for one account at one price.
type MarginView struct {
	Owner             uuid.UUID   `json:"owner"`
	Price             fixmath.Wad `json:"price"`
	CashBalance       fixmath.Wad `json:"cash_balance"`
	AppliedBalance    fixmath.Wad `json:"applied_balance"`
	Side              event.Side  `json:"side"`
	Size              fixmath.Wad `json:"size"`
	EntryValue        fixmath.Wad `json:"entry_value"`
	PositionValue     fixmath.Wad `json:"position_value"`
	Pnl               fixmath.Wad `json:"pnl"`
	MarginBalance     fixmath.Wad `json:"margin_balance"`
	PositionMargin    fixmath.Wad `json:"position_margin"`
	MaintenanceMargin fixmath.Wad `json:"maintenance_margin"`
	AvailableMargin   fixmath.Wad `json:"available_margin"`
	DrawableBalance   fixmath.Wad `json:"drawable_balance"`
	IsSafe            bool        `json:"is_safe"`
	IsIMSafe          bool        `json:"is_im_safe"`
	IsBankrupt        bool        `json:"is_bankrupt"`
}

// MarginViewOf evaluates every margin quantity at the current mark price.
func (e *Engine) MarginViewOf(owner uuid.UUID) (MarginView, error) {
	return e.MarginViewAtPrice(owner, e.pollOracle())
}

// MarginViewAtPrice evaluates at a caller-supplied price (what-if and
// settlement views).
func (e *Engine) MarginViewAtPrice(owner uuid.UUID, price fixmath.Wad) (MarginView, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return MarginView{}, ErrUnknownAccount
	}
	p := e.params.Current()
	return MarginView{
		Owner:             owner,
		Price:             price,
		CashBalance:       acct.CashBalance,
		AppliedBalance:    acct.AppliedBalance,
		Side:              acct.Position.Side,
		Size:              acct.Position.Size,
		EntryValue:        acct.Position.EntryValue,
		PositionValue:     positionValue(acct, price),
		Pnl:               pnl(e.ledger, acct, price),
		MarginBalance:     marginBalance(e.ledger, acct, price),
		PositionMargin:    positionMargin(acct, price, p),
		MaintenanceMargin: maintenanceMargin(acct, price, p),
		AvailableMargin:   availableMargin(e.ledger, acct, price, p),
		DrawableBalance:   drawableBalance(e.ledger, acct, price, p),
		IsSafe:            isSafe(e.ledger, acct, price, p),
		IsIMSafe:          isIMSafe(e.ledger, acct, price, p),
		IsBankrupt:        isBankrupt(e.ledger, acct, price),
	}, nil
}

// IsSafe reports maintenance-margin safety at the current mark price.
func (e *Engine) IsSafe(owner uuid.UUID) (bool, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return false, ErrUnknownAccount
	}
	return isSafe(e.ledger, acct, e.pollOracle(), e.params.Current()), nil
}

// IsIMSafe reports initial-margin safety at the current mark price.
func (e *Engine) IsIMSafe(owner uuid.UUID) (bool, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return false, ErrUnknownAccount
	}
	return isIMSafe(e.ledger, acct, e.pollOracle(), e.params.Current()), nil
}

// IsBankrupt reports negative margin balance at the current mark price.
func (e *Engine) IsBankrupt(owner uuid.UUID) (bool, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return false, ErrUnknownAccount
	}
	return isBankrupt(e.ledger, acct, e.pollOracle()), nil
}
