package core

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// Global book queries.

func (e *Engine) Status() state.Status {
	return e.ledger.Status()
}

func (e *Engine) SettlementPrice() fixmath.Wad {
	return e.ledger.SettlementPrice()
}

func (e *Engine) InsuranceFundBalance() fixmath.Wad {
	return e.ledger.InsuranceFund()
}

func (e *Engine) SocialLossPerContract(side event.Side) fixmath.Wad {
	return e.ledger.SocialLossPerContract(side)
}

func (e *Engine) FundingLossPerContract() fixmath.Wad {
	return e.ledger.FundingLossPerContract()
}

func (e *Engine) TotalSize(side event.Side) fixmath.Wad {
	return e.ledger.TotalSize(side)
}

func (e *Engine) MarkPrice() fixmath.Wad {
	return e.pollOracle()
}

// Directory queries.

func (e *Engine) TotalAccounts() int {
	return e.ledger.TotalAccounts()
}

func (e *Engine) AccountAt(index int) (uuid.UUID, bool) {
	return e.ledger.AccountAt(index)
}

func (e *Engine) IsRegistered(owner uuid.UUID) bool {
	return e.ledger.IsRegistered(owner)
}

// Account reads the raw ledger record for owner.
func (e *Engine) Account(owner uuid.UUID) (state.Account, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return state.Account{}, ErrUnknownAccount
	}
	return *acct, nil
}

func (e *Engine) observeApplied(op string) {
	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
}

func (e *Engine) observeRejected(op string) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op).Inc()
	}
}
