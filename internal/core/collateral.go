package core

import (
	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// Deposit pulls collateral in from custody and credits the account,
// registering it in the directory on first touch. No lock applies.
func (e *Engine) Deposit(owner uuid.UUID, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	err := e.atomic([]uuid.UUID{owner}, func() error {
		if err := e.custody.PullIn(owner, amount); err != nil {
			return err
		}
		acct := e.ledger.GetOrCreateAccount(owner)
		acct.CashBalance = acct.CashBalance.Add(amount)
		return nil
	})
	if err != nil {
		e.observeRejected("deposit")
		return err
	}
	e.observeApplied("deposit")
	return nil
}

// DepositAndSetBroker composes a deposit with an immediate broker set.
// The immediate path exists only for first-time accounts; an account
// that already exists goes through the normal broker timelock.
func (e *Engine) DepositAndSetBroker(owner, broker uuid.UUID, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.atomic([]uuid.UUID{owner}, func() error {
		if err := e.SetBroker(owner, broker); err != nil {
			return err
		}
		if err := e.custody.PullIn(owner, amount); err != nil {
			return err
		}
		acct := e.ledger.GetOrCreateAccount(owner)
		acct.CashBalance = acct.CashBalance.Add(amount)
		e.observeApplied("deposit")
		return nil
	})
}

// SetBroker delegates trading for owner's account. Brand-new accounts
// activate immediately; existing accounts record a pending change that
// activates lazily once the broker lock elapses. Last write wins.
func (e *Engine) SetBroker(owner, broker uuid.UUID) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	now := e.clock.Now()
	p := e.params.Current()

	acct := e.ledger.Account(owner)
	if acct == nil {
		acct = e.ledger.GetOrCreateAccount(owner)
		acct.Broker = broker
		e.observeApplied("set_broker")
		return nil
	}

	// Fold an already-unlocked pending change into the active slot
	// before recording the new one.
	if active := acct.CurrentBroker(now); active != acct.Broker {
		acct.Broker = active
	}
	acct.PendingBroker = broker
	acct.BrokerUnlockTime = now + p.BrokerLockPeriod
	e.observeApplied("set_broker")
	return nil
}

// Broker returns the account's currently-active broker.
func (e *Engine) Broker(owner uuid.UUID) (uuid.UUID, error) {
	acct := e.ledger.Account(owner)
	if acct == nil {
		return uuid.Nil, ErrUnknownAccount
	}
	return acct.CurrentBroker(e.clock.Now()), nil
}

// ApplyForWithdrawal earmarks cash for withdrawal behind the timelock.
// A new application overwrites any unexpired prior one (last write
// wins; there is no explicit cancel).
func (e *Engine) ApplyForWithdrawal(caller, owner uuid.UUID, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if caller != owner {
		return ErrUnauthorized
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	acct := e.ledger.Account(owner)
	if acct == nil {
		return ErrUnknownAccount
	}
	acct.AppliedBalance = amount
	acct.WithdrawalUnlockTime = e.clock.Now() + e.params.Current().WithdrawalLockPeriod
	e.observeApplied("apply_withdrawal")
	return nil
}

// Withdraw executes a previously applied withdrawal once its lock has
// cleared, re-checking margin at the execution-time price (the price
// may have moved since application).
func (e *Engine) Withdraw(caller, owner uuid.UUID, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if caller != owner {
		return ErrUnauthorized
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	acct := e.ledger.Account(owner)
	if acct == nil {
		return ErrUnknownAccount
	}

	cleared := fixmath.Zero()
	if e.clock.Now() >= acct.WithdrawalUnlockTime {
		cleared = acct.AppliedBalance
	}
	if amount.Cmp(cleared) > 0 {
		e.observeRejected("withdraw")
		return ErrInsufficientAppliedBalance
	}

	price := e.pollOracle()
	p := e.params.Current()
	if amount.Cmp(drawableBalance(e.ledger, acct, price, p)) > 0 {
		e.observeRejected("withdraw")
		return ErrMarginUnsafe
	}

	err := e.atomic([]uuid.UUID{owner}, func() error {
		acct.CashBalance = acct.CashBalance.Sub(amount)
		acct.AppliedBalance = acct.AppliedBalance.Sub(amount)
		return e.custody.PushOut(owner, amount)
	})
	if err != nil {
		e.observeRejected("withdraw")
		return err
	}
	e.observeApplied("withdraw")
	return nil
}

// TransferCashBalance moves collateral between two accounts inside the
// ledger, margin-checked on the sender.
func (e *Engine) TransferCashBalance(caller, from, to uuid.UUID, amount fixmath.Wad) error {
	if e.ledger.Status() != state.StatusNormal {
		return ErrWrongStatus
	}
	if caller != from {
		return ErrUnauthorized
	}
	if from == to {
		return ErrSelfTrade
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	fromAcct := e.ledger.Account(from)
	if fromAcct == nil {
		return ErrUnknownAccount
	}

	price := e.pollOracle()
	p := e.params.Current()
	if amount.Cmp(drawableBalance(e.ledger, fromAcct, price, p)) > 0 {
		e.observeRejected("transfer")
		return ErrMarginUnsafe
	}

	err := e.atomic([]uuid.UUID{from, to}, func() error {
		toAcct := e.ledger.GetOrCreateAccount(to)
		fromAcct.CashBalance = fromAcct.CashBalance.Sub(amount)
		toAcct.CashBalance = toAcct.CashBalance.Add(amount)
		return nil
	})
	if err != nil {
		return err
	}
	e.observeApplied("transfer")
	return nil
}

// DepositInsuranceFund credits the insurance fund from the admin's
// external balance. The fund is global: it never belongs to an account.
func (e *Engine) DepositInsuranceFund(caller uuid.UUID, amount fixmath.Wad) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return e.atomic(nil, func() error {
		if err := e.custody.PullIn(caller, amount); err != nil {
			return err
		}
		e.ledger.AddInsuranceFund(amount)
		e.observeApplied("insurance_deposit")
		return nil
	})
}

// WithdrawInsuranceFund moves part of the fund back out via custody,
// bounded by the fund balance.
func (e *Engine) WithdrawInsuranceFund(caller uuid.UUID, amount fixmath.Wad) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(e.ledger.InsuranceFund()) > 0 {
		return ErrInsufficientFund
	}
	return e.atomic(nil, func() error {
		e.ledger.AddInsuranceFund(amount.Neg())
		if err := e.custody.PushOut(caller, amount); err != nil {
			return err
		}
		e.observeApplied("insurance_withdraw")
		return nil
	})
}
