package core

import "errors"

// Operation failures. Every one aborts the whole operation with no state
// change; none is fatal to the process.
var (
	// ErrMarginUnsafe: a trade or withdrawal would breach initial margin.
	ErrMarginUnsafe = errors.New("margin unsafe")

	// ErrAccountSafe: liquidation attempted on a target not in breach.
	ErrAccountSafe = errors.New("account is safe")

	// ErrLiquidatorUnsafe: the liquidator cannot safely absorb any amount.
	ErrLiquidatorUnsafe = errors.New("liquidator margin unsafe")

	// ErrInsufficientAppliedBalance: withdrawal exceeds the cleared
	// applied amount.
	ErrInsufficientAppliedBalance = errors.New("insufficient applied balance")

	// ErrWrongStatus: settlement state machine misuse.
	ErrWrongStatus = errors.New("wrong perpetual status")

	// ErrAlreadySettled: settlement may not begin again once ended.
	ErrAlreadySettled = errors.New("already settled")

	// ErrUnauthorized: caller is neither owner nor active broker, or
	// lacks the administrative capability.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTradingLot: amount is not a positive multiple of the
	// trading lot size.
	ErrInvalidTradingLot = errors.New("amount must be a positive multiple of trading lot size")

	// ErrInvalidAmount: non-positive or otherwise malformed amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFund: insurance fund withdrawal exceeds its balance.
	ErrInsufficientFund = errors.New("insufficient insurance fund")

	// ErrSelfTrade: taker and maker (or liquidator and target) are the
	// same account.
	ErrSelfTrade = errors.New("self trade")

	// ErrUnknownAccount: operation on an identity never registered.
	ErrUnknownAccount = errors.New("unknown account")
)
