package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// AccountResponse is the raw ledger record for one account.
type AccountResponse struct {
	Owner                uuid.UUID   `json:"owner"`
	CashBalance          fixmath.Wad `json:"cash_balance"`
	AppliedBalance       fixmath.Wad `json:"applied_balance"`
	WithdrawalUnlockTime int64       `json:"withdrawal_unlock_time"`
	Broker               uuid.UUID   `json:"broker"`
	PendingBroker        uuid.UUID   `json:"pending_broker,omitempty"`
	BrokerUnlockTime     int64       `json:"broker_unlock_time,omitempty"`
	Side                 string      `json:"side"`
	Size                 fixmath.Wad `json:"size"`
	EntryValue           fixmath.Wad `json:"entry_value"`
	EntrySocialLoss      fixmath.Wad `json:"entry_social_loss"`
	EntryFundingLoss     fixmath.Wad `json:"entry_funding_loss"`
	AsOfSequence         int64       `json:"as_of_sequence"`
}

// BookResponse is the global book state.
type BookResponse struct {
	Status                     string      `json:"status"`
	MarkPrice                  fixmath.Wad `json:"mark_price"`
	SettlementPrice            fixmath.Wad `json:"settlement_price,omitempty"`
	TotalSizeLong              fixmath.Wad `json:"total_size_long"`
	TotalSizeShort             fixmath.Wad `json:"total_size_short"`
	SocialLossPerContractLong  fixmath.Wad `json:"social_loss_per_contract_long"`
	SocialLossPerContractShort fixmath.Wad `json:"social_loss_per_contract_short"`
	FundingLossPerContract     fixmath.Wad `json:"funding_loss_per_contract"`
	InsuranceFund              fixmath.Wad `json:"insurance_fund"`
	TotalAccounts              int         `json:"total_accounts"`
	AsOfSequence               int64       `json:"as_of_sequence"`
	StateHash                  string      `json:"state_hash"`
}

// ParamsResponse renders the current governance values.
type ParamsResponse struct {
	InitialMarginRate      fixmath.Wad `json:"initialMarginRate"`
	MaintenanceMarginRate  fixmath.Wad `json:"maintenanceMarginRate"`
	LiquidationPenaltyRate fixmath.Wad `json:"liquidationPenaltyRate"`
	PenaltyFundRate        fixmath.Wad `json:"penaltyFundRate"`
	TakerDevFeeRate        fixmath.Wad `json:"takerDevFeeRate"`
	MakerDevFeeRate        fixmath.Wad `json:"makerDevFeeRate"`
	LotSize                fixmath.Wad `json:"lotSize"`
	TradingLotSize         fixmath.Wad `json:"tradingLotSize"`
	WithdrawalLockPeriod   int64       `json:"withdrawalLockPeriod"`
	BrokerLockPeriod       int64       `json:"brokerLockPeriod"`
	DevAccount             uuid.UUID   `json:"devAccount"`
	AsOfSequence           int64       `json:"as_of_sequence"`
}

// AccountPage is one page of the append-only account directory.
type AccountPage struct {
	Owners       []uuid.UUID `json:"owners"`
	Offset       int         `json:"offset"`
	Total        int         `json:"total"`
	AsOfSequence int64       `json:"as_of_sequence"`
}

// HistoryEntry is one applied operation touching an account, read back
// from the op history projection.
type HistoryEntry struct {
	Sequence    int64           `json:"sequence"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}
