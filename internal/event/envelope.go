package event

import (
	"fmt"
	"time"
)

// CommandType discriminator for command payloads.
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeDeposit
	CommandTypeDepositAndSetBroker
	CommandTypeApplyWithdrawal
	CommandTypeWithdraw
	CommandTypeSetBroker
	CommandTypeTransferCash
	CommandTypeTrade
	CommandTypeLiquidate
	CommandTypeMarkPriceUpdate
	CommandTypeFundingIndexUpdate
	CommandTypeSetParameter
	CommandTypeSetDevAccount
	CommandTypeInsuranceDeposit
	CommandTypeInsuranceWithdraw
	CommandTypeBeginSettlement
	CommandTypeEndSettlement
	CommandTypeSettle
)

// Envelope wraps every command in the op log.
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// Decoded command payload
	Command Command

	// SHA-256 of ledger state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads implement.
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64
}

// NewCommand returns a zero-valued command of the named type, ready for
// JSON decoding. Used when replaying the op log.
func NewCommand(name string) (Command, error) {
	switch name {
	case "Deposit":
		return &Deposit{}, nil
	case "DepositAndSetBroker":
		return &DepositAndSetBroker{}, nil
	case "ApplyWithdrawal":
		return &ApplyWithdrawal{}, nil
	case "Withdraw":
		return &Withdraw{}, nil
	case "SetBroker":
		return &SetBroker{}, nil
	case "TransferCash":
		return &TransferCash{}, nil
	case "Trade":
		return &Trade{}, nil
	case "Liquidate":
		return &Liquidate{}, nil
	case "MarkPriceUpdate":
		return &MarkPriceUpdate{}, nil
	case "FundingIndexUpdate":
		return &FundingIndexUpdate{}, nil
	case "SetParameter":
		return &SetParameter{}, nil
	case "SetDevAccount":
		return &SetDevAccount{}, nil
	case "InsuranceDeposit":
		return &InsuranceDeposit{}, nil
	case "InsuranceWithdraw":
		return &InsuranceWithdraw{}, nil
	case "BeginSettlement":
		return &BeginSettlement{}, nil
	case "EndSettlement":
		return &EndSettlement{}, nil
	case "Settle":
		return &Settle{}, nil
	default:
		return nil, fmt.Errorf("unknown command type %q", name)
	}
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeDeposit:
		return "Deposit"
	case CommandTypeDepositAndSetBroker:
		return "DepositAndSetBroker"
	case CommandTypeApplyWithdrawal:
		return "ApplyWithdrawal"
	case CommandTypeWithdraw:
		return "Withdraw"
	case CommandTypeSetBroker:
		return "SetBroker"
	case CommandTypeTransferCash:
		return "TransferCash"
	case CommandTypeTrade:
		return "Trade"
	case CommandTypeLiquidate:
		return "Liquidate"
	case CommandTypeMarkPriceUpdate:
		return "MarkPriceUpdate"
	case CommandTypeFundingIndexUpdate:
		return "FundingIndexUpdate"
	case CommandTypeSetParameter:
		return "SetParameter"
	case CommandTypeSetDevAccount:
		return "SetDevAccount"
	case CommandTypeInsuranceDeposit:
		return "InsuranceDeposit"
	case CommandTypeInsuranceWithdraw:
		return "InsuranceWithdraw"
	case CommandTypeBeginSettlement:
		return "BeginSettlement"
	case CommandTypeEndSettlement:
		return "EndSettlement"
	case CommandTypeSettle:
		return "Settle"
	default:
		return "Unknown"
	}
}
