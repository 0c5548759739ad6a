package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed command plus its versioned timestamp. The shell
// validates and converts here; the core only ever sees typed commands.
func ParseRawCommand(raw RawCommand, commandType string) (event.Command, time.Time, error) {
	switch commandType {
	case "Trade":
		return parseTrade(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "ApplyWithdrawal":
		return parseApplyWithdrawal(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "SetBroker":
		return parseSetBroker(raw.Data)
	case "TransferCash":
		return parseTransferCash(raw.Data)
	case "Liquidate":
		return parseLiquidate(raw.Data)
	case "MarkPriceUpdate":
		return parseMarkPrice(raw.Data)
	case "FundingIndexUpdate":
		return parseFundingIndex(raw.Data)
	case "SetParameter":
		return parseSetParameter(raw.Data)
	case "SetDevAccount":
		return parseSetDevAccount(raw.Data)
	case "InsuranceDeposit":
		return parseInsurance(raw.Data, false)
	case "InsuranceWithdraw":
		return parseInsurance(raw.Data, true)
	case "BeginSettlement":
		return parseBeginSettlement(raw.Data)
	case "EndSettlement":
		return parseEndSettlement(raw.Data)
	case "Settle":
		return parseSettle(raw.Data)
	default:
		return nil, time.Time{}, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// parseWad converts an upstream decimal string into the ledger's
// fixed-point representation, rejecting anything finer than 18 places.
func parseWad(s string) (fixmath.Wad, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fixmath.Wad{}, err
	}
	scaled := d.Shift(18)
	if !scaled.IsInteger() {
		return fixmath.Wad{}, fmt.Errorf("more than 18 decimal places: %s", s)
	}
	return fixmath.FromRaw(scaled.BigInt()), nil
}

func parsePositiveWad(field, s string) (fixmath.Wad, error) {
	w, err := parseWad(s)
	if err != nil {
		return fixmath.Wad{}, fmt.Errorf("parse %s: %w", field, err)
	}
	if w.Sign() <= 0 {
		return fixmath.Wad{}, fmt.Errorf("%s must be positive, got %s", field, s)
	}
	return w, nil
}

func parseUUID(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

func parseSide(s string) (event.Side, error) {
	switch s {
	case "long":
		return event.SideLong, nil
	case "short":
		return event.SideShort, nil
	default:
		return event.SideFlat, fmt.Errorf("parse side: %q", s)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Monetary
// amounts travel as decimal strings, never floats.

type tradeJSON struct {
	FillID       string `json:"fill_id"`
	TakerCaller  string `json:"taker_caller"`
	Taker        string `json:"taker"`
	MakerCaller  string `json:"maker_caller"`
	Maker        string `json:"maker"`
	Side         string `json:"side"` // taker's side: "long" or "short"
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	FillSequence int64  `json:"fill_sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseTrade(data []byte) (event.Command, time.Time, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse Trade: %w", err)
	}
	fillID, err := parseUUID("fill_id", j.FillID)
	if err != nil {
		return nil, time.Time{}, err
	}
	taker, err := parseUUID("taker", j.Taker)
	if err != nil {
		return nil, time.Time{}, err
	}
	maker, err := parseUUID("maker", j.Maker)
	if err != nil {
		return nil, time.Time{}, err
	}
	// Callers default to the owners when omitted (self-traded accounts).
	takerCaller := taker
	if j.TakerCaller != "" {
		if takerCaller, err = parseUUID("taker_caller", j.TakerCaller); err != nil {
			return nil, time.Time{}, err
		}
	}
	makerCaller := maker
	if j.MakerCaller != "" {
		if makerCaller, err = parseUUID("maker_caller", j.MakerCaller); err != nil {
			return nil, time.Time{}, err
		}
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, time.Time{}, err
	}
	price, err := parsePositiveWad("price", j.Price)
	if err != nil {
		return nil, time.Time{}, err
	}
	amount, err := parsePositiveWad("amount", j.Amount)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.Trade{
		FillID:       fillID,
		TakerCaller:  takerCaller,
		Taker:        taker,
		MakerCaller:  makerCaller,
		Maker:        maker,
		Side:         side,
		Price:        price,
		Amount:       amount,
		FillSequence: j.FillSequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type depositJSON struct {
	TransferID  string `json:"transfer_id"`
	Owner       string `json:"owner"`
	Broker      string `json:"broker,omitempty"` // set => deposit-and-set-broker
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDeposit(data []byte) (event.Command, time.Time, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse Deposit: %w", err)
	}
	transferID, err := parseUUID("transfer_id", j.TransferID)
	if err != nil {
		return nil, time.Time{}, err
	}
	owner, err := parseUUID("owner", j.Owner)
	if err != nil {
		return nil, time.Time{}, err
	}
	amount, err := parsePositiveWad("amount", j.Amount)
	if err != nil {
		return nil, time.Time{}, err
	}
	ts := time.UnixMicro(j.TimestampUs)
	if j.Broker != "" {
		broker, err := parseUUID("broker", j.Broker)
		if err != nil {
			return nil, time.Time{}, err
		}
		return &event.DepositAndSetBroker{
			TransferID: transferID,
			Owner:      owner,
			Broker:     broker,
			Amount:     amount,
			Sequence:   j.Sequence,
		}, ts, nil
	}
	return &event.Deposit{
		TransferID: transferID,
		Owner:      owner,
		Amount:     amount,
		Sequence:   j.Sequence,
	}, ts, nil
}

type withdrawalJSON struct {
	RequestID   string `json:"request_id"`
	Caller      string `json:"caller"`
	Owner       string `json:"owner"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j *withdrawalJSON) decode(what string) (uuid.UUID, uuid.UUID, uuid.UUID, fixmath.Wad, error) {
	requestID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fixmath.Wad{}, err
	}
	owner, err := parseUUID("owner", j.Owner)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fixmath.Wad{}, err
	}
	caller := owner
	if j.Caller != "" {
		if caller, err = parseUUID("caller", j.Caller); err != nil {
			return uuid.Nil, uuid.Nil, uuid.Nil, fixmath.Wad{}, err
		}
	}
	amount, err := parsePositiveWad("amount", j.Amount)
	if err != nil {
		return uuid.Nil, uuid.Nil, uuid.Nil, fixmath.Wad{}, fmt.Errorf("%s: %w", what, err)
	}
	return requestID, caller, owner, amount, nil
}

func parseApplyWithdrawal(data []byte) (event.Command, time.Time, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse ApplyWithdrawal: %w", err)
	}
	requestID, caller, owner, amount, err := j.decode("ApplyWithdrawal")
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.ApplyWithdrawal{
		RequestID: requestID,
		Caller:    caller,
		Owner:     owner,
		Amount:    amount,
		Sequence:  j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

func parseWithdraw(data []byte) (event.Command, time.Time, error) {
	var j withdrawalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse Withdraw: %w", err)
	}
	requestID, caller, owner, amount, err := j.decode("Withdraw")
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.Withdraw{
		RequestID: requestID,
		Caller:    caller,
		Owner:     owner,
		Amount:    amount,
		Sequence:  j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type setBrokerJSON struct {
	RequestID   string `json:"request_id"`
	Owner       string `json:"owner"`
	Broker      string `json:"broker"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSetBroker(data []byte) (event.Command, time.Time, error) {
	var j setBrokerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse SetBroker: %w", err)
	}
	requestID, err := parseUUID("request_id", j.RequestID)
	if err != nil {
		return nil, time.Time{}, err
	}
	owner, err := parseUUID("owner", j.Owner)
	if err != nil {
		return nil, time.Time{}, err
	}
	broker, err := parseUUID("broker", j.Broker)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.SetBroker{
		RequestID: requestID,
		Owner:     owner,
		Broker:    broker,
		Sequence:  j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type transferJSON struct {
	TransferID  string `json:"transfer_id"`
	Caller      string `json:"caller"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseTransferCash(data []byte) (event.Command, time.Time, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse TransferCash: %w", err)
	}
	transferID, err := parseUUID("transfer_id", j.TransferID)
	if err != nil {
		return nil, time.Time{}, err
	}
	from, err := parseUUID("from", j.From)
	if err != nil {
		return nil, time.Time{}, err
	}
	to, err := parseUUID("to", j.To)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller := from
	if j.Caller != "" {
		if caller, err = parseUUID("caller", j.Caller); err != nil {
			return nil, time.Time{}, err
		}
	}
	amount, err := parsePositiveWad("amount", j.Amount)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.TransferCash{
		TransferID: transferID,
		Caller:     caller,
		From:       from,
		To:         to,
		Amount:     amount,
		Sequence:   j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type liquidateJSON struct {
	LiquidationID string `json:"liquidation_id"`
	Liquidator    string `json:"liquidator"`
	Target        string `json:"target"`
	MaxAmount     string `json:"max_amount"`
	Sequence      int64  `json:"sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseLiquidate(data []byte) (event.Command, time.Time, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse Liquidate: %w", err)
	}
	liqID, err := parseUUID("liquidation_id", j.LiquidationID)
	if err != nil {
		return nil, time.Time{}, err
	}
	liquidator, err := parseUUID("liquidator", j.Liquidator)
	if err != nil {
		return nil, time.Time{}, err
	}
	target, err := parseUUID("target", j.Target)
	if err != nil {
		return nil, time.Time{}, err
	}
	maxAmount, err := parsePositiveWad("max_amount", j.MaxAmount)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.Liquidate{
		LiquidationID: liqID,
		Liquidator:    liquidator,
		Target:        target,
		MaxAmount:     maxAmount,
		Sequence:      j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type markPriceJSON struct {
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us"`
}

func parseMarkPrice(data []byte) (event.Command, time.Time, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse MarkPriceUpdate: %w", err)
	}
	price, err := parsePositiveWad("price", j.Price)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.MarkPriceUpdate{
		Price:    price,
		Sequence: j.PriceSequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type fundingIndexJSON struct {
	Index       string `json:"index"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseFundingIndex(data []byte) (event.Command, time.Time, error) {
	var j fundingIndexJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse FundingIndexUpdate: %w", err)
	}
	// The index may legitimately be zero or regress; the ledger ratchets.
	index, err := parseWad(j.Index)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse index: %w", err)
	}
	return &event.FundingIndexUpdate{
		Index:    index,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type setParameterJSON struct {
	ChangeID    string `json:"change_id"`
	Caller      string `json:"caller"`
	Key         string `json:"key"`
	Value       string `json:"value"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSetParameter(data []byte) (event.Command, time.Time, error) {
	var j setParameterJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse SetParameter: %w", err)
	}
	changeID, err := parseUUID("change_id", j.ChangeID)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller, err := parseUUID("caller", j.Caller)
	if err != nil {
		return nil, time.Time{}, err
	}
	value, err := parseWad(j.Value)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse value: %w", err)
	}
	return &event.SetParameter{
		ChangeID: changeID,
		Caller:   caller,
		Key:      j.Key,
		Value:    value,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type setDevAccountJSON struct {
	ChangeID    string `json:"change_id"`
	Caller      string `json:"caller"`
	Dev         string `json:"dev"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSetDevAccount(data []byte) (event.Command, time.Time, error) {
	var j setDevAccountJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse SetDevAccount: %w", err)
	}
	changeID, err := parseUUID("change_id", j.ChangeID)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller, err := parseUUID("caller", j.Caller)
	if err != nil {
		return nil, time.Time{}, err
	}
	dev, err := parseUUID("dev", j.Dev)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.SetDevAccount{
		ChangeID: changeID,
		Caller:   caller,
		Dev:      dev,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type insuranceJSON struct {
	TransferID  string `json:"transfer_id"`
	Caller      string `json:"caller"`
	Amount      string `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseInsurance(data []byte, withdraw bool) (event.Command, time.Time, error) {
	var j insuranceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse insurance transfer: %w", err)
	}
	transferID, err := parseUUID("transfer_id", j.TransferID)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller, err := parseUUID("caller", j.Caller)
	if err != nil {
		return nil, time.Time{}, err
	}
	amount, err := parsePositiveWad("amount", j.Amount)
	if err != nil {
		return nil, time.Time{}, err
	}
	ts := time.UnixMicro(j.TimestampUs)
	if withdraw {
		return &event.InsuranceWithdraw{
			TransferID: transferID,
			Caller:     caller,
			Amount:     amount,
			Sequence:   j.Sequence,
		}, ts, nil
	}
	return &event.InsuranceDeposit{
		TransferID: transferID,
		Caller:     caller,
		Amount:     amount,
		Sequence:   j.Sequence,
	}, ts, nil
}

type beginSettlementJSON struct {
	ChangeID    string `json:"change_id"`
	Caller      string `json:"caller"`
	Price       string `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseBeginSettlement(data []byte) (event.Command, time.Time, error) {
	var j beginSettlementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse BeginSettlement: %w", err)
	}
	changeID, err := parseUUID("change_id", j.ChangeID)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller, err := parseUUID("caller", j.Caller)
	if err != nil {
		return nil, time.Time{}, err
	}
	price, err := parsePositiveWad("price", j.Price)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.BeginSettlement{
		ChangeID: changeID,
		Caller:   caller,
		Price:    price,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type endSettlementJSON struct {
	ChangeID    string `json:"change_id"`
	Caller      string `json:"caller"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseEndSettlement(data []byte) (event.Command, time.Time, error) {
	var j endSettlementJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse EndSettlement: %w", err)
	}
	changeID, err := parseUUID("change_id", j.ChangeID)
	if err != nil {
		return nil, time.Time{}, err
	}
	caller, err := parseUUID("caller", j.Caller)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.EndSettlement{
		ChangeID: changeID,
		Caller:   caller,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}

type settleJSON struct {
	Owner       string `json:"owner"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSettle(data []byte) (event.Command, time.Time, error) {
	var j settleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, time.Time{}, fmt.Errorf("parse Settle: %w", err)
	}
	owner, err := parseUUID("owner", j.Owner)
	if err != nil {
		return nil, time.Time{}, err
	}
	return &event.Settle{
		Owner:    owner,
		Sequence: j.Sequence,
	}, time.UnixMicro(j.TimestampUs), nil
}
