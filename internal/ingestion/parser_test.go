package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTrade(t *testing.T) {
	payload := map[string]interface{}{
		"fill_id":       "550e8400-e29b-41d4-a716-446655440000",
		"taker":         "660e8400-e29b-41d4-a716-446655440001",
		"maker":         "770e8400-e29b-41d4-a716-446655440002",
		"side":          "long",
		"price":         "7000.25",
		"amount":        "1.5",
		"fill_sequence": int64(42),
		"timestamp_us":  int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	cmd, ts, err := ingestion.ParseRawCommand(raw, "Trade")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	trade, ok := cmd.(*event.Trade)
	if !ok {
		t.Fatalf("expected *event.Trade, got %T", cmd)
	}
	if trade.Side != event.SideLong {
		t.Errorf("side: got %s, want Long", trade.Side)
	}
	if !trade.Price.Equal(fixmath.MustParse("7000.25")) {
		t.Errorf("price: got %s, want 7000.25", trade.Price)
	}
	if !trade.Amount.Equal(fixmath.MustParse("1.5")) {
		t.Errorf("amount: got %s, want 1.5", trade.Amount)
	}
	// Callers omitted: default to the owners.
	if trade.TakerCaller != trade.Taker || trade.MakerCaller != trade.Maker {
		t.Error("omitted callers should default to owners")
	}
	if trade.SourceSequence() != 42 {
		t.Errorf("fill_sequence: got %d, want 42", trade.SourceSequence())
	}
	if ts.UnixMicro() != 1700000000000000 {
		t.Errorf("timestamp: got %d", ts.UnixMicro())
	}
	if trade.CommandType() != event.CommandTypeTrade {
		t.Errorf("command type: got %v, want Trade", trade.CommandType())
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id":  "550e8400-e29b-41d4-a716-446655440000",
		"owner":        "660e8400-e29b-41d4-a716-446655440001",
		"amount":       "250.75",
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	cmd, _, err := ingestion.ParseRawCommand(rawFromJSON(t, payload), "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dep, ok := cmd.(*event.Deposit)
	if !ok {
		t.Fatalf("expected *event.Deposit, got %T", cmd)
	}
	if !dep.Amount.Equal(fixmath.MustParse("250.75")) {
		t.Errorf("amount: got %s, want 250.75", dep.Amount)
	}

	// A broker field upgrades the command to deposit-and-set-broker.
	payload["broker"] = "770e8400-e29b-41d4-a716-446655440002"
	cmd, _, err = ingestion.ParseRawCommand(rawFromJSON(t, payload), "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := cmd.(*event.DepositAndSetBroker); !ok {
		t.Fatalf("expected *event.DepositAndSetBroker, got %T", cmd)
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"liquidation_id": "550e8400-e29b-41d4-a716-446655440000",
		"liquidator":     "660e8400-e29b-41d4-a716-446655440001",
		"target":         "770e8400-e29b-41d4-a716-446655440002",
		"max_amount":     "0.5",
		"sequence":       int64(3),
		"timestamp_us":   int64(1700000000000000),
	}

	cmd, _, err := ingestion.ParseRawCommand(rawFromJSON(t, payload), "Liquidate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	liq, ok := cmd.(*event.Liquidate)
	if !ok {
		t.Fatalf("expected *event.Liquidate, got %T", cmd)
	}
	if !liq.MaxAmount.Equal(fixmath.MustParse("0.5")) {
		t.Errorf("max_amount: got %s, want 0.5", liq.MaxAmount)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name        string
		commandType string
		payload     map[string]interface{}
	}{
		{
			name:        "bad uuid",
			commandType: "Deposit",
			payload: map[string]interface{}{
				"transfer_id": "not-a-uuid",
				"owner":       "660e8400-e29b-41d4-a716-446655440001",
				"amount":      "10",
			},
		},
		{
			name:        "negative amount",
			commandType: "Deposit",
			payload: map[string]interface{}{
				"transfer_id": "550e8400-e29b-41d4-a716-446655440000",
				"owner":       "660e8400-e29b-41d4-a716-446655440001",
				"amount":      "-10",
			},
		},
		{
			name:        "amount as float garbage",
			commandType: "Deposit",
			payload: map[string]interface{}{
				"transfer_id": "550e8400-e29b-41d4-a716-446655440000",
				"owner":       "660e8400-e29b-41d4-a716-446655440001",
				"amount":      "ten",
			},
		},
		{
			name:        "too many decimal places",
			commandType: "Deposit",
			payload: map[string]interface{}{
				"transfer_id": "550e8400-e29b-41d4-a716-446655440000",
				"owner":       "660e8400-e29b-41d4-a716-446655440001",
				"amount":      "1.0000000000000000001",
			},
		},
		{
			name:        "bad side",
			commandType: "Trade",
			payload: map[string]interface{}{
				"fill_id": "550e8400-e29b-41d4-a716-446655440000",
				"taker":   "660e8400-e29b-41d4-a716-446655440001",
				"maker":   "770e8400-e29b-41d4-a716-446655440002",
				"side":    "sideways",
				"price":   "7000",
				"amount":  "1",
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ingestion.ParseRawCommand(rawFromJSON(t, tc.payload), tc.commandType); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestParseUnknownCommandType(t *testing.T) {
	if _, _, err := ingestion.ParseRawCommand(rawFromJSON(t, map[string]interface{}{}), "NoSuchCommand"); err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseFundingIndexAllowsZeroAndNegative(t *testing.T) {
	for _, index := range []string{"0", "-1.25"} {
		payload := map[string]interface{}{
			"index":        index,
			"sequence":     int64(1),
			"timestamp_us": int64(1700000000000000),
		}
		cmd, _, err := ingestion.ParseRawCommand(rawFromJSON(t, payload), "FundingIndexUpdate")
		if err != nil {
			t.Fatalf("index %s: %v", index, err)
		}
		fi := cmd.(*event.FundingIndexUpdate)
		if !fi.Index.Equal(fixmath.MustParse(index)) {
			t.Errorf("index: got %s, want %s", fi.Index, index)
		}
	}
}
