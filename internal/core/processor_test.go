package core

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// ==========================================================================
// Fixture
// ==========================================================================

type procFixture struct {
	t       *testing.T
	proc    *Processor
	engine  *Engine
	custody *state.MemoryCustody
	persist chan OpRecord
	admin   uuid.UUID
}

func newProcFixture(t *testing.T, cfgFns ...func(*ProcessorConfig)) *procFixture {
	t.Helper()
	admin := uuid.New()
	params := state.DefaultGovParams()
	params.TakerDevFeeRate = fixmath.Zero()
	params.MakerDevFeeRate = fixmath.Zero()

	feed := state.NewFeedState(wad("7000"))
	custody := state.NewMemoryCustody()
	clock := state.NewManualClock(0)

	engine := NewEngine(Deps{
		Ledger:  state.NewLedger(),
		Params:  state.NewParamStore(admin, params),
		Feed:    feed,
		Custody: custody,
		Clock:   clock,
	})

	cfg := ProcessorConfig{
		Engine: engine,
		Feed:   feed,
		Clock:  clock,
	}
	for _, fn := range cfgFns {
		fn(&cfg)
	}

	proc := NewProcessor(cfg)
	persist := make(chan OpRecord, 256)
	publish := make(chan OpRecord, 256)
	proc.AttachOutputs(persist, publish)

	return &procFixture{
		t:       t,
		proc:    proc,
		engine:  engine,
		custody: custody,
		persist: persist,
		admin:   admin,
	}
}

func (f *procFixture) apply(cmd event.Command, ts time.Time) {
	f.t.Helper()
	if err := f.proc.Apply(cmd, ts); err != nil {
		f.t.Fatalf("apply %s: %v", cmd.CommandType(), err)
	}
}

func (f *procFixture) drainPersist() []OpRecord {
	var recs []OpRecord
	for {
		select {
		case rec := <-f.persist:
			recs = append(recs, rec)
		default:
			return recs
		}
	}
}

func depositCmd(owner uuid.UUID, amount string) *event.Deposit {
	return &event.Deposit{
		TransferID: uuid.New(),
		Owner:      owner,
		Amount:     wad(amount),
	}
}

var t0 = time.Unix(1_700_000_000, 0).UTC()

// ==========================================================================
// Sequencing and hash chain
// ==========================================================================

func TestProcessor_DenseSequenceAndHashChain(t *testing.T) {
	f := newProcFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.custody.Fund(u1, wad("70000"))
	f.custody.Fund(u2, wad("70000"))

	f.apply(depositCmd(u1, "70000"), t0)
	f.apply(depositCmd(u2, "70000"), t0.Add(time.Second))
	f.apply(&event.Trade{
		FillID: uuid.New(), TakerCaller: u1, Taker: u1, MakerCaller: u2, Maker: u2,
		Side: event.SideLong, Price: wad("7000"), Amount: wad("1"),
	}, t0.Add(2*time.Second))

	recs := f.drainPersist()
	if len(recs) != 3 {
		t.Fatalf("persisted %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Envelope.Sequence != int64(i) {
			t.Errorf("record %d has sequence %d", i, rec.Envelope.Sequence)
		}
		if i > 0 && rec.Envelope.PrevHash != recs[i-1].Envelope.StateHash {
			t.Errorf("record %d prev hash does not chain to record %d", i, i-1)
		}
		if rec.Envelope.StateHash == ([32]byte{}) {
			t.Errorf("record %d has zero state hash", i)
		}
	}
	if f.proc.Sequence() != 3 {
		t.Errorf("next sequence = %d, want 3", f.proc.Sequence())
	}
	if f.proc.StateHash() != recs[2].Envelope.StateHash {
		t.Error("chain tip does not match last record")
	}
}

func TestProcessor_DuplicateCommandConsumesNoSequence(t *testing.T) {
	f := newProcFixture(t)
	owner := uuid.New()
	f.custody.Fund(owner, wad("100"))

	cmd := depositCmd(owner, "100")
	f.apply(cmd, t0)
	f.apply(cmd, t0.Add(time.Minute)) // redelivery

	if got := len(f.drainPersist()); got != 1 {
		t.Fatalf("persisted %d records, want 1", got)
	}
	if f.proc.Sequence() != 1 {
		t.Errorf("next sequence = %d, want 1", f.proc.Sequence())
	}
}

func TestProcessor_RejectedCommandConsumesNoSequence(t *testing.T) {
	f := newProcFixture(t)
	owner := uuid.New()

	// No custody funds, no account: the engine rejects this withdrawal.
	err := f.proc.Apply(&event.Withdraw{
		RequestID: uuid.New(), Caller: owner, Owner: owner, Amount: wad("5"),
	}, t0)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if got := len(f.drainPersist()); got != 0 {
		t.Fatalf("persisted %d records, want 0", got)
	}
	if f.proc.Sequence() != 0 {
		t.Errorf("next sequence = %d, want 0", f.proc.Sequence())
	}

	// The failed command's key must not poison dedup for a retry that
	// becomes valid later.
	f.custody.Fund(owner, wad("10"))
	f.apply(depositCmd(owner, "10"), t0.Add(time.Second))
	if f.proc.Sequence() != 1 {
		t.Errorf("next sequence after valid command = %d, want 1", f.proc.Sequence())
	}
}

// ==========================================================================
// Snapshot, restore and replay
// ==========================================================================

func TestProcessor_SnapshotRestoreReplay(t *testing.T) {
	f := newProcFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.custody.Fund(u1, wad("70000"))
	f.custody.Fund(u2, wad("70000"))

	f.apply(depositCmd(u1, "70000"), t0)
	f.apply(depositCmd(u2, "70000"), t0.Add(time.Second))

	// Snapshot after two ops, then keep going.
	snap := f.proc.CaptureSnapshot()
	snapSeq := f.proc.Sequence()
	snapHash := f.proc.StateHash()

	f.apply(&event.MarkPriceUpdate{Price: wad("7100")}, t0.Add(2*time.Second))
	f.apply(&event.Trade{
		FillID: uuid.New(), TakerCaller: u1, Taker: u1, MakerCaller: u2, Maker: u2,
		Side: event.SideLong, Price: wad("7100"), Amount: wad("2"),
	}, t0.Add(3*time.Second))
	recs := f.drainPersist()

	// A fresh processor restored from the snapshot replays the tail and
	// must land on the identical hash chain.
	f2 := newProcFixture(t, func(cfg *ProcessorConfig) {
		cfg.StartSequence = snapSeq
		cfg.PrevHash = snapHash
	})
	f2.proc.RestoreSnapshot(snap)

	for _, rec := range recs[snapSeq:] {
		hash, err := f2.proc.Replay(rec.Envelope.Command, rec.Envelope.Timestamp)
		if err != nil {
			t.Fatalf("replay seq %d: %v", rec.Envelope.Sequence, err)
		}
		if hash != rec.Envelope.StateHash {
			t.Fatalf("replay seq %d: hash diverged", rec.Envelope.Sequence)
		}
	}
	if f2.proc.Sequence() != f.proc.Sequence() {
		t.Errorf("replayed sequence = %d, want %d", f2.proc.Sequence(), f.proc.Sequence())
	}
	if f2.proc.StateHash() != f.proc.StateHash() {
		t.Error("replayed chain tip diverged")
	}
}

func TestProcessor_SnapshotCarriesParamsAndFeed(t *testing.T) {
	f := newProcFixture(t)

	f.apply(&event.SetParameter{
		ChangeID: uuid.New(), Caller: f.admin,
		Key: "liquidationPenaltyRate", Value: wad("0.01"),
	}, t0)
	f.apply(&event.MarkPriceUpdate{Price: wad("6500")}, t0.Add(time.Second))
	f.apply(&event.FundingIndexUpdate{Index: wad("-3.5")}, t0.Add(2*time.Second))

	snap := f.proc.CaptureSnapshot()
	if !snap.Params.LiquidationPenaltyRate.Equal(wad("0.01")) {
		t.Errorf("snapshot penalty rate = %s, want 0.01", snap.Params.LiquidationPenaltyRate)
	}
	if !snap.MarkPrice.Equal(wad("6500")) {
		t.Errorf("snapshot mark price = %s, want 6500", snap.MarkPrice)
	}
	if !snap.FundingIndex.Equal(wad("-3.5")) {
		t.Errorf("snapshot funding index = %s, want -3.5", snap.FundingIndex)
	}

	f2 := newProcFixture(t)
	f2.proc.RestoreSnapshot(snap)
	restored := f2.proc.CaptureSnapshot()
	if !restored.Params.LiquidationPenaltyRate.Equal(wad("0.01")) {
		t.Error("restored params diverged")
	}
	if !restored.MarkPrice.Equal(wad("6500")) || !restored.FundingIndex.Equal(wad("-3.5")) {
		t.Error("restored feed diverged")
	}
}

// ==========================================================================
// Settlement through the command loop
// ==========================================================================

// Settling an open position flattens one side of the book at a time;
// the full lifecycle must apply cleanly, not trip the post-command
// validation.
func TestProcessor_SettlementLifecycle(t *testing.T) {
	f := newProcFixture(t)
	u1, u2 := uuid.New(), uuid.New()
	f.custody.Fund(u1, wad("10000"))
	f.custody.Fund(u2, wad("10000"))

	f.apply(depositCmd(u1, "10000"), t0)
	f.apply(depositCmd(u2, "10000"), t0.Add(time.Second))
	f.apply(&event.Trade{
		FillID: uuid.New(), TakerCaller: u1, Taker: u1, MakerCaller: u2, Maker: u2,
		Side: event.SideLong, Price: wad("7000"), Amount: wad("1"),
	}, t0.Add(2*time.Second))

	f.apply(&event.BeginSettlement{
		ChangeID: uuid.New(), Caller: f.admin, Price: wad("7000"),
	}, t0.Add(3*time.Second))
	f.apply(&event.EndSettlement{
		ChangeID: uuid.New(), Caller: f.admin,
	}, t0.Add(4*time.Second))

	// First settle leaves the sides unmatched until its counterpart
	// exits; both must go through the loop without incident.
	f.apply(&event.Settle{Owner: u1, Sequence: 1}, t0.Add(5*time.Second))
	f.apply(&event.Settle{Owner: u2, Sequence: 2}, t0.Add(6*time.Second))

	if f.proc.Sequence() != 7 {
		t.Errorf("next sequence = %d, want 7", f.proc.Sequence())
	}
	if !f.engine.TotalSize(event.SideLong).IsZero() || !f.engine.TotalSize(event.SideShort).IsZero() {
		t.Errorf("open interest after full settlement: long=%s short=%s",
			f.engine.TotalSize(event.SideLong), f.engine.TotalSize(event.SideShort))
	}
	// At the entry price both margin balances are whole; everything
	// returns to custody.
	assertWad(t, "u1 payout", f.custody.Balance(u1), "10000")
	assertWad(t, "u2 payout", f.custody.Balance(u2), "10000")
}

// ==========================================================================
// Inspect
// ==========================================================================

func TestProcessor_InspectRunsOnProcessorGoroutine(t *testing.T) {
	f := newProcFixture(t)
	owner := uuid.New()
	f.custody.Fund(owner, wad("250"))
	f.apply(depositCmd(owner, "250"), t0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan InboundCommand)
	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx, inbound) }()

	var cash fixmath.Wad
	if err := f.proc.Inspect(ctx, func(e *Engine) {
		v, err := e.MarginViewOf(owner)
		if err != nil {
			t.Errorf("margin view: %v", err)
			return
		}
		cash = v.CashBalance
	}); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	assertWad(t, "cashBalance", cash, "250")

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("run returned %v, want context.Canceled", err)
	}
}
