package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
	"github.com/mcdexio/mai-protocol-v2/internal/state"
)

// InboundCommand pairs a decoded command with its versioned timestamp.
// The processor never reads the wall clock; time is an input.
type InboundCommand struct {
	Command   event.Command
	Timestamp time.Time
}

// OpRecord is what the processor emits per applied command: the sealed
// envelope, plus a full state snapshot when one is due.
type OpRecord struct {
	Envelope *event.Envelope
	Snapshot *StateSnapshot
}

// StateSnapshot bundles everything recovery needs to resume without
// replaying from genesis: the ledger, the governance values, and the
// price feed as of the snapshot sequence.
type StateSnapshot struct {
	Ledger       *state.LedgerSnapshot `json:"ledger"`
	Params       state.GovParams       `json:"params"`
	MarkPrice    fixmath.Wad           `json:"mark_price"`
	FundingIndex fixmath.Wad           `json:"funding_index"`
}

// ProcessorConfig wires a Processor.
type ProcessorConfig struct {
	Engine        *Engine
	Feed          *state.FeedState
	Clock         *state.ManualClock
	StartSequence int64
	PrevHash      [32]byte // zero value = start from genesis
	SnapshotEvery int64
	LRUCapacity   int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
}

// Processor drives the engine from a single goroutine: it owns the total
// order, assigns sequence numbers, dedups redeliveries, chains state
// hashes, and fans applied ops out to persistence and publishing.
type Processor struct {
	engine      *Engine
	feed        *state.FeedState
	clock       *state.ManualClock
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	validator   *InvariantValidator
	sequence    int64

	snapshotEvery int64
	persistChan   chan<- OpRecord
	publishChan   chan<- OpRecord
	queries       chan func()

	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	hasher := NewStateHasher()
	if cfg.PrevHash != ([32]byte{}) {
		hasher = NewStateHasherAt(cfg.PrevHash)
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = 100_000
	}
	return &Processor{
		engine:        cfg.Engine,
		feed:          cfg.Feed,
		clock:         cfg.Clock,
		hasher:        hasher,
		idempotency:   NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, cfg.Metrics),
		validator:     NewInvariantValidator(cfg.Engine.Ledger()),
		sequence:      cfg.StartSequence,
		snapshotEvery: cfg.SnapshotEvery,
		queries:       make(chan func(), 64),
		log:           observability.NewLogger("processor"),
		metrics:       cfg.Metrics,
	}
}

// AttachOutputs connects the persist and publish channels. Recovery
// replays before attaching so replayed ops are not re-emitted.
func (p *Processor) AttachOutputs(persist, publish chan<- OpRecord) {
	p.persistChan = persist
	p.publishChan = publish
}

// Sequence returns the next sequence number to be assigned.
func (p *Processor) Sequence() int64 {
	return p.sequence
}

// StateHash returns the current chain tip.
func (p *Processor) StateHash() [32]byte {
	return p.hasher.PrevHash()
}

// WarmLRU preloads idempotency keys on restart.
func (p *Processor) WarmLRU(keys []string) {
	p.idempotency.WarmFromKeys(keys)
}

// Inspect runs fn on the processor goroutine, between commands, and
// returns once it has executed. The engine is single-writer; this is
// the only safe way to read it while the processor is running.
func (p *Processor) Inspect(ctx context.Context, fn func(*Engine)) error {
	done := make(chan struct{})
	select {
	case p.queries <- func() { fn(p.engine); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CaptureSnapshot serializes the full state from the processor
// goroutine, where no command can be mid-flight.
func (p *Processor) CaptureSnapshot() *StateSnapshot {
	snap := &StateSnapshot{
		Ledger: p.engine.Ledger().Snapshot(),
		Params: p.engine.Params().Current(),
	}
	if p.feed != nil {
		snap.MarkPrice = p.feed.MarkPrice()
		snap.FundingIndex = p.feed.FundingIndex()
	}
	return snap
}

// RestoreSnapshot installs a recovered state ahead of replay.
func (p *Processor) RestoreSnapshot(snap *StateSnapshot) {
	p.engine.Ledger().RestoreSnapshot(snap.Ledger)
	p.engine.Params().Restore(snap.Params)
	if p.feed != nil {
		if snap.MarkPrice.Sign() > 0 {
			p.feed.SetMarkPrice(snap.MarkPrice)
		}
		p.feed.SetFundingIndex(snap.FundingIndex)
	}
}

// Run drains inbound commands until the context ends or the channel
// closes. Rejected commands are logged and dropped; the NATS layer has
// already acked them, and the op log records only applied operations.
func (p *Processor) Run(ctx context.Context, in <-chan InboundCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-p.queries:
			fn()
		case cmd, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Apply(cmd.Command, cmd.Timestamp); err != nil {
				p.log.Warn().
					Str("type", cmd.Command.CommandType().String()).
					Str("key", cmd.Command.IdempotencyKey()).
					Err(err).
					Msg("command rejected")
			}
		}
	}
}

// Apply processes one command end to end. Only applied commands consume
// a sequence number and enter the op log.
func (p *Processor) Apply(cmd event.Command, ts time.Time) error {
	start := time.Now()
	ctype := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	if p.idempotency.IsDuplicate(ctype, key) {
		if p.metrics != nil {
			p.metrics.IdempotencyDuplicates.Inc()
		}
		return nil
	}

	// Timelocks read the command's versioned timestamp, never the wall
	// clock, so replay reproduces the exact same decisions.
	if p.clock != nil {
		p.clock.Set(ts.Unix())
	}

	if err := p.dispatch(cmd); err != nil {
		return err
	}

	if err := p.validator.ValidateAll(); err != nil {
		panic(fmt.Sprintf("FATAL: ledger invariant violated after %s: %v", ctype, err))
	}

	hashStart := time.Now()
	prevHash := p.hasher.PrevHash()
	stateHash := p.hasher.ComputeHash(p.sequence, p.engine.Ledger().CanonicalBytes())
	if p.metrics != nil {
		p.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	rec := OpRecord{
		Envelope: &event.Envelope{
			Sequence:       p.sequence,
			IdempotencyKey: key,
			CommandType:    cmd.CommandType(),
			Timestamp:      ts,
			SourceSequence: cmd.SourceSequence(),
			Command:        cmd,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
	}
	if p.sequence > 0 && p.sequence%p.snapshotEvery == 0 {
		rec.Snapshot = p.CaptureSnapshot()
	}

	// Persistence blocks (backpressure); publishing drops when full and
	// consumers catch up from the op log.
	if p.persistChan != nil {
		p.persistChan <- rec
	}
	if p.publishChan != nil {
		select {
		case p.publishChan <- rec:
		default:
			if p.metrics != nil {
				p.metrics.PublishDrops.Inc()
			}
		}
	}

	p.idempotency.MarkProcessed(ctype, key)
	p.sequence++
	p.observeState(ctype, start)
	return nil
}

// Replay re-applies one logged operation during recovery and returns
// the recomputed state hash for chain verification. Dedup is skipped
// (the op is by definition already in the log) and nothing is emitted;
// outputs are attached only after replay completes.
func (p *Processor) Replay(cmd event.Command, ts time.Time) ([32]byte, error) {
	if p.clock != nil {
		p.clock.Set(ts.Unix())
	}
	if err := p.dispatch(cmd); err != nil {
		return [32]byte{}, fmt.Errorf("replay %s seq %d: %w", cmd.CommandType(), p.sequence, err)
	}
	if err := p.validator.ValidateAll(); err != nil {
		return [32]byte{}, fmt.Errorf("invariant violated during replay at seq %d: %w", p.sequence, err)
	}
	hash := p.hasher.ComputeHash(p.sequence, p.engine.Ledger().CanonicalBytes())
	p.idempotency.MarkProcessed(cmd.CommandType().String(), cmd.IdempotencyKey())
	p.sequence++
	if p.metrics != nil {
		p.metrics.ReplayOpsTotal.Inc()
	}
	return hash, nil
}

func (p *Processor) dispatch(cmd event.Command) error {
	switch c := cmd.(type) {
	case *event.Deposit:
		return p.engine.Deposit(c.Owner, c.Amount)
	case *event.DepositAndSetBroker:
		return p.engine.DepositAndSetBroker(c.Owner, c.Broker, c.Amount)
	case *event.ApplyWithdrawal:
		return p.engine.ApplyForWithdrawal(c.Caller, c.Owner, c.Amount)
	case *event.Withdraw:
		return p.engine.Withdraw(c.Caller, c.Owner, c.Amount)
	case *event.SetBroker:
		return p.engine.SetBroker(c.Owner, c.Broker)
	case *event.TransferCash:
		return p.engine.TransferCashBalance(c.Caller, c.From, c.To, c.Amount)
	case *event.Trade:
		return p.engine.TradePosition(c.TakerCaller, c.Taker, c.MakerCaller, c.Maker, c.Side, c.Price, c.Amount)
	case *event.Liquidate:
		_, err := p.engine.Liquidate(c.Liquidator, c.Target, c.MaxAmount)
		return err
	case *event.MarkPriceUpdate:
		if c.Price.Sign() <= 0 {
			return ErrInvalidAmount
		}
		p.feed.SetMarkPrice(c.Price)
		return nil
	case *event.FundingIndexUpdate:
		p.feed.SetFundingIndex(c.Index)
		p.engine.Ledger().RatchetFundingLoss(c.Index)
		return nil
	case *event.SetParameter:
		return p.engine.SetGovernanceParameter(c.Caller, c.Key, c.Value)
	case *event.SetDevAccount:
		return p.engine.SetDevAccount(c.Caller, c.Dev)
	case *event.InsuranceDeposit:
		return p.engine.DepositInsuranceFund(c.Caller, c.Amount)
	case *event.InsuranceWithdraw:
		return p.engine.WithdrawInsuranceFund(c.Caller, c.Amount)
	case *event.BeginSettlement:
		return p.engine.BeginGlobalSettlement(c.Caller, c.Price)
	case *event.EndSettlement:
		return p.engine.EndGlobalSettlement(c.Caller)
	case *event.Settle:
		return p.engine.Settle(c.Owner)
	default:
		return fmt.Errorf("%s: unhandled command type", cmd.CommandType())
	}
}

func (p *Processor) observeState(ctype string, start time.Time) {
	if p.metrics == nil {
		return
	}
	l := p.engine.Ledger()
	p.metrics.OpDuration.WithLabelValues(ctype).Observe(time.Since(start).Seconds())
	p.metrics.LastSequence.Set(float64(p.sequence))
	p.metrics.OpenInterest.Set(l.TotalSize(event.SideLong).Float64())
	p.metrics.InsuranceFundBalance.Set(l.InsuranceFund().Float64())
	p.metrics.SocialLossPerContract.WithLabelValues(event.SideLong.String()).Set(l.SocialLossPerContract(event.SideLong).Float64())
	p.metrics.SocialLossPerContract.WithLabelValues(event.SideShort.String()).Set(l.SocialLossPerContract(event.SideShort).Float64())
	p.metrics.SettlementStatus.Set(float64(l.Status()))
	p.metrics.TotalAccounts.Set(float64(l.TotalAccounts()))
}
