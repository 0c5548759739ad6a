package ingestion

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/fixmath"
)

// AdminIngestService injects governance and operational commands into
// the processor's inbound channel. It backs the HTTP admin surface; the
// high-throughput path (trades, prices) stays on NATS.
type AdminIngestService struct {
	commandChan chan<- core.InboundCommand
}

func NewAdminIngestService(commandChan chan<- core.InboundCommand) *AdminIngestService {
	return &AdminIngestService{commandChan: commandChan}
}

func (s *AdminIngestService) send(ctx context.Context, cmd event.Command) error {
	select {
	case s.commandChan <- core.InboundCommand{Command: cmd, Timestamp: time.Now()}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSetParameter submits a governance parameter change.
func (s *AdminIngestService) InjectSetParameter(ctx context.Context, caller uuid.UUID, key string, value fixmath.Wad) error {
	return s.send(ctx, &event.SetParameter{
		ChangeID: uuid.New(),
		Caller:   caller,
		Key:      key,
		Value:    value,
		Sequence: time.Now().UnixMicro(),
	})
}

// InjectSetDevAccount points fee credit at a new dev identity.
func (s *AdminIngestService) InjectSetDevAccount(ctx context.Context, caller, dev uuid.UUID) error {
	return s.send(ctx, &event.SetDevAccount{
		ChangeID: uuid.New(),
		Caller:   caller,
		Dev:      dev,
		Sequence: time.Now().UnixMicro(),
	})
}

// InjectInsuranceDeposit funds the insurance fund.
func (s *AdminIngestService) InjectInsuranceDeposit(ctx context.Context, caller uuid.UUID, amount fixmath.Wad) error {
	return s.send(ctx, &event.InsuranceDeposit{
		TransferID: uuid.New(),
		Caller:     caller,
		Amount:     amount,
		Sequence:   time.Now().UnixMicro(),
	})
}

// InjectInsuranceWithdraw draws the insurance fund down.
func (s *AdminIngestService) InjectInsuranceWithdraw(ctx context.Context, caller uuid.UUID, amount fixmath.Wad) error {
	return s.send(ctx, &event.InsuranceWithdraw{
		TransferID: uuid.New(),
		Caller:     caller,
		Amount:     amount,
		Sequence:   time.Now().UnixMicro(),
	})
}

// InjectBeginSettlement freezes the book against a settlement price.
func (s *AdminIngestService) InjectBeginSettlement(ctx context.Context, caller uuid.UUID, price fixmath.Wad) error {
	return s.send(ctx, &event.BeginSettlement{
		ChangeID: uuid.New(),
		Caller:   caller,
		Price:    price,
		Sequence: time.Now().UnixMicro(),
	})
}

// InjectEndSettlement finalizes the settlement price.
func (s *AdminIngestService) InjectEndSettlement(ctx context.Context, caller uuid.UUID) error {
	return s.send(ctx, &event.EndSettlement{
		ChangeID: uuid.New(),
		Caller:   caller,
		Sequence: time.Now().UnixMicro(),
	})
}

// InjectSettle pays one account out after settlement.
func (s *AdminIngestService) InjectSettle(ctx context.Context, owner uuid.UUID) error {
	return s.send(ctx, &event.Settle{
		Owner:    owner,
		Sequence: time.Now().UnixMicro(),
	})
}

// InjectMarkPrice overrides the oracle mark price (test environments).
func (s *AdminIngestService) InjectMarkPrice(ctx context.Context, price fixmath.Wad) error {
	return s.send(ctx, &event.MarkPriceUpdate{
		Price:    price,
		Sequence: time.Now().UnixMicro(),
	})
}
