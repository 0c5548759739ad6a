package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
)

// OutboundPublisher publishes applied operations for downstream
// consumers (risk monitors, account dashboards). The publish path is
// best effort: the processor drops records when the channel is full and
// consumers catch up from the op log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan core.OpRecord
	log       zerolog.Logger
}

// opWire is the outbound JSON rendering of an applied operation.
type opWire struct {
	Sequence       int64       `json:"sequence"`
	CommandType    string      `json:"command_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	SourceSequence int64       `json:"source_sequence"`
	Timestamp      time.Time   `json:"timestamp"`
	Command        interface{} `json:"command"`
	StateHash      string      `json:"state_hash"`
	PrevHash       string      `json:"prev_hash"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan core.OpRecord) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		log:       observability.NewLogger("publisher"),
	}
}

// Run drains the publish channel until the context ends.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, rec); err != nil {
				op.log.Warn().Int64("seq", rec.Envelope.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, rec core.OpRecord) error {
	env := rec.Envelope
	data, err := json.Marshal(opWire{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		SourceSequence: env.SourceSequence,
		Timestamp:      env.Timestamp,
		Command:        env.Command,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
	})
	if err != nil {
		return fmt.Errorf("marshal op: %w", err)
	}

	subject := fmt.Sprintf("perp.ledger.ops.%s", env.CommandType)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound ops stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "PERP_LEDGER_OPS",
		Subjects:  []string{"perp.ledger.ops.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
