package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/observability"
)

// NATSSubscriber subscribes to JetStream subjects and feeds raw command
// payloads into the shell for parsing. NATS JetStream is the primary
// high-throughput ingestion surface; each command family has its own
// subject for independent scaling.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawCommand
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

// RawCommand is the undecoded command from NATS, ready for the shell to
// parse into a typed command before handing it to the processor.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ack after the command enters the inbound channel
	NakFunc   func() // nak on shutdown; the message is redelivered
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject layout.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "perp.trades.>", CommandType: "Trade", ConsumerName: "ledger-trades", StreamName: "PERP_TRADES"},
		{Subject: "perp.collateral.deposit.>", CommandType: "Deposit", ConsumerName: "ledger-deposits", StreamName: "PERP_COLLATERAL"},
		{Subject: "perp.collateral.apply.>", CommandType: "ApplyWithdrawal", ConsumerName: "ledger-wd-apply", StreamName: "PERP_COLLATERAL"},
		{Subject: "perp.collateral.withdraw.>", CommandType: "Withdraw", ConsumerName: "ledger-wd-exec", StreamName: "PERP_COLLATERAL"},
		{Subject: "perp.collateral.transfer.>", CommandType: "TransferCash", ConsumerName: "ledger-transfers", StreamName: "PERP_COLLATERAL"},
		{Subject: "perp.collateral.broker.>", CommandType: "SetBroker", ConsumerName: "ledger-brokers", StreamName: "PERP_COLLATERAL"},
		{Subject: "perp.liquidations.>", CommandType: "Liquidate", ConsumerName: "ledger-liquidations", StreamName: "PERP_LIQUIDATIONS"},
		{Subject: "perp.prices.mark.>", CommandType: "MarkPriceUpdate", ConsumerName: "ledger-prices", StreamName: "PERP_PRICES"},
		{Subject: "perp.prices.funding.>", CommandType: "FundingIndexUpdate", ConsumerName: "ledger-funding", StreamName: "PERP_PRICES"},
		{Subject: "perp.admin.params.>", CommandType: "SetParameter", ConsumerName: "ledger-params", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.dev.>", CommandType: "SetDevAccount", ConsumerName: "ledger-dev", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.insurance.deposit.>", CommandType: "InsuranceDeposit", ConsumerName: "ledger-ins-deposit", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.insurance.withdraw.>", CommandType: "InsuranceWithdraw", ConsumerName: "ledger-ins-withdraw", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.settlement.begin.>", CommandType: "BeginSettlement", ConsumerName: "ledger-settle-begin", StreamName: "PERP_ADMIN"},
		{Subject: "perp.admin.settlement.end.>", CommandType: "EndSettlement", ConsumerName: "ledger-settle-end", StreamName: "PERP_ADMIN"},
		{Subject: "perp.settle.>", CommandType: "Settle", ConsumerName: "ledger-settle", StreamName: "PERP_SETTLE"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     observability.NewLogger("nats"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s; duplicates
// from redelivery are absorbed by the processor's idempotency layer.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}
			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}
	return nil
}

// EnsureStreams creates the required JetStream streams if missing.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{Name: "PERP_TRADES", Subjects: []string{"perp.trades.>"}},
		{Name: "PERP_COLLATERAL", Subjects: []string{"perp.collateral.>"}},
		{Name: "PERP_LIQUIDATIONS", Subjects: []string{"perp.liquidations.>"}},
		{Name: "PERP_PRICES", Subjects: []string{"perp.prices.>"}},
		{Name: "PERP_ADMIN", Subjects: []string{"perp.admin.>"}},
		{Name: "PERP_SETTLE", Subjects: []string{"perp.settle.>"}},
	}
	for _, cfg := range streams {
		cfg.Storage = jetstream.FileStorage
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 72 * time.Hour
		cfg.Replicas = 1
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.log.Info().Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
