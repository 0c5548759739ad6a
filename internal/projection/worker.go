package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
	"github.com/mcdexio/mai-protocol-v2/internal/event"
	"github.com/mcdexio/mai-protocol-v2/internal/observability"
)

// Worker maintains the per-account op history projection from the
// publish channel. The channel is non-blocking with drop on the
// processor side; a missed record leaves a gap that Rebuild closes from
// the op log, so history is eventually consistent by construction.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.OpRecord
	log       zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan core.OpRecord) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       observability.NewLogger("projection"),
	}
}

// Run drains the publish channel until the context ends.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-w.inputChan:
			if !ok {
				return nil
			}
			if err := w.apply(ctx, rec); err != nil {
				w.log.Warn().Int64("seq", rec.Envelope.Sequence).Err(err).Msg("projection update failed")
			}
		}
	}
}

func (w *Worker) apply(ctx context.Context, rec core.OpRecord) error {
	env := rec.Envelope
	owners := touchedOwners(env.Command)
	if len(owners) == 0 {
		return nil
	}

	payload, err := json.Marshal(env.Command)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, owner := range owners {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger.op_history (sequence, owner, command_type, payload, timestamp)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (sequence, owner) DO NOTHING
		`, env.Sequence, owner, env.CommandType.String(), payload, env.Timestamp); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger.projection_watermark (worker_id, last_sequence, updated_at)
		VALUES ('op_history', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return err
	}

	return tx.Commit()
}

// touchedOwners lists the accounts a command affects. Price, funding
// and governance updates touch every account at once and are not worth
// exploding into per-account history rows.
func touchedOwners(cmd event.Command) []uuid.UUID {
	switch c := cmd.(type) {
	case *event.Deposit:
		return []uuid.UUID{c.Owner}
	case *event.DepositAndSetBroker:
		return []uuid.UUID{c.Owner}
	case *event.ApplyWithdrawal:
		return []uuid.UUID{c.Owner}
	case *event.Withdraw:
		return []uuid.UUID{c.Owner}
	case *event.SetBroker:
		return []uuid.UUID{c.Owner}
	case *event.TransferCash:
		return []uuid.UUID{c.From, c.To}
	case *event.Trade:
		return []uuid.UUID{c.Taker, c.Maker}
	case *event.Liquidate:
		return []uuid.UUID{c.Liquidator, c.Target}
	case *event.Settle:
		return []uuid.UUID{c.Owner}
	default:
		return nil
	}
}

// Rebuild repopulates the op history from the op log. Used after a gap
// (dropped publish records) or a fresh projection database.
func Rebuild(ctx context.Context, db *sql.DB) error {
	log := observability.NewLogger("projection")

	if _, err := db.ExecContext(ctx, `TRUNCATE ledger.op_history`); err != nil {
		return fmt.Errorf("truncate op_history: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, command_type, payload, timestamp
		FROM ledger.op_log
		ORDER BY sequence ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var lastSeq int64 = -1
	for rows.Next() {
		var (
			seq     int64
			ctype   string
			payload []byte
			ts      sql.NullTime
		)
		if err := rows.Scan(&seq, &ctype, &payload, &ts); err != nil {
			return err
		}
		for _, owner := range ownersFromPayload(ctype, payload) {
			if _, err := db.ExecContext(ctx, `
				INSERT INTO ledger.op_history (sequence, owner, command_type, payload, timestamp)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (sequence, owner) DO NOTHING
			`, seq, owner, ctype, payload, ts.Time); err != nil {
				return err
			}
		}
		lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if lastSeq >= 0 {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO ledger.projection_watermark (worker_id, last_sequence, updated_at)
			VALUES ('op_history', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, lastSeq); err != nil {
			return err
		}
	}

	log.Info().Int64("last_sequence", lastSeq).Msg("projection rebuild complete")
	return nil
}

// ownersFromPayload extracts account ids from a stored JSON payload.
func ownersFromPayload(commandType string, payload []byte) []uuid.UUID {
	var fields struct {
		Owner      uuid.UUID `json:"owner"`
		From       uuid.UUID `json:"from"`
		To         uuid.UUID `json:"to"`
		Taker      uuid.UUID `json:"taker"`
		Maker      uuid.UUID `json:"maker"`
		Liquidator uuid.UUID `json:"liquidator"`
		Target     uuid.UUID `json:"target"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}

	switch commandType {
	case "Deposit", "DepositAndSetBroker", "ApplyWithdrawal", "Withdraw", "SetBroker", "Settle":
		return []uuid.UUID{fields.Owner}
	case "TransferCash":
		return []uuid.UUID{fields.From, fields.To}
	case "Trade":
		return []uuid.UUID{fields.Taker, fields.Maker}
	case "Liquidate":
		return []uuid.UUID{fields.Liquidator, fields.Target}
	default:
		return nil
	}
}
