package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mcdexio/mai-protocol-v2/internal/core"
)

// OpLogWriter writes applied operations to Postgres using multi-row
// INSERT batches. ON CONFLICT (sequence) DO NOTHING makes retries after
// a partial flush idempotent.
type OpLogWriter struct {
	db *sql.DB
}

// OpRow is a row of ledger.op_log.
type OpRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	SourceSequence int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

// RowFromRecord flattens an applied operation into its op_log row.
func RowFromRecord(rec core.OpRecord) (OpRow, error) {
	env := rec.Envelope
	payload, err := json.Marshal(env.Command)
	if err != nil {
		return OpRow{}, fmt.Errorf("marshal command %d: %w", env.Sequence, err)
	}
	return OpRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		SourceSequence: env.SourceSequence,
		Payload:        payload,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}, nil
}

// WriteOpBatch inserts a batch of rows inside the caller's transaction.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, tx *sql.Tx, ops []OpRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO ledger.op_log
		(sequence, command_type, idempotency_key, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*8)

	for i, op := range ops {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			op.Sequence, op.CommandType, op.IdempotencyKey, op.SourceSequence,
			op.Payload, op.StateHash, op.PrevHash, op.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
