package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"PerpEngine/internal/event"
)

// OutcomeWriter writes outcome records to Postgres with multi-row INSERT.
// Writes are idempotent: the sequence is the core-assigned total order, and
// redelivered rows hit ON CONFLICT DO NOTHING.
type OutcomeWriter struct {
	db *sql.DB
}

func NewOutcomeWriter(db *sql.DB) *OutcomeWriter {
	return &OutcomeWriter{db: db}
}

// WriteBatch inserts a batch of records into engine_log.outcomes. Amounts
// are stored as NUMERIC(78,0) — 1e18-scaled integers exceed bigint range.
func (w *OutcomeWriter) WriteBatch(ctx context.Context, recs []event.Record) error {
	if len(recs) == 0 {
		return nil
	}

	query := `INSERT INTO engine_log.outcomes
		(sequence, record_id, record_type, asset, market, owner, order_id, reason, price, size, margin, fee, pnl, ts)
		VALUES `

	values := make([]string, 0, len(recs))
	args := make([]interface{}, 0, len(recs)*14)

	for i, r := range recs {
		base := i * 14
		placeholders := make([]string, 14)
		for n := range placeholders {
			placeholders[n] = fmt.Sprintf("$%d", base+n+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.Sequence, r.ID, r.Type.String(), r.Asset, nullable(r.Market),
			r.Owner, r.OrderID, nullable(r.Reason),
			numeric(r.Price), numeric(r.Size), numeric(r.Margin),
			numeric(r.Fee), numeric(r.Pnl), r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	if _, err := w.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write outcome batch: %w", err)
	}
	return nil
}

// LastSequence returns the highest persisted sequence, or zero on an empty
// log. The shell uses it on restart to warm the batch dedup window.
func (w *OutcomeWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM engine_log.outcomes`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return seq.Int64, nil
}

// numeric converts a big integer for a NUMERIC column; nil stores NULL.
func numeric(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
