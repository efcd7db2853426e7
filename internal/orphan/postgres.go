package orphan

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores orphans in the orphan_blobs table so a restart does
// not forget blobs that still need removing.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger creates a ledger on the given connection pool.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Record(ctx context.Context, handle, reason string) error {
	_, err := l.db.Exec(ctx,
		`INSERT INTO orphan_blobs (handle, reason)
		 VALUES ($1, $2)
		 ON CONFLICT (handle) DO UPDATE
		 SET reason = EXCLUDED.reason,
		     attempts = orphan_blobs.attempts + 1,
		     updated_at = NOW()`,
		handle, reason,
	)
	if err != nil {
		return fmt.Errorf("record orphan: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Pending(ctx context.Context, limit int) ([]Orphan, error) {
	rows, err := l.db.Query(ctx,
		`SELECT handle, reason, attempts, recorded_at, updated_at
		 FROM orphan_blobs
		 ORDER BY recorded_at, handle
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Orphan, error) {
		var o Orphan
		err := row.Scan(&o.Handle, &o.Reason, &o.Attempts, &o.RecordedAt, &o.UpdatedAt)
		return o, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan orphans: %w", err)
	}
	return out, nil
}

func (l *PostgresLedger) Resolve(ctx context.Context, handle string) error {
	_, err := l.db.Exec(ctx, `DELETE FROM orphan_blobs WHERE handle = $1`, handle)
	if err != nil {
		return fmt.Errorf("resolve orphan: %w", err)
	}
	return nil
}
