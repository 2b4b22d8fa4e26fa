package ledger

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresLedger uses the documents table created by the migrations.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Get(ctx context.Context, name string) (*Record, error) {
	r := &Record{}
	query := `SELECT name, content_hash, status, passages, error, processed_at FROM documents WHERE name = $1`
	err := l.db.QueryRowContext(ctx, query, name).Scan(&r.Name, &r.ContentHash, &r.Status, &r.Passages, &r.Error, &r.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (l *PostgresLedger) Put(ctx context.Context, r Record) error {
	query := `INSERT INTO documents (name, content_hash, status, passages, error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			passages = EXCLUDED.passages,
			error = EXCLUDED.error,
			processed_at = EXCLUDED.processed_at`
	_, err := l.db.ExecContext(ctx, query, r.Name, r.ContentHash, string(r.Status), r.Passages, r.Error, r.ProcessedAt)
	return err
}

func (l *PostgresLedger) List(ctx context.Context) ([]Record, error) {
	query := `SELECT name, content_hash, status, passages, error, processed_at FROM documents ORDER BY name`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.ContentHash, &r.Status, &r.Passages, &r.Error, &r.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Reset(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
