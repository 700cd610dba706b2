// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"triage_server/core/port/out"
)

// =============================================================================
// Record Store (Postgres)
// =============================================================================

// RecordStore implements out.Store over a single triage_records table.
// Kind and owner are denormalized columns with a composite index, which is
// all the secondary lookup the services need.
type RecordStore struct {
	db *sqlx.DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Schema is the DDL for the records table, applied by the migration step.
const Schema = `
CREATE TABLE IF NOT EXISTS triage_records (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	owner      TEXT NOT NULL DEFAULT '',
	value      BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_triage_records_kind_created
	ON triage_records (kind, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_triage_records_kind_owner_created
	ON triage_records (kind, owner, created_at DESC);
`

type recordRow struct {
	Key       string       `db:"key"`
	Kind      string       `db:"kind"`
	Owner     string       `db:"owner"`
	Value     []byte       `db:"value"`
	CreatedAt time.Time    `db:"created_at"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

func (r *recordRow) toRecord() *out.Record {
	rec := &out.Record{
		Key:       r.Key,
		Kind:      r.Kind,
		Owner:     r.Owner,
		Value:     r.Value,
		CreatedAt: r.CreatedAt,
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		rec.ExpiresAt = &t
	}
	return rec
}

func expiresArg(rec *out.Record) sql.NullTime {
	if rec.ExpiresAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *rec.ExpiresAt, Valid: true}
}

// Get retrieves one record by key.
func (s *RecordStore) Get(ctx context.Context, key string) (*out.Record, error) {
	var row recordRow
	query := `SELECT * FROM triage_records WHERE key = $1`

	if err := s.db.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toRecord(), nil
}

// Put inserts or replaces a record.
func (s *RecordStore) Put(ctx context.Context, rec *out.Record) error {
	query := `
		INSERT INTO triage_records (key, kind, owner, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET kind = EXCLUDED.kind, owner = EXCLUDED.owner, value = EXCLUDED.value,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`

	if _, err := s.db.ExecContext(ctx, query,
		rec.Key, rec.Kind, rec.Owner, rec.Value, rec.CreatedAt, expiresArg(rec),
	); err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

// Delete removes one record. Deleting a missing key is not an error.
func (s *RecordStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM triage_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// InTx runs fn inside one database transaction.
func (s *RecordStore) InTx(ctx context.Context, fn func(tx out.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&recordTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListByOwner lists records of one kind for one owner, newest first.
// limit <= 0 means unbounded.
func (s *RecordStore) ListByOwner(ctx context.Context, kind, owner string, limit int) ([]*out.Record, error) {
	var rows []recordRow
	query := `SELECT * FROM triage_records WHERE kind = $1 AND owner = $2 ORDER BY created_at DESC`
	args := []any{kind, owner}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records by owner: %w", err)
	}
	return toRecords(rows), nil
}

// ListByKind lists records of one kind, newest first. limit <= 0 means
// unbounded.
func (s *RecordStore) ListByKind(ctx context.Context, kind string, limit int) ([]*out.Record, error) {
	var rows []recordRow
	query := `SELECT * FROM triage_records WHERE kind = $1 ORDER BY created_at DESC`
	args := []any{kind}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list records by kind: %w", err)
	}
	return toRecords(rows), nil
}

// CountByKind counts records of one kind.
func (s *RecordStore) CountByKind(ctx context.Context, kind string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM triage_records WHERE kind = $1`, kind); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// DeleteBatch removes a batch of keys in one statement.
func (s *RecordStore) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM triage_records WHERE key = ANY($1)`, pq.Array(keys),
	); err != nil {
		return fmt.Errorf("failed to delete record batch: %w", err)
	}
	return nil
}

func toRecords(rows []recordRow) []*out.Record {
	recs := make([]*out.Record, len(rows))
	for i := range rows {
		recs[i] = rows[i].toRecord()
	}
	return recs
}

// recordTx is the transactional view over a sqlx transaction.
type recordTx struct {
	tx *sqlx.Tx
}

func (t *recordTx) Get(ctx context.Context, key string) (*out.Record, error) {
	var row recordRow
	query := `SELECT * FROM triage_records WHERE key = $1 FOR UPDATE`

	if err := t.tx.GetContext(ctx, &row, query, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, out.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record in tx: %w", err)
	}
	return row.toRecord(), nil
}

func (t *recordTx) Put(ctx context.Context, rec *out.Record) error {
	query := `
		INSERT INTO triage_records (key, kind, owner, value, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE
		SET kind = EXCLUDED.kind, owner = EXCLUDED.owner, value = EXCLUDED.value,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`

	if _, err := t.tx.ExecContext(ctx, query,
		rec.Key, rec.Kind, rec.Owner, rec.Value, rec.CreatedAt, expiresArg(rec),
	); err != nil {
		return fmt.Errorf("failed to put record in tx: %w", err)
	}
	return nil
}

func (t *recordTx) Delete(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM triage_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete record in tx: %w", err)
	}
	return nil
}
