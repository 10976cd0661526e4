package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/sjson"
)

// txnRetryBudget bounds optimistic retries on a contended path before the
// transaction gives up with ErrConflict.
const txnRetryBudget = 8

// PGStore persists values in a single kv table, one row per path, with a
// version column for optimistic conditional updates.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

// Migrate creates the kv table. Call once at startup.
func (s *PGStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			path    text PRIMARY KEY,
			value   jsonb NOT NULL,
			version bigint NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("create kv table: %w", mapStoreErr(err))
	}
	return nil
}

func (s *PGStore) Transact(ctx context.Context, path string, fn TxnFunc) (TxnResult, error) {
	for attempt := 0; attempt < txnRetryBudget; attempt++ {
		var old json.RawMessage
		var version int64
		err := s.pool.QueryRow(ctx,
			`SELECT value, version FROM kv WHERE path = $1`, path,
		).Scan(&old, &version)
		if errors.Is(err, pgx.ErrNoRows) {
			old, version = nil, 0
		} else if err != nil {
			return TxnResult{}, mapStoreErr(err)
		}

		next, err := fn(old)
		if errors.Is(err, ErrAbort) {
			return TxnResult{Committed: false}, nil
		}
		if err != nil {
			return TxnResult{}, err
		}

		var tag pgconn.CommandTag
		if version == 0 {
			tag, err = s.pool.Exec(ctx,
				`INSERT INTO kv (path, value) VALUES ($1, $2) ON CONFLICT (path) DO NOTHING`,
				path, next)
		} else {
			tag, err = s.pool.Exec(ctx,
				`UPDATE kv SET value = $2, version = version + 1 WHERE path = $1 AND version = $3`,
				path, next, version)
		}
		if err != nil {
			return TxnResult{}, mapStoreErr(err)
		}
		if tag.RowsAffected() == 1 {
			return TxnResult{Committed: true, Value: next}, nil
		}
		// Lost the race against a concurrent writer; re-read and retry.
	}
	return TxnResult{}, ErrConflict
}

func (s *PGStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	var value json.RawMessage
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE path = $1`, path).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return value, nil
}

func (s *PGStore) Write(ctx context.Context, path string, value json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv (path, value) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value, version = kv.version + 1
	`, path, value)
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (s *PGStore) Remove(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE path = $1`, path)
	if err != nil {
		return mapStoreErr(err)
	}
	return nil
}

func (s *PGStore) QueryByField(ctx context.Context, collection, field string, value any) (map[string]json.RawMessage, error) {
	// jsonb containment against {"a":{"b":<value>}} built from the dotted
	// field path.
	filter, err := sjson.Set("{}", field, value)
	if err != nil {
		return nil, err
	}
	prefix := collection + "/"
	rows, err := s.pool.Query(ctx, `
		SELECT path, value FROM kv
		WHERE path LIKE $1 AND path NOT LIKE $2 AND value @> $3::jsonb
	`, prefix+"%", prefix+"%/%", filter)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var path string
		var raw json.RawMessage
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, mapStoreErr(err)
		}
		out[path] = raw
	}
	if err := rows.Err(); err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

// mapStoreErr classifies driver failures: server-reported SQL errors pass
// through, everything else (network, pool exhaustion) reads as Unavailable.
func mapStoreErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
