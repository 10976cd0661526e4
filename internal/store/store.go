// Package store abstracts the shared hierarchical key-value database.
// Paths are slash-joined keys ("accounts/{id}/coinBalance", "groups/{id}");
// values are raw JSON. All mutation of shared state goes through Transact,
// which is atomic per path.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrAbort is returned by a TxnFunc to leave the stored value unchanged.
// The transaction then reports Committed=false without an error.
var ErrAbort = errors.New("transaction aborted")

// ErrNotFound is returned by Read when no value exists at the path.
var ErrNotFound = errors.New("path not found")

// ErrConflict is returned when a conditional update loses the write race
// more times than the retry budget allows.
var ErrConflict = errors.New("write conflict retry budget exceeded")

// ErrUnavailable is returned when the underlying database cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// TxnFunc computes the new value for a path from the old one. old is nil
// when the path does not exist yet. Returning ErrAbort cancels the update;
// any other error fails the transaction.
type TxnFunc func(old json.RawMessage) (json.RawMessage, error)

// TxnResult reports the outcome of a Transact call. Value holds the
// committed value when Committed is true.
type TxnResult struct {
	Committed bool
	Value     json.RawMessage
}

// Store is the contract every backend implements. Transact guarantees that
// the read-modify-write is atomic with respect to all other transactions on
// the same path: when two callers race, exactly one fn application wins
// against the value the loser observed, and the loser is retried against
// the fresh value.
type Store interface {
	Transact(ctx context.Context, path string, fn TxnFunc) (TxnResult, error)
	Read(ctx context.Context, path string) (json.RawMessage, error)
	Write(ctx context.Context, path string, value json.RawMessage) error
	Remove(ctx context.Context, path string) error

	// QueryByField returns every entry directly under collection whose
	// JSON value has field (dotted path) equal to value. Keyed by full
	// entry path.
	QueryByField(ctx context.Context, collection, field string, value any) (map[string]json.RawMessage, error)
}
