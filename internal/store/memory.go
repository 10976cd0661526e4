package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// MemoryStore keeps all values in process memory. It implements the same
// Transact contract as the Postgres backend and is used both by tests and
// by the server when no database URL is configured.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Transact(_ context.Context, path string, fn TxnFunc) (TxnResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.data[path]
	var oldCopy json.RawMessage
	if ok {
		oldCopy = append(json.RawMessage(nil), old...)
	}
	next, err := fn(oldCopy)
	if err != nil {
		if errors.Is(err, ErrAbort) {
			return TxnResult{Committed: false}, nil
		}
		return TxnResult{}, err
	}
	m.data[path] = append(json.RawMessage(nil), next...)
	return TxnResult{Committed: true, Value: next}, nil
}

func (m *MemoryStore) Read(_ context.Context, path string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), v...), nil
}

func (m *MemoryStore) Write(_ context.Context, path string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = append(json.RawMessage(nil), value...)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, path)
	return nil
}

func (m *MemoryStore) QueryByField(_ context.Context, collection, field string, value any) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSuffix(collection, "/") + "/"
	out := make(map[string]json.RawMessage)
	for path, raw := range m.data {
		if !strings.HasPrefix(path, prefix) || strings.Contains(path[len(prefix):], "/") {
			continue
		}
		got := gjson.GetBytes(raw, field)
		if got.Exists() && got.Raw == string(want) {
			out[path] = append(json.RawMessage(nil), raw...)
		}
	}
	return out, nil
}
