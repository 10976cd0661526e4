package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// 1. Transact: basic commit and read-your-write
// ---------------------------------------------------------------------------

func TestTransactCommit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.Transact(ctx, "accounts/u1/coinBalance", func(old json.RawMessage) (json.RawMessage, error) {
		if old != nil {
			t.Errorf("expected nil for absent path, got %s", old)
		}
		return json.RawMessage("1"), nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !res.Committed || string(res.Value) != "1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, err := s.Read(ctx, "accounts/u1/coinBalance")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "1" {
		t.Errorf("read back %s, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// 2. Transact: ErrAbort leaves the value unchanged and is not an error
// ---------------------------------------------------------------------------

func TestTransactAbort(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.Write(ctx, "codes/AB12", json.RawMessage(`{"status":"consumed"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := s.Transact(ctx, "codes/AB12", func(old json.RawMessage) (json.RawMessage, error) {
		return nil, ErrAbort
	})
	if err != nil {
		t.Fatalf("abort must not surface as error, got: %v", err)
	}
	if res.Committed {
		t.Fatal("aborted transaction reported committed")
	}

	got, _ := s.Read(ctx, "codes/AB12")
	if string(got) != `{"status":"consumed"}` {
		t.Errorf("aborted transaction mutated value: %s", got)
	}
}

// ---------------------------------------------------------------------------
// 3. Transact: non-abort errors from fn propagate
// ---------------------------------------------------------------------------

func TestTransactFnError(t *testing.T) {
	s := NewMemoryStore()
	boom := errors.New("boom")
	_, err := s.Transact(context.Background(), "p", func(json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 4. Concurrent increments never lose an update
// ---------------------------------------------------------------------------

func TestTransactConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transact(ctx, "groups/g1/clicks", func(old json.RawMessage) (json.RawMessage, error) {
				cur := 0
				if old != nil {
					cur, _ = strconv.Atoi(string(old))
				}
				return json.RawMessage(strconv.Itoa(cur + 1)), nil
			})
			if err != nil {
				t.Errorf("Transact: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Read(ctx, "groups/g1/clicks")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != strconv.Itoa(n) {
		t.Errorf("final count %s, want %d", got, n)
	}
}

// ---------------------------------------------------------------------------
// 5. Read/Remove of an absent path
// ---------------------------------------------------------------------------

func TestReadMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Read(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
	// Removing an absent path is a no-op.
	if err := s.Remove(context.Background(), "nope"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 6. QueryByField matches nested fields on direct children only
// ---------------------------------------------------------------------------

func TestQueryByField(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	writes := map[string]string{
		"groups/a":       `{"owner":"o1","entitlement":{"active":true,"expiresAt":100}}`,
		"groups/b":       `{"owner":"o2","entitlement":{"active":false}}`,
		"groups/c":       `{"owner":"o3","entitlement":{"active":true,"expiresAt":200}}`,
		"groups/c/extra": `{"entitlement":{"active":true}}`,
		"codes/XYZ":      `{"status":"available"}`,
	}
	for p, v := range writes {
		if err := s.Write(ctx, p, json.RawMessage(v)); err != nil {
			t.Fatalf("Write %s: %v", p, err)
		}
	}

	got, err := s.QueryByField(ctx, "groups", "entitlement.active", true)
	if err != nil {
		t.Fatalf("QueryByField: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matched %d entries, want 2: %v", len(got), got)
	}
	if _, ok := got["groups/a"]; !ok {
		t.Error("groups/a missing from result")
	}
	if _, ok := got["groups/c"]; !ok {
		t.Error("groups/c missing from result")
	}
}
