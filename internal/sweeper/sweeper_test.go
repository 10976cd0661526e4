package sweeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/grouphub/backend/internal/groups"
	"github.com/grouphub/backend/internal/store"
)

var baseTime = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newSweeper(s store.Store, now time.Time) *Sweeper {
	sw := New(s, slog.Default(), time.Minute)
	sw.now = func() time.Time { return now }
	return sw
}

func writeGroup(t *testing.T, s store.Store, id string, g groups.Group) {
	t.Helper()
	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal group: %v", err)
	}
	if err := s.Write(context.Background(), "groups/"+id, raw); err != nil {
		t.Fatalf("write group: %v", err)
	}
}

func readGroup(t *testing.T, s store.Store, id string) groups.Group {
	t.Helper()
	raw, err := s.Read(context.Background(), "groups/"+id)
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	var g groups.Group
	if err := json.Unmarshal(raw, &g); err != nil {
		t.Fatalf("unmarshal group: %v", err)
	}
	return g
}

func vipGroup(owner string, expiresAt time.Time) groups.Group {
	return groups.Group{
		Owner:       owner,
		Name:        "g",
		Link:        "https://example.com",
		Entitlement: groups.Entitlement{Active: true, ExpiresAt: &expiresAt, SourceCode: "AAAA1111"},
		CreatedAt:   baseTime,
	}
}

// ---------------------------------------------------------------------------
// 1. One pass clears expired entitlements and leaves live ones alone
// ---------------------------------------------------------------------------

func TestRunClearsExpired(t *testing.T) {
	s := store.NewMemoryStore()
	now := baseTime.Add(26 * time.Hour)

	writeGroup(t, s, "expired", vipGroup("o1", baseTime.Add(25*time.Hour)))
	writeGroup(t, s, "live", vipGroup("o2", baseTime.Add(48*time.Hour)))
	writeGroup(t, s, "plain", groups.Group{Owner: "o3", Name: "g", Link: "l", CreatedAt: baseTime})

	sw := newSweeper(s, now)
	if err := sw.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := readGroup(t, s, "expired")
	if got.Entitlement.Active || got.Entitlement.ExpiresAt != nil || got.Entitlement.SourceCode != "" {
		t.Errorf("expired entitlement not fully cleared: %+v", got.Entitlement)
	}

	live := readGroup(t, s, "live")
	if !live.Entitlement.Active {
		t.Error("live entitlement was cleared")
	}

	if sw.Sweeping() {
		t.Error("sweeper did not return to idle")
	}
}

// ---------------------------------------------------------------------------
// 2. Idempotence: a second consecutive pass changes nothing
// ---------------------------------------------------------------------------

func TestRunIdempotent(t *testing.T) {
	s := store.NewMemoryStore()
	now := baseTime.Add(26 * time.Hour)

	writeGroup(t, s, "a", vipGroup("o1", baseTime.Add(25*time.Hour)))
	writeGroup(t, s, "b", vipGroup("o2", baseTime.Add(48*time.Hour)))

	sw := newSweeper(s, now)
	if err := sw.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	after1 := map[string]groups.Group{"a": readGroup(t, s, "a"), "b": readGroup(t, s, "b")}

	if err := sw.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	after2 := map[string]groups.Group{"a": readGroup(t, s, "a"), "b": readGroup(t, s, "b")}

	if !reflect.DeepEqual(after1, after2) {
		t.Errorf("second pass changed state:\nfirst:  %+v\nsecond: %+v", after1, after2)
	}
}

// ---------------------------------------------------------------------------
// 3. A renewed entitlement is never clobbered: the clear is conditional on
//    the expiry scanned at query time
// ---------------------------------------------------------------------------

func TestClearSkipsRenewedEntitlement(t *testing.T) {
	s := store.NewMemoryStore()
	staleExpiry := baseTime.Add(24 * time.Hour)
	renewedExpiry := baseTime.Add(72 * time.Hour)

	// The stored record was renewed after the scan observed staleExpiry.
	writeGroup(t, s, "g1", vipGroup("o1", renewedExpiry))

	sw := newSweeper(s, baseTime.Add(26*time.Hour))
	if err := sw.clear(context.Background(), "groups/g1", staleExpiry); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got := readGroup(t, s, "g1")
	if !got.Entitlement.Active {
		t.Error("renewed entitlement was cleared by stale sweep")
	}
	if got.Entitlement.ExpiresAt == nil || !got.Entitlement.ExpiresAt.Equal(renewedExpiry) {
		t.Errorf("renewed expiry changed: %v", got.Entitlement.ExpiresAt)
	}
}

// ---------------------------------------------------------------------------
// 4. A group deleted between scan and clear aborts silently
// ---------------------------------------------------------------------------

func TestClearSkipsDeletedGroup(t *testing.T) {
	s := store.NewMemoryStore()
	sw := newSweeper(s, baseTime)
	if err := sw.clear(context.Background(), "groups/gone", baseTime); err != nil {
		t.Fatalf("clear on deleted group: %v", err)
	}
}

// ---------------------------------------------------------------------------
// 5. Start/Stop lifecycle: the loop ticks and shuts down cleanly
// ---------------------------------------------------------------------------

func TestStartStop(t *testing.T) {
	s := store.NewMemoryStore()
	writeGroup(t, s, "expired", vipGroup("o1", baseTime.Add(-time.Hour)))

	sw := New(s, slog.Default(), 10*time.Millisecond)
	sw.now = time.Now

	sw.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for {
		g := readGroup(t, s, "expired")
		if !g.Entitlement.Active {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweep loop never cleared the expired entitlement")
		case <-time.After(5 * time.Millisecond):
		}
	}
	sw.Stop()
	// A second Stop is a no-op.
	sw.Stop()
}
