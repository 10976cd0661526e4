// Package sweeper runs the recurring pass that clears expired VIP
// entitlements from directory groups.
package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grouphub/backend/internal/groups"
	"github.com/grouphub/backend/internal/store"
)

// DefaultInterval matches the observed production cadence.
const DefaultInterval = 30 * time.Minute

// Sweeper scans groups with an active entitlement and conditionally clears
// the expired ones. A pass is idempotent: running it twice back to back
// with no intervening redemption yields the same state as running it once.
type Sweeper struct {
	store    store.Store
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sweeping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New returns a sweeper ticking at interval; interval <= 0 selects
// DefaultInterval.
func New(s store.Store, log *slog.Logger, interval time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{store: s, log: log, interval: interval, now: time.Now}
}

// Sweeping reports whether a pass is currently in flight.
func (s *Sweeper) Sweeping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeping
}

// Run executes one pass. Per-group failures are logged and skipped, never
// retried within the pass; the next tick picks them up. The sweeper always
// returns to idle, including on partial failure.
func (s *Sweeper) Run(ctx context.Context) error {
	s.mu.Lock()
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	entries, err := s.store.QueryByField(ctx, "groups", "entitlement.active", true)
	if err != nil {
		return fmt.Errorf("sweep query: %w", err)
	}

	now := s.now().UTC()
	var cleared int
	for path, raw := range entries {
		var g groups.Group
		if err := json.Unmarshal(raw, &g); err != nil {
			s.log.Error("sweep: corrupt group record", "path", path, "error", err)
			continue
		}
		if g.Entitlement.ExpiresAt == nil || !now.After(*g.Entitlement.ExpiresAt) {
			continue
		}
		if err := s.clear(ctx, path, *g.Entitlement.ExpiresAt); err != nil {
			s.log.Error("sweep: clear failed", "path", path, "error", err)
			continue
		}
		cleared++
	}
	if cleared > 0 {
		s.log.Info("sweep pass complete", "scanned", len(entries), "cleared", cleared)
	}
	return nil
}

// clear deactivates the entitlement only if its expiry still matches the
// scanned value, so a redemption that renewed the entitlement between the
// scan and the write is never clobbered. A lost race aborts silently.
func (s *Sweeper) clear(ctx context.Context, path string, scannedExpiresAt time.Time) error {
	_, err := s.store.Transact(ctx, path, func(old json.RawMessage) (json.RawMessage, error) {
		if old == nil {
			return nil, store.ErrAbort // deleted since the scan
		}
		var cur groups.Group
		if err := json.Unmarshal(old, &cur); err != nil {
			return nil, fmt.Errorf("corrupt group record: %w", err)
		}
		if cur.Entitlement.ExpiresAt == nil || !cur.Entitlement.ExpiresAt.Equal(scannedExpiresAt) {
			return nil, store.ErrAbort
		}
		cur.Entitlement = groups.Entitlement{}
		return json.Marshal(cur)
	})
	return err
}

// Start launches the ticker loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return // already running
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error("sweep pass failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the ticker loop and waits for any in-flight pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
