package sweeper

import (
	"context"

	"github.com/riverqueue/river"
)

// SweepArgs is the job payload for one sweep pass. It carries no data; the
// pass reads everything it needs from the store.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "vip_sweep" }

// SweepWorker runs a sweep pass as a River job. Registered together with a
// periodic job so the recurring pass shares the job client's start/stop
// lifecycle when the server runs on Postgres.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	sweeper *Sweeper
}

func NewSweepWorker(s *Sweeper) *SweepWorker {
	return &SweepWorker{sweeper: s}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	return w.sweeper.Run(ctx)
}
