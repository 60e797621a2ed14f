package sweep

import (
	"context"
	"time"

	"github.com/riverqueue/river"
)

// AutoReleaseArgs is the periodic job payload. It carries no data; the sweep
// derives everything from the current clock.
type AutoReleaseArgs struct{}

func (AutoReleaseArgs) Kind() string { return "auto_release_sweep" }

// limitPurger drops expired rate-limit rows. The sweep worker owns this
// housekeeping so the records table does not grow without bound.
type limitPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type AutoReleaseWorker struct {
	river.WorkerDefaults[AutoReleaseArgs]
	sweeper *Sweeper
	limits  limitPurger
}

func NewAutoReleaseWorker(sweeper *Sweeper, limits limitPurger) *AutoReleaseWorker {
	return &AutoReleaseWorker{sweeper: sweeper, limits: limits}
}

func (w *AutoReleaseWorker) Work(ctx context.Context, _ *river.Job[AutoReleaseArgs]) error {
	if _, err := w.sweeper.Sweep(ctx); err != nil {
		return err
	}
	if w.limits != nil {
		cutoff := time.Now().Add(-24 * time.Hour)
		if n, err := w.limits.PurgeBefore(ctx, cutoff); err != nil {
			w.sweeper.log.Warn("rate-limit purge failed", "error", err)
		} else if n > 0 {
			w.sweeper.log.Info("purged expired rate-limit records", "count", n)
		}
	}
	return nil
}
