// Package sweep drives the auto-release of escrows whose review window has
// elapsed. It runs as a River periodic job and is also triggerable by an
// external cron through the /v1/sweep endpoint; both paths share the
// lifecycle's idempotent release, so overlapping runs are safe without
// external locking.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gigpay/backend/internal/models"
	"github.com/gigpay/backend/internal/services"
)

// Releaser is the slice of the lifecycle the sweeper needs.
type Releaser interface {
	ExpiredSubmitted(ctx context.Context, now time.Time) ([]*models.Task, error)
	Release(ctx context.Context, taskID uuid.UUID) (*services.ReleaseResult, error)
}

// Per-task sweep outcomes.
const (
	OutcomeReleased = "released"
	OutcomeSkipped  = "skipped"
	OutcomeError    = "error"
)

type TaskResult struct {
	TaskID      uuid.UUID `json:"task_id"`
	Outcome     string    `json:"outcome"`
	PayoutCents int64     `json:"payout_cents,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type Result struct {
	Processed int          `json:"processed"`
	Released  int          `json:"released"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Results   []TaskResult `json:"results"`
}

type Sweeper struct {
	lifecycle Releaser
	log       *slog.Logger
	now       func() time.Time
}

func NewSweeper(lifecycle Releaser, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{lifecycle: lifecycle, log: log, now: time.Now}
}

// Sweep releases every task whose review window has passed. One task's
// failure is recorded and the batch continues; a task raced by a manual
// approval is reported skipped, not failed.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	now := s.now()
	expired, err := s.lifecycle.ExpiredSubmitted(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &Result{Processed: len(expired)}
	for _, task := range expired {
		tr := TaskResult{TaskID: task.ID}
		rel, err := s.lifecycle.Release(ctx, task.ID)
		switch {
		case err != nil:
			tr.Outcome = OutcomeError
			tr.Error = err.Error()
			result.Failed++
			s.log.Error("auto-release failed", "task_id", task.ID, "error", err)
		case rel.Skipped:
			tr.Outcome = OutcomeSkipped
			result.Skipped++
		default:
			tr.Outcome = OutcomeReleased
			tr.PayoutCents = rel.PayoutCents
			result.Released++
		}
		result.Results = append(result.Results, tr)
	}

	if result.Processed > 0 {
		s.log.Info("auto-release sweep finished",
			"processed", result.Processed, "released", result.Released,
			"skipped", result.Skipped, "failed", result.Failed)
	}
	return result, nil
}
