package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, poster_id, doer_id, title, description, reward_cents, status, deadline, review_deadline, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.PosterID, &t.DoerID, &t.Title, &t.Description, &t.RewardCents, &t.Status, &t.Deadline, &t.ReviewDeadline, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, poster_id, doer_id, title, description, reward_cents, status, deadline, review_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`, t.ID, t.PosterID, t.DoerID, t.Title, t.Description, t.RewardCents, t.Status, t.Deadline, t.ReviewDeadline).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// GetByIDForUpdate locks the task row. Call within a transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
}

// TransitionTx conditionally moves a task from one status to another.
// Returns false when the task was not in fromStatus (lost a race or illegal),
// which is the linearization point for every lifecycle transition.
func (r *TaskRepo) TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromStatus, toStatus string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, fromStatus, toStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AssignDoerTx sets the doer and moves open -> accepted in one conditional
// update. Exactly one of any number of concurrent callers wins.
func (r *TaskRepo) AssignDoerTx(ctx context.Context, tx pgx.Tx, id, doerID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET doer_id = $2, status = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, doerID, models.TaskStatusAccepted, models.TaskStatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SubmitTx moves in_progress -> submitted and stamps the review deadline.
func (r *TaskRepo) SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reviewDeadline time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $2, review_deadline = $3, updated_at = now()
		WHERE id = $1 AND status = $4
	`, id, models.TaskStatusSubmitted, reviewDeadline, models.TaskStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredSubmitted returns tasks still in submitted whose review deadline
// has passed. Consumed by the auto-release sweep.
func (r *TaskRepo) ListExpiredSubmitted(ctx context.Context, now time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE status = $1 AND review_deadline IS NOT NULL AND review_deadline <= $2
		ORDER BY review_deadline
	`, models.TaskStatusSubmitted, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByPosterID(ctx context.Context, posterID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE poster_id = $1 ORDER BY created_at DESC
	`, posterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListByDoerID(ctx context.Context, doerID uuid.UUID) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE doer_id = $1 ORDER BY created_at DESC
	`, doerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (r *TaskRepo) ListOpen(ctx context.Context) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE status = $1 ORDER BY created_at DESC
	`, models.TaskStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
