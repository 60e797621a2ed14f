package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RateLimitRepo struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepo(pool *pgxpool.Pool) *RateLimitRepo {
	return &RateLimitRepo{pool: pool}
}

// CountSince counts accepted requests for (identifier, operation) whose
// window_start is at or after since.
func (r *RateLimitRepo) CountSince(ctx context.Context, identifier, operation string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM rate_limit_records
		WHERE identifier = $1 AND operation = $2 AND window_start >= $3
	`, identifier, operation, since).Scan(&n)
	return n, err
}

// Insert marks one accepted request. Denied requests never insert.
func (r *RateLimitRepo) Insert(ctx context.Context, identifier, operation string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rate_limit_records (id, identifier, operation, window_start)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), identifier, operation, at)
	return err
}

// PurgeBefore drops rows older than the cutoff. Called opportunistically by
// the sweep job so the table does not grow without bound.
func (r *RateLimitRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_records WHERE window_start < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
