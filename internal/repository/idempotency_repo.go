package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type IdempotencyRepo struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepo {
	return &IdempotencyRepo{pool: pool}
}

// Get returns the record for (caller, endpoint, key), or nil when the key has
// never been used in that scope.
func (r *IdempotencyRepo) Get(ctx context.Context, callerID uuid.UUID, endpoint, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := r.pool.QueryRow(ctx, `
		SELECT id, caller_id, endpoint, idem_key, request_hash, response_status, response_body, created_at
		FROM idempotency_records WHERE caller_id = $1 AND endpoint = $2 AND idem_key = $3
	`, callerID, endpoint, key).Scan(&rec.ID, &rec.CallerID, &rec.Endpoint, &rec.Key, &rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert records a completed request. Write-once: a concurrent duplicate
// insert is swallowed by ON CONFLICT DO NOTHING, keeping the first response.
func (r *IdempotencyRepo) Insert(ctx context.Context, rec *models.IdempotencyRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO idempotency_records (id, caller_id, endpoint, idem_key, request_hash, response_status, response_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (caller_id, endpoint, idem_key) DO NOTHING
	`, rec.ID, rec.CallerID, rec.Endpoint, rec.Key, rec.RequestHash, rec.ResponseStatus, rec.ResponseBody)
	return err
}
