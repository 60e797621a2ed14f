package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

const disputeColumns = `id, task_id, escrow_id, raised_by, reason, status, outcome, doer_amount_cents, poster_amount_cents, resolved_by, created_at, resolved_at`

func scanDispute(row pgx.Row) (*models.Dispute, error) {
	var d models.Dispute
	err := row.Scan(&d.ID, &d.TaskID, &d.EscrowID, &d.RaisedBy, &d.Reason, &d.Status, &d.Outcome, &d.DoerAmountCents, &d.PosterAmountCents, &d.ResolvedBy, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DisputeRepo) CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error {
	return tx.QueryRow(ctx, `
		INSERT INTO disputes (id, task_id, escrow_id, raised_by, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, d.ID, d.TaskID, d.EscrowID, d.RaisedBy, d.Reason, d.Status).Scan(&d.CreatedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

// ResolveTx conditionally marks an open dispute resolved with its outcome.
// Returns false when the dispute was already terminal.
func (r *DisputeRepo) ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, outcome string, doerCents, posterCents int64, resolvedBy uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = $2, outcome = $3, doer_amount_cents = $4, poster_amount_cents = $5, resolved_by = $6, resolved_at = now()
		WHERE id = $1 AND status = $7
	`, id, models.DisputeStatusResolved, outcome, doerCents, posterCents, resolvedBy, models.DisputeStatusOpen)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DisputeRepo) ListOpen(ctx context.Context) ([]*models.Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE status = $1 ORDER BY created_at
	`, models.DisputeStatusOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}
