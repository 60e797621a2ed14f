package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

const escrowColumns = `id, task_id, poster_id, doer_id, gross_cents, platform_fee_cents, fee_percent, net_payout_cents, status, auto_release_at, created_at, released_at`

func scanEscrow(row pgx.Row) (*models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := row.Scan(&e.ID, &e.TaskID, &e.PosterID, &e.DoerID, &e.GrossCents, &e.PlatformFee, &e.FeePercent, &e.NetPayoutCents, &e.Status, &e.AutoReleaseAt, &e.CreatedAt, &e.ReleasedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EscrowRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, task_id, poster_id, doer_id, gross_cents, platform_fee_cents, fee_percent, net_payout_cents, status, auto_release_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, e.ID, e.TaskID, e.PosterID, e.DoerID, e.GrossCents, e.PlatformFee, e.FeePercent, e.NetPayoutCents, e.Status, e.AutoReleaseAt).Scan(&e.CreatedAt)
}

func (r *EscrowRepo) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(r.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE task_id = $1`, taskID))
}

// GetByTaskIDForUpdate locks the escrow row. Call within a transaction.
func (r *EscrowRepo) GetByTaskIDForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	return scanEscrow(tx.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrow_transactions WHERE task_id = $1 FOR UPDATE`, taskID))
}

// LockFeeTx re-derives the fee fields once at acceptance. Only a held escrow
// can have its fee locked; gross never changes.
func (r *EscrowRepo) LockFeeTx(ctx context.Context, tx pgx.Tx, taskID, doerID uuid.UUID, feeCents int64, feePercent float64, netCents int64) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions
		SET doer_id = $2, platform_fee_cents = $3, fee_percent = $4, net_payout_cents = $5
		WHERE task_id = $1 AND status = $6
	`, taskID, doerID, feeCents, feePercent, netCents, models.EscrowStatusHeld)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetAutoReleaseTx stamps the auto-release deadline at submission.
func (r *EscrowRepo) SetAutoReleaseTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET auto_release_at = $2 WHERE task_id = $1 AND status = $3
	`, taskID, at, models.EscrowStatusHeld)
	return err
}

// SettleTx conditionally moves a held escrow to a terminal status and stamps
// released_at. Returns false when the escrow was no longer held, which lets
// racing releases detect each other without locking.
func (r *EscrowRepo) SettleTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, toStatus string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE escrow_transactions SET status = $2, released_at = now()
		WHERE task_id = $1 AND status = $3
	`, taskID, toStatus, models.EscrowStatusHeld)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
