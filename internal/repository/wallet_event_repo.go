package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type WalletEventRepo struct {
	pool *pgxpool.Pool
}

func NewWalletEventRepo(pool *pgxpool.Pool) *WalletEventRepo {
	return &WalletEventRepo{pool: pool}
}

const walletEventColumns = `id, user_id, event_type, amount_cents, balance_before_cents, balance_after_cents, task_id, escrow_id, created_at`

// CreateTx appends one balance-mutation event. Events are never updated.
func (r *WalletEventRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.WalletEvent) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_events (id, user_id, event_type, amount_cents, balance_before_cents, balance_after_cents, task_id, escrow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.UserID, e.EventType, e.AmountCents, e.BalanceBefore, e.BalanceAfter, e.TaskID, e.EscrowID).Scan(&e.CreatedAt)
}

func (r *WalletEventRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+walletEventColumns+` FROM wallet_events WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWalletEvents(rows)
}

func (r *WalletEventRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]*models.WalletEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+walletEventColumns+` FROM wallet_events WHERE task_id = $1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWalletEvents(rows)
}

func collectWalletEvents(rows pgx.Rows) ([]*models.WalletEvent, error) {
	var list []*models.WalletEvent
	for rows.Next() {
		var e models.WalletEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.AmountCents, &e.BalanceBefore, &e.BalanceAfter, &e.TaskID, &e.EscrowID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
