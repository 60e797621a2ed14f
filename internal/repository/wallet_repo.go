package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gigpay/backend/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

const walletColumns = `user_id, balance_cents, earned_cents, completed_tasks, updated_at`

func scanWallet(row pgx.Row) (*models.WalletBalance, error) {
	var w models.WalletBalance
	err := row.Scan(&w.UserID, &w.BalanceCents, &w.EarnedCents, &w.CompletedTasks, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.WalletBalance, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_balances WHERE user_id = $1`, userID))
}

// GetByUserIDForUpdate locks the wallet row. Call within a transaction.
func (r *WalletRepo) GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.WalletBalance, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallet_balances WHERE user_id = $1 FOR UPDATE`, userID))
}

// CreateTx inserts a zero wallet for a new user.
func (r *WalletRepo) CreateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, balance_cents, earned_cents, completed_tasks)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

// AddFunds credits the wallet and returns the new balance.
func (r *WalletRepo) AddFunds(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallet_balances SET balance_cents = balance_cents + $1, updated_at = now()
		WHERE user_id = $2
		RETURNING balance_cents
	`, amountCents, userID).Scan(&newBalance)
	return newBalance, err
}

// DeductFunds atomically debits the wallet if the balance covers it.
// pgx.ErrNoRows means the balance was insufficient.
func (r *WalletRepo) DeductFunds(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (newBalance int64, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE wallet_balances SET balance_cents = balance_cents - $1, updated_at = now()
		WHERE user_id = $2 AND balance_cents >= $1
		RETURNING balance_cents
	`, amountCents, userID).Scan(&newBalance)
	return newBalance, err
}

// RecordEarning bumps cumulative earnings and the completed-task count that
// drives the doer's fee tier.
func (r *WalletRepo) RecordEarning(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallet_balances
		SET earned_cents = earned_cents + $1, completed_tasks = completed_tasks + 1, updated_at = now()
		WHERE user_id = $2
	`, amountCents, userID)
	return err
}
