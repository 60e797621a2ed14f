// Package ledger owns every wallet balance mutation. Callers supply the
// transaction so a balance change commits or rolls back together with the
// task/escrow status change that caused it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/models"
)

// ErrInsufficientFunds is returned when a debit exceeds the wallet balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for zero or negative mutation amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// WalletStore is the minimal balance-projection interface the ledger needs.
type WalletStore interface {
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.WalletBalance, error)
	AddFunds(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error)
	DeductFunds(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) (int64, error)
	RecordEarning(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amountCents int64) error
}

// EventStore appends wallet events.
type EventStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.WalletEvent) error
}

type Service struct {
	Wallets WalletStore
	Events  EventStore
}

func NewService(wallets WalletStore, events EventStore) *Service {
	return &Service{Wallets: wallets, Events: events}
}

// Mutation reports one applied balance change.
type Mutation struct {
	BalanceBefore int64
	BalanceAfter  int64
	Event         *models.WalletEvent
}

// Apply locks the wallet row, moves the balance, and appends the event, all
// inside the caller's transaction. Debits that would go negative fail with
// ErrInsufficientFunds; credits always succeed. Payout events also bump the
// doer's cumulative earnings and completed-task count.
func (s *Service) Apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, eventType string, amountCents int64, taskID, escrowID *uuid.UUID) (*Mutation, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.Wallets.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock wallet %s: %w", userID, err)
	}

	event := &models.WalletEvent{
		ID:            uuid.New(),
		UserID:        userID,
		EventType:     eventType,
		AmountCents:   amountCents,
		BalanceBefore: wallet.BalanceCents,
		TaskID:        taskID,
		EscrowID:      escrowID,
	}

	var after int64
	if event.Debit() {
		after, err = s.Wallets.DeductFunds(ctx, tx, userID, amountCents)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInsufficientFunds
		}
	} else {
		after, err = s.Wallets.AddFunds(ctx, tx, userID, amountCents)
	}
	if err != nil {
		return nil, fmt.Errorf("move funds for %s: %w", userID, err)
	}
	event.BalanceAfter = after

	if eventType == models.WalletEventPayout || eventType == models.WalletEventSplitPayout {
		if err := s.Wallets.RecordEarning(ctx, tx, userID, amountCents); err != nil {
			return nil, fmt.Errorf("record earning for %s: %w", userID, err)
		}
	}

	if err := s.Events.CreateTx(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("append wallet event: %w", err)
	}
	return &Mutation{BalanceBefore: event.BalanceBefore, BalanceAfter: after, Event: event}, nil
}
