// Package dashboard serves the wallet surface: balance, event history, and
// direct deposits/withdrawals. Escrow-driven mutations live in the lifecycle
// service; this package only handles money moving in and out of the platform.
package dashboard

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/events"
	"github.com/gigpay/backend/internal/ledger"
	"github.com/gigpay/backend/internal/models"
)

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger applies a single balance mutation inside the given transaction.
type Ledger interface {
	Apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, eventType string, amountCents int64, taskID, escrowID *uuid.UUID) (*ledger.Mutation, error)
}

type WalletReader interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.WalletBalance, error)
}

type EventLister interface {
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error)
}

type Service struct {
	db      DB
	ledger  Ledger
	wallets WalletReader
	events  EventLister
	bus     events.Bus
}

func NewService(db DB, l Ledger, wallets WalletReader, eventLog EventLister, bus events.Bus) *Service {
	if bus == nil {
		bus = events.NopBus{}
	}
	return &Service{db: db, ledger: l, wallets: wallets, events: eventLog, bus: bus}
}

func (s *Service) Wallet(ctx context.Context, userID uuid.UUID) (*models.WalletBalance, error) {
	return s.wallets.GetByUserID(ctx, userID)
}

func (s *Service) Events(ctx context.Context, userID uuid.UUID) ([]*models.WalletEvent, error) {
	return s.events.ListByUserID(ctx, userID)
}

// Deposit credits external funds into the wallet.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amountCents int64) (*ledger.Mutation, error) {
	return s.apply(ctx, userID, models.WalletEventDeposit, amountCents)
}

// Withdraw moves available balance out of the platform. Funds held in escrow
// were already debited at task creation, so the balance check in the ledger
// is the only guard needed.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amountCents int64) (*ledger.Mutation, error) {
	return s.apply(ctx, userID, models.WalletEventWithdrawal, amountCents)
}

func (s *Service) apply(ctx context.Context, userID uuid.UUID, eventType string, amountCents int64) (*ledger.Mutation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	mut, err := s.ledger.Apply(ctx, tx, userID, eventType, amountCents, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.bus.Publish(events.Event{Kind: events.KindWalletChanged, UserID: &userID})
	return mut, nil
}
