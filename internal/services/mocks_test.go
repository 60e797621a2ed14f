package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks for the lifecycle's store interfaces. Conditional updates
// mirror the SQL ("WHERE status = ...") so the concurrency tests exercise the
// same linearization points as production.
// ---------------------------------------------------------------------------

// fakeTx satisfies pgx.Tx for code paths that only Commit/Rollback.
type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct{}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

// ---

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTasks() *mockTasks {
	return &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
}

func (m *mockTasks) CreateTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.GetByID(ctx, id)
}

func (m *mockTasks) TransitionTx(_ context.Context, _ pgx.Tx, id uuid.UUID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return true, nil
}

func (m *mockTasks) AssignDoerTx(_ context.Context, _ pgx.Tx, id, doerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusOpen {
		return false, nil
	}
	t.Status = models.TaskStatusAccepted
	t.DoerID = &doerID
	return true, nil
}

func (m *mockTasks) SubmitTx(_ context.Context, _ pgx.Tx, id uuid.UUID, reviewDeadline time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.Status != models.TaskStatusInProgress {
		return false, nil
	}
	t.Status = models.TaskStatusSubmitted
	t.ReviewDeadline = &reviewDeadline
	return true, nil
}

func (m *mockTasks) ListExpiredSubmitted(_ context.Context, now time.Time) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusSubmitted && t.ReviewDeadline != nil && !t.ReviewDeadline.After(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockTasks) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id].Status
}

// ---

type mockEscrows struct {
	mu     sync.Mutex
	byTask map[uuid.UUID]*models.EscrowTransaction
}

func newMockEscrows() *mockEscrows {
	return &mockEscrows{byTask: make(map[uuid.UUID]*models.EscrowTransaction)}
}

func (m *mockEscrows) CreateTx(_ context.Context, _ pgx.Tx, e *models.EscrowTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	cp := *e
	m.byTask[e.TaskID] = &cp
	return nil
}

func (m *mockEscrows) GetByTaskID(_ context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTask[taskID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (m *mockEscrows) GetByTaskIDForUpdate(ctx context.Context, _ pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	return m.GetByTaskID(ctx, taskID)
}

func (m *mockEscrows) LockFeeTx(_ context.Context, _ pgx.Tx, taskID, doerID uuid.UUID, feeCents int64, feePercent float64, netCents int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTask[taskID]
	if !ok || e.Status != models.EscrowStatusHeld {
		return false, nil
	}
	e.DoerID = &doerID
	e.PlatformFee = feeCents
	e.FeePercent = feePercent
	e.NetPayoutCents = netCents
	return true, nil
}

func (m *mockEscrows) SetAutoReleaseTx(_ context.Context, _ pgx.Tx, taskID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byTask[taskID]; ok && e.Status == models.EscrowStatusHeld {
		e.AutoReleaseAt = &at
	}
	return nil
}

func (m *mockEscrows) SettleTx(_ context.Context, _ pgx.Tx, taskID uuid.UUID, toStatus string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTask[taskID]
	if !ok || e.Status != models.EscrowStatusHeld {
		return false, nil
	}
	e.Status = toStatus
	now := time.Now()
	e.ReleasedAt = &now
	return true, nil
}

func (m *mockEscrows) status(taskID uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byTask[taskID].Status
}

// ---

type mockDisputes struct {
	mu       sync.Mutex
	disputes map[uuid.UUID]*models.Dispute
}

func newMockDisputes() *mockDisputes {
	return &mockDisputes{disputes: make(map[uuid.UUID]*models.Dispute)}
}

func (m *mockDisputes) CreateTx(_ context.Context, _ pgx.Tx, d *models.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now()
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *mockDisputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *d
	return &cp, nil
}

func (m *mockDisputes) ResolveTx(_ context.Context, _ pgx.Tx, id uuid.UUID, outcome string, doerCents, posterCents int64, resolvedBy uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok || d.Status != models.DisputeStatusOpen {
		return false, nil
	}
	now := time.Now()
	d.Status = models.DisputeStatusResolved
	d.Outcome = &outcome
	d.DoerAmountCents = &doerCents
	d.PosterAmountCents = &posterCents
	d.ResolvedBy = &resolvedBy
	d.ResolvedAt = &now
	return true, nil
}

// ---

// mockWallets backs both the ledger's WalletStore and the lifecycle's
// WalletReader. It records the order of row locks so tests can check the
// deterministic lock ordering on multi-wallet settlements.
type mockWallets struct {
	mu        sync.Mutex
	wallets   map[uuid.UUID]*models.WalletBalance
	lockOrder []uuid.UUID
}

func newMockWallets() *mockWallets {
	return &mockWallets{wallets: make(map[uuid.UUID]*models.WalletBalance)}
}

func (m *mockWallets) add(id uuid.UUID, balance int64, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[id] = &models.WalletBalance{UserID: id, BalanceCents: balance, CompletedTasks: completed}
}

func (m *mockWallets) GetByUserIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.WalletBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockOrder = append(m.lockOrder, id)
	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", id)
	}
	cp := *w
	return &cp, nil
}

func (m *mockWallets) AddFunds(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return 0, fmt.Errorf("wallet %s not found", id)
	}
	w.BalanceCents += amount
	return w.BalanceCents, nil
}

func (m *mockWallets) DeductFunds(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok || w.BalanceCents < amount {
		return 0, pgx.ErrNoRows
	}
	w.BalanceCents -= amount
	return w.BalanceCents, nil
}

func (m *mockWallets) RecordEarning(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %s not found", id)
	}
	w.EarnedCents += amount
	w.CompletedTasks++
	return nil
}

func (m *mockWallets) balance(id uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[id]; ok {
		return w.BalanceCents
	}
	return 0
}

func (m *mockWallets) resetLocks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockOrder = nil
}

func (m *mockWallets) locks() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.lockOrder...)
}

func (m *mockWallets) completed(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.wallets[id]; ok {
		return w.CompletedTasks
	}
	return 0
}

// ---

type mockWalletEvents struct {
	mu     sync.Mutex
	events []*models.WalletEvent
}

func (m *mockWalletEvents) CreateTx(_ context.Context, _ pgx.Tx, e *models.WalletEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.CreatedAt = time.Now()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockWalletEvents) byType(eventType string) []*models.WalletEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WalletEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
