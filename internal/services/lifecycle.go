package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/events"
	"github.com/gigpay/backend/internal/fees"
	"github.com/gigpay/backend/internal/ledger"
	"github.com/gigpay/backend/internal/models"
)

// DB begins transactions. *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TaskStore is the minimal task repository interface for the lifecycle.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, fromStatus, toStatus string) (bool, error)
	AssignDoerTx(ctx context.Context, tx pgx.Tx, id, doerID uuid.UUID) (bool, error)
	SubmitTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reviewDeadline time.Time) (bool, error)
	ListExpiredSubmitted(ctx context.Context, now time.Time) ([]*models.Task, error)
}

// EscrowStore is the minimal escrow repository interface for the lifecycle.
type EscrowStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
	GetByTaskID(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error)
	GetByTaskIDForUpdate(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.EscrowTransaction, error)
	LockFeeTx(ctx context.Context, tx pgx.Tx, taskID, doerID uuid.UUID, feeCents int64, feePercent float64, netCents int64) (bool, error)
	SetAutoReleaseTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, at time.Time) error
	SettleTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, toStatus string) (bool, error)
}

// DisputeStore is the minimal dispute repository interface.
type DisputeStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	ResolveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, outcome string, doerCents, posterCents int64, resolvedBy uuid.UUID) (bool, error)
}

// WalletReader reads the doer's completed-task count when locking the fee.
type WalletReader interface {
	GetByUserIDForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.WalletBalance, error)
}

// Ledger applies balance mutations inside the lifecycle's transaction.
type Ledger interface {
	Apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, eventType string, amountCents int64, taskID, escrowID *uuid.UUID) (*ledger.Mutation, error)
}

// transitions is the single source of truth for the task lifecycle. Any pair
// not listed fails with InvalidStateError. completed and cancelled have no
// outgoing edges.
var transitions = map[string]map[string]bool{
	models.TaskStatusOpen:       {models.TaskStatusAccepted: true, models.TaskStatusCancelled: true},
	models.TaskStatusAccepted:   {models.TaskStatusInProgress: true, models.TaskStatusCancelled: true},
	models.TaskStatusInProgress: {models.TaskStatusSubmitted: true},
	models.TaskStatusSubmitted:  {models.TaskStatusCompleted: true, models.TaskStatusDisputed: true},
	models.TaskStatusDisputed:   {models.TaskStatusCompleted: true, models.TaskStatusCancelled: true},
}

func transitionAllowed(from, to string) bool {
	return transitions[from][to]
}

// Lifecycle validates and applies task/escrow state transitions. It is the
// only writer of task and escrow records; all funds movement goes through the
// ledger inside the same transaction as the status change.
type Lifecycle struct {
	db       DB
	tasks    TaskStore
	escrows  EscrowStore
	disputes DisputeStore
	wallets  WalletReader
	ledger   Ledger
	fees     fees.Schedule
	bus      events.Bus
	log      *slog.Logger
	now      func() time.Time
}

func NewLifecycle(db DB, tasks TaskStore, escrows EscrowStore, disputes DisputeStore, wallets WalletReader, l Ledger, schedule fees.Schedule, bus events.Bus, log *slog.Logger) *Lifecycle {
	if bus == nil {
		bus = events.NopBus{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		db:       db,
		tasks:    tasks,
		escrows:  escrows,
		disputes: disputes,
		wallets:  wallets,
		ledger:   l,
		fees:     schedule,
		bus:      bus,
		log:      log,
		now:      time.Now,
	}
}

// ReleaseResult reports one release attempt. Skipped means the escrow was
// already released by a racing caller; that is an expected outcome, not an
// error.
type ReleaseResult struct {
	TaskID      uuid.UUID `json:"task_id"`
	Skipped     bool      `json:"skipped"`
	PayoutCents int64     `json:"payout_cents,omitempty"`
	FeeCents    int64     `json:"fee_cents,omitempty"`
}

// Create opens a task and funds its escrow from the poster's wallet in one
// transaction. The fee recorded here is provisional (computed as if the doer
// were brand new); it is re-derived exactly once when a doer accepts.
func (s *Lifecycle) Create(ctx context.Context, posterID uuid.UUID, title, description string, rewardCents int64, deadline *time.Time) (*models.Task, *models.EscrowTransaction, error) {
	if title == "" {
		return nil, nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if rewardCents <= 0 {
		return nil, nil, fmt.Errorf("%w: reward must be positive", ErrInvalidInput)
	}
	provisional, err := s.fees.Compute(rewardCents, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	task := &models.Task{
		ID:          uuid.New(),
		PosterID:    posterID,
		Title:       title,
		Description: description,
		RewardCents: rewardCents,
		Status:      models.TaskStatusOpen,
		Deadline:    deadline,
	}
	if err := s.tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, nil, err
	}

	escrow := &models.EscrowTransaction{
		ID:             uuid.New(),
		TaskID:         task.ID,
		PosterID:       posterID,
		GrossCents:     rewardCents,
		PlatformFee:    provisional.PlatformFeeCents,
		FeePercent:     provisional.AppliedPercent,
		NetPayoutCents: provisional.NetPayoutCents,
		Status:         models.EscrowStatusHeld,
	}
	if err := s.escrows.CreateTx(ctx, tx, escrow); err != nil {
		return nil, nil, err
	}

	if _, err := s.ledger.Apply(ctx, tx, posterID, models.WalletEventEscrowFund, rewardCents, &task.ID, &escrow.ID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	s.bus.Publish(events.Event{Kind: events.KindTaskCreated, TaskID: &task.ID, UserID: &posterID})
	return task, escrow, nil
}

// Accept assigns the doer to an open task. Exactly one of any number of
// concurrent callers wins; losers get ErrAlreadyAssigned. The escrow fee is
// locked here from the doer's actual completed-task count.
func (s *Lifecycle) Accept(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusOpen {
		return nil, ErrAlreadyAssigned
	}
	if task.PosterID == doerID {
		return nil, fmt.Errorf("%w: poster cannot accept own task", ErrNotAuthorized)
	}

	ok, err := s.tasks.AssignDoerTx(ctx, tx, taskID, doerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyAssigned
	}

	wallet, err := s.wallets.GetByUserIDForUpdate(ctx, tx, doerID)
	if err != nil {
		return nil, fmt.Errorf("read doer wallet: %w", err)
	}
	locked, err := s.fees.Compute(task.RewardCents, wallet.CompletedTasks)
	if err != nil {
		return nil, err
	}
	ok, err = s.escrows.LockFeeTx(ctx, tx, taskID, doerID, locked.PlatformFeeCents, locked.AppliedPercent, locked.NetPayoutCents)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("escrow for task %s is not held", taskID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusAccepted
	task.DoerID = &doerID
	s.bus.Publish(events.Event{Kind: events.KindTaskAccepted, TaskID: &taskID, UserID: &doerID})
	return task, nil
}

// Start moves accepted -> in_progress. Only the assigned doer.
func (s *Lifecycle) Start(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.DoerID == nil || *task.DoerID != doerID {
		return nil, ErrNotAuthorized
	}
	if !transitionAllowed(task.Status, models.TaskStatusInProgress) {
		return nil, invalidState(task.Status, models.TaskStatusInProgress)
	}
	if _, err := s.tasks.TransitionTx(ctx, tx, taskID, task.Status, models.TaskStatusInProgress); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusInProgress
	s.bus.Publish(events.Event{Kind: events.KindTaskStarted, TaskID: &taskID, UserID: &doerID})
	return task, nil
}

// Submit moves in_progress -> submitted and stamps the review deadline on
// both the task and its escrow. Only the assigned doer.
func (s *Lifecycle) Submit(ctx context.Context, taskID, doerID uuid.UUID) (*models.Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.DoerID == nil || *task.DoerID != doerID {
		return nil, ErrNotAuthorized
	}
	if !transitionAllowed(task.Status, models.TaskStatusSubmitted) {
		return nil, invalidState(task.Status, models.TaskStatusSubmitted)
	}

	reviewDeadline := s.now().Add(models.ReviewWindow)
	if _, err := s.tasks.SubmitTx(ctx, tx, taskID, reviewDeadline); err != nil {
		return nil, err
	}
	if err := s.escrows.SetAutoReleaseTx(ctx, tx, taskID, reviewDeadline); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusSubmitted
	task.ReviewDeadline = &reviewDeadline
	s.bus.Publish(events.Event{Kind: events.KindTaskSubmitted, TaskID: &taskID, UserID: &doerID})
	return task, nil
}

// Approve is the poster's manual release: submitted -> completed with the net
// payout credited to the doer. Approving a task that already auto-released
// reports Skipped rather than failing, so the poster and the sweeper can race
// harmlessly.
func (s *Lifecycle) Approve(ctx context.Context, taskID, posterID uuid.UUID) (*ReleaseResult, error) {
	return s.release(ctx, taskID, &posterID)
}

// Release is the system release path used by the auto-release sweep. Same
// semantics as Approve minus the caller check.
func (s *Lifecycle) Release(ctx context.Context, taskID uuid.UUID) (*ReleaseResult, error) {
	return s.release(ctx, taskID, nil)
}

func (s *Lifecycle) release(ctx context.Context, taskID uuid.UUID, posterID *uuid.UUID) (*ReleaseResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if posterID != nil && task.PosterID != *posterID {
		return nil, ErrNotAuthorized
	}
	if task.Status == models.TaskStatusCompleted {
		return &ReleaseResult{TaskID: taskID, Skipped: true}, nil
	}
	if !transitionAllowed(task.Status, models.TaskStatusCompleted) || task.Status == models.TaskStatusDisputed {
		// A disputed task is locked from release until adjudication.
		return nil, invalidState(task.Status, models.TaskStatusCompleted)
	}

	result, err := s.settleRelease(ctx, tx, task)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	if !result.Skipped {
		s.bus.Publish(events.Event{Kind: events.KindTaskCompleted, TaskID: &taskID, UserID: task.DoerID})
	}
	return result, nil
}

// settleRelease flips the escrow to released, completes the task, and credits
// the doer and the platform. Caller owns the transaction and the task row
// lock. The conditional escrow update is the idempotency gate: if another
// release won, the whole thing degrades to a skip.
func (s *Lifecycle) settleRelease(ctx context.Context, tx pgx.Tx, task *models.Task) (*ReleaseResult, error) {
	escrow, err := s.escrows.GetByTaskIDForUpdate(ctx, tx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("load escrow for task %s: %w", task.ID, err)
	}
	if escrow.DoerID == nil {
		return nil, fmt.Errorf("escrow %s has no doer", escrow.ID)
	}

	affected := []uuid.UUID{*escrow.DoerID}
	if escrow.PlatformFee > 0 {
		affected = append(affected, models.SystemPlatformUserID)
	}
	if err := lockWallets(ctx, tx, s.wallets, affected...); err != nil {
		return nil, err
	}

	ok, err := s.escrows.SettleTx(ctx, tx, task.ID, models.EscrowStatusReleased)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &ReleaseResult{TaskID: task.ID, Skipped: true}, nil
	}

	ok, err = s.tasks.TransitionTx(ctx, tx, task.ID, task.Status, models.TaskStatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %s moved out of %s during release", task.ID, task.Status)
	}

	if _, err := s.ledger.Apply(ctx, tx, *escrow.DoerID, models.WalletEventPayout, escrow.NetPayoutCents, &task.ID, &escrow.ID); err != nil {
		return nil, err
	}
	if escrow.PlatformFee > 0 {
		if _, err := s.ledger.Apply(ctx, tx, models.SystemPlatformUserID, models.WalletEventPlatformFee, escrow.PlatformFee, &task.ID, &escrow.ID); err != nil {
			return nil, err
		}
	}
	return &ReleaseResult{TaskID: task.ID, PayoutCents: escrow.NetPayoutCents, FeeCents: escrow.PlatformFee}, nil
}

// Dispute moves submitted -> disputed and opens a dispute record. The escrow
// stays held but is locked from both manual approval and auto-release.
func (s *Lifecycle) Dispute(ctx context.Context, taskID, raisedBy uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if raisedBy != task.PosterID && (task.DoerID == nil || *task.DoerID != raisedBy) {
		return nil, ErrNotAuthorized
	}
	if !transitionAllowed(task.Status, models.TaskStatusDisputed) {
		return nil, invalidState(task.Status, models.TaskStatusDisputed)
	}

	escrow, err := s.escrows.GetByTaskIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.tasks.TransitionTx(ctx, tx, taskID, task.Status, models.TaskStatusDisputed); err != nil {
		return nil, err
	}

	dispute := &models.Dispute{
		ID:       uuid.New(),
		TaskID:   taskID,
		EscrowID: escrow.ID,
		RaisedBy: raisedBy,
		Reason:   reason,
		Status:   models.DisputeStatusOpen,
	}
	if err := s.disputes.CreateTx(ctx, tx, dispute); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.bus.Publish(events.Event{Kind: events.KindTaskDisputed, TaskID: &taskID, UserID: &raisedBy})
	return dispute, nil
}

// Cancel voids an open or accepted task and refunds the escrow to the poster.
// Only the poster.
func (s *Lifecycle) Cancel(ctx context.Context, taskID, posterID uuid.UUID) (*models.Task, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.lockTask(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if task.PosterID != posterID {
		return nil, ErrNotAuthorized
	}
	if task.Status != models.TaskStatusOpen && task.Status != models.TaskStatusAccepted {
		return nil, invalidState(task.Status, models.TaskStatusCancelled)
	}

	escrow, err := s.escrows.GetByTaskIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	ok, err := s.escrows.SettleTx(ctx, tx, taskID, models.EscrowStatusRefunded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("escrow for task %s is not held", taskID)
	}
	if _, err := s.tasks.TransitionTx(ctx, tx, taskID, task.Status, models.TaskStatusCancelled); err != nil {
		return nil, err
	}
	if _, err := s.ledger.Apply(ctx, tx, posterID, models.WalletEventRefund, escrow.GrossCents, &taskID, &escrow.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	task.Status = models.TaskStatusCancelled
	s.bus.Publish(events.Event{Kind: events.KindTaskCancelled, TaskID: &taskID, UserID: &posterID})
	return task, nil
}

// GetTask reads a task without locking.
func (s *Lifecycle) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return task, err
}

// GetEscrow reads a task's escrow without locking.
func (s *Lifecycle) GetEscrow(ctx context.Context, taskID uuid.UUID) (*models.EscrowTransaction, error) {
	escrow, err := s.escrows.GetByTaskID(ctx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return escrow, err
}

// ExpiredSubmitted lists tasks whose review window has elapsed. Used by the
// auto-release sweep.
func (s *Lifecycle) ExpiredSubmitted(ctx context.Context, now time.Time) ([]*models.Task, error) {
	return s.tasks.ListExpiredSubmitted(ctx, now)
}

// lockWallets takes every affected wallet row lock in ascending UUID order
// before any balance moves. Settlements that locked wallets in role order
// could deadlock when two transactions touch the same pair of users with the
// roles inverted.
func lockWallets(ctx context.Context, tx pgx.Tx, wallets WalletReader, ids ...uuid.UUID) error {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			ordered = append(ordered, id)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })
	for _, id := range ordered {
		if _, err := wallets.GetByUserIDForUpdate(ctx, tx, id); err != nil {
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
	}
	return nil
}

// lockTask loads the task row FOR UPDATE, serializing all transitions for a
// given task.
func (s *Lifecycle) lockTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.GetByIDForUpdate(ctx, tx, taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}
