package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gigpay/backend/internal/events"
	"github.com/gigpay/backend/internal/models"
)

// Resolver applies an adjudicated dispute outcome to the escrow and ledger.
// Adjudication itself (who decides, and how) happens elsewhere; this only
// moves the money and closes the task.
type Resolver struct {
	db       DB
	tasks    TaskStore
	escrows  EscrowStore
	disputes DisputeStore
	wallets  WalletReader
	ledger   Ledger
	bus      events.Bus
	log      *slog.Logger
}

func NewResolver(db DB, tasks TaskStore, escrows EscrowStore, disputes DisputeStore, wallets WalletReader, l Ledger, bus events.Bus, log *slog.Logger) *Resolver {
	if bus == nil {
		bus = events.NopBus{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{db: db, tasks: tasks, escrows: escrows, disputes: disputes, wallets: wallets, ledger: l, bus: bus, log: log}
}

// Resolution records the amounts moved by a resolved dispute.
// DoerAmountCents + PosterAmountCents + platform fee (approve only) equals
// the escrow gross.
type Resolution struct {
	Dispute           *models.Dispute `json:"dispute"`
	Outcome           string          `json:"outcome"`
	DoerAmountCents   int64           `json:"doer_amount_cents"`
	PosterAmountCents int64           `json:"poster_amount_cents"`
}

// Resolve applies approve/reject/split to an open dispute. approve credits
// the doer the net payout (fee to the platform); reject refunds the poster in
// full; split divides the gross by doerRatio with the remainder cent going to
// the poster. The task always ends completed. A dispute that is already
// terminal fails with ErrAlreadyResolved.
func (r *Resolver) Resolve(ctx context.Context, disputeID uuid.UUID, outcome string, doerRatio float64, resolvedBy uuid.UUID) (*Resolution, error) {
	switch outcome {
	case models.DisputeOutcomeApprove, models.DisputeOutcomeReject:
	case models.DisputeOutcomeSplit:
		if doerRatio < 0 || doerRatio > 1 {
			return nil, fmt.Errorf("%w: split ratio must be within [0, 1]", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidInput, outcome)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	dispute, err := r.disputes.GetByID(ctx, disputeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if dispute.Status != models.DisputeStatusOpen {
		return nil, ErrAlreadyResolved
	}

	task, err := r.tasks.GetByIDForUpdate(ctx, tx, dispute.TaskID)
	if err != nil {
		return nil, err
	}
	escrow, err := r.escrows.GetByTaskIDForUpdate(ctx, tx, dispute.TaskID)
	if err != nil {
		return nil, err
	}
	if escrow.DoerID == nil {
		return nil, fmt.Errorf("escrow %s has no doer", escrow.ID)
	}

	var doerCents, posterCents, feeCents int64
	var escrowStatus string
	switch outcome {
	case models.DisputeOutcomeApprove:
		doerCents = escrow.NetPayoutCents
		feeCents = escrow.PlatformFee
		escrowStatus = models.EscrowStatusReleased
	case models.DisputeOutcomeReject:
		posterCents = escrow.GrossCents
		escrowStatus = models.EscrowStatusRefunded
	case models.DisputeOutcomeSplit:
		doerCents = int64(math.Floor(float64(escrow.GrossCents) * doerRatio))
		posterCents = escrow.GrossCents - doerCents
		escrowStatus = models.EscrowStatusSplit
	}

	// A split pays both parties, so wallet locks must be taken in UUID
	// order: two resolutions over the same pair of users with inverted
	// roles would otherwise deadlock.
	affected := make([]uuid.UUID, 0, 3)
	if doerCents > 0 {
		affected = append(affected, *escrow.DoerID)
	}
	if posterCents > 0 {
		affected = append(affected, escrow.PosterID)
	}
	if feeCents > 0 {
		affected = append(affected, models.SystemPlatformUserID)
	}
	if err := lockWallets(ctx, tx, r.wallets, affected...); err != nil {
		return nil, err
	}

	// Conditional update is the terminal-dispute gate under concurrency.
	ok, err := r.disputes.ResolveTx(ctx, tx, disputeID, outcome, doerCents, posterCents, resolvedBy)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyResolved
	}

	ok, err = r.escrows.SettleTx(ctx, tx, dispute.TaskID, escrowStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("escrow for disputed task %s is not held", dispute.TaskID)
	}

	if !transitionAllowed(task.Status, models.TaskStatusCompleted) {
		return nil, invalidState(task.Status, models.TaskStatusCompleted)
	}
	ok, err = r.tasks.TransitionTx(ctx, tx, dispute.TaskID, task.Status, models.TaskStatusCompleted)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %s moved out of %s during resolution", dispute.TaskID, task.Status)
	}

	if doerCents > 0 {
		eventType := models.WalletEventPayout
		if outcome == models.DisputeOutcomeSplit {
			eventType = models.WalletEventSplitPayout
		}
		if _, err := r.ledger.Apply(ctx, tx, *escrow.DoerID, eventType, doerCents, &dispute.TaskID, &escrow.ID); err != nil {
			return nil, err
		}
	}
	if posterCents > 0 {
		eventType := models.WalletEventRefund
		if outcome == models.DisputeOutcomeSplit {
			eventType = models.WalletEventSplitRefund
		}
		if _, err := r.ledger.Apply(ctx, tx, escrow.PosterID, eventType, posterCents, &dispute.TaskID, &escrow.ID); err != nil {
			return nil, err
		}
	}
	if feeCents > 0 {
		if _, err := r.ledger.Apply(ctx, tx, models.SystemPlatformUserID, models.WalletEventPlatformFee, feeCents, &dispute.TaskID, &escrow.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	resolved := *dispute
	resolved.Status = models.DisputeStatusResolved
	resolved.Outcome = &outcome
	resolved.DoerAmountCents = &doerCents
	resolved.PosterAmountCents = &posterCents
	resolved.ResolvedBy = &resolvedBy

	r.bus.Publish(events.Event{Kind: events.KindDisputeResolved, TaskID: &dispute.TaskID, UserID: &resolvedBy})
	return &Resolution{
		Dispute:           &resolved,
		Outcome:           outcome,
		DoerAmountCents:   doerCents,
		PosterAmountCents: posterCents,
	}, nil
}
