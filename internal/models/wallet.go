package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet event_type enums. Every balance mutation is one of these.
const (
	WalletEventDeposit      = "deposit"
	WalletEventWithdrawal   = "withdrawal"
	WalletEventEscrowFund   = "escrow_fund"
	WalletEventPayout       = "payout"
	WalletEventRefund       = "refund"
	WalletEventPlatformFee  = "platform_fee"
	WalletEventSplitPayout  = "split_payout"
	WalletEventSplitRefund  = "split_refund"
)

// SystemPlatformUserID owns the wallet that collects platform fees.
var SystemPlatformUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// WalletBalance is the per-user balance projection. It is a cache of the
// WalletEvent fold and is mutated only by the ledger service.
type WalletBalance struct {
	UserID         uuid.UUID `json:"user_id"`
	BalanceCents   int64     `json:"balance_cents"`
	EarnedCents    int64     `json:"earned_cents"`
	CompletedTasks int       `json:"completed_tasks"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WalletEvent is one append-only balance mutation. Immutable once written;
// folding a user's events in order reproduces the stored balance.
type WalletEvent struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	EventType     string     `json:"event_type"`
	AmountCents   int64      `json:"amount_cents"`
	BalanceBefore int64      `json:"balance_before_cents"`
	BalanceAfter  int64      `json:"balance_after_cents"`
	TaskID        *uuid.UUID `json:"task_id,omitempty"`
	EscrowID      *uuid.UUID `json:"escrow_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Debit reports whether the event type reduces the balance.
func (e *WalletEvent) Debit() bool {
	return e.EventType == WalletEventWithdrawal || e.EventType == WalletEventEscrowFund
}
