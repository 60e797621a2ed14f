package models

import (
	"time"

	"github.com/google/uuid"
)

// Escrow status enums. Transitions are monotonic: once an escrow leaves
// "held" it never returns, and released/refunded/split are terminal.
const (
	EscrowStatusHeld     = "held"
	EscrowStatusReleased = "released"
	EscrowStatusRefunded = "refunded"
	EscrowStatusSplit    = "split"
)

// EscrowTransaction holds the funds for exactly one task between funding and
// release/refund. Invariant: GrossCents = PlatformFeeCents + NetPayoutCents,
// resolved when the fee is locked.
type EscrowTransaction struct {
	ID              uuid.UUID  `json:"id"`
	TaskID          uuid.UUID  `json:"task_id"`
	PosterID        uuid.UUID  `json:"poster_id"`
	DoerID          *uuid.UUID `json:"doer_id,omitempty"`
	GrossCents      int64      `json:"gross_cents"`
	PlatformFee     int64      `json:"platform_fee_cents"`
	FeePercent      float64    `json:"fee_percent"`
	NetPayoutCents  int64      `json:"net_payout_cents"`
	Status          string     `json:"status"`
	AutoReleaseAt   *time.Time `json:"auto_release_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
}
