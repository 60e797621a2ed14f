package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	DisputeStatusOpen     = "open"
	DisputeStatusResolved = "resolved"
)

// Dispute resolution outcomes.
const (
	DisputeOutcomeApprove = "approve"
	DisputeOutcomeReject  = "reject"
	DisputeOutcomeSplit   = "split"
)

type Dispute struct {
	ID                uuid.UUID  `json:"id"`
	TaskID            uuid.UUID  `json:"task_id"`
	EscrowID          uuid.UUID  `json:"escrow_id"`
	RaisedBy          uuid.UUID  `json:"raised_by"`
	Reason            string     `json:"reason"`
	Status            string     `json:"status"`
	Outcome           *string    `json:"outcome,omitempty"`
	DoerAmountCents   *int64     `json:"doer_amount_cents,omitempty"`
	PosterAmountCents *int64     `json:"poster_amount_cents,omitempty"`
	ResolvedBy        *uuid.UUID `json:"resolved_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}
