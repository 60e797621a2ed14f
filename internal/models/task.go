package models

import (
	"time"

	"github.com/google/uuid"
)

// Task status enums. The lifecycle service owns the transition table;
// everything else treats these as opaque labels.
const (
	TaskStatusOpen       = "open"
	TaskStatusAccepted   = "accepted"
	TaskStatusInProgress = "in_progress"
	TaskStatusSubmitted  = "submitted"
	TaskStatusDisputed   = "disputed"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// ReviewWindow is the fixed window after submission during which the poster
// may approve or dispute before the escrow auto-releases.
const ReviewWindow = 24 * time.Hour

type Task struct {
	ID             uuid.UUID  `json:"id"`
	PosterID       uuid.UUID  `json:"poster_id"`
	DoerID         *uuid.UUID `json:"doer_id,omitempty"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	RewardCents    int64      `json:"reward_cents"`
	Status         string     `json:"status"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	ReviewDeadline *time.Time `json:"review_deadline,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the status has no outgoing transitions.
func Terminal(status string) bool {
	return status == TaskStatusCompleted || status == TaskStatusCancelled
}
