package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitRecord marks one accepted request in a sliding window. Rows are
// counted and expired by time, never updated.
type RateLimitRecord struct {
	ID          uuid.UUID `json:"id"`
	Identifier  string    `json:"identifier"`
	Operation   string    `json:"operation"`
	WindowStart time.Time `json:"window_start"`
}
