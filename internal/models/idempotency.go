package models

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord stores the outcome of a previously processed mutating
// request. Write-once per (caller, endpoint, key); a second write with the
// same key but a different request hash is a conflict, never an overwrite.
type IdempotencyRecord struct {
	ID             uuid.UUID `json:"id"`
	CallerID       uuid.UUID `json:"caller_id"`
	Endpoint       string    `json:"endpoint"`
	Key            string    `json:"key"`
	RequestHash    string    `json:"request_hash"`
	ResponseStatus int       `json:"response_status"`
	ResponseBody   []byte    `json:"response_body"`
	CreatedAt      time.Time `json:"created_at"`
}
