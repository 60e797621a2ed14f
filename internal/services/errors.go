package services

import (
	"errors"
	"fmt"
)

// Race-lost and validation sentinels. AlreadyAssigned/AlreadyResolved mean
// the caller lost a race to another actor; callers treat them as benign.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyAssigned = errors.New("task already assigned")
	ErrAlreadyResolved = errors.New("dispute already resolved")
	ErrNotAuthorized   = errors.New("caller may not perform this action")
	ErrInvalidInput    = errors.New("invalid input")
)

// InvalidStateError reports an attempted transition that is not in the
// lifecycle table.
type InvalidStateError struct {
	From string
	To   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

func invalidState(from, to string) error {
	return &InvalidStateError{From: from, To: to}
}
