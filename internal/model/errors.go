package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job or interview does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by the store when a uniqueness constraint
	// rejects an insert.
	ErrDuplicate = errors.New("duplicate job")

	// ErrInvalidTransition matches every *InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
)

// IngestionError marks a scraped record that is malformed and must not be
// stored.
type IngestionError struct {
	Field  string
	Reason string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion: %s %s", e.Field, e.Reason)
}

// InvalidTransitionError is returned when the lifecycle allow-list rejects
// a status change. Nothing is written when it is returned.
type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("transition %s → %s is not allowed", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
