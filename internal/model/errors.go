package model

import (
	"errors"
	"fmt"
)

// Claim lifecycle errors. Match with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrDuplicateClaim    = errors.New("duplicate claim")
	ErrDanglingReference = errors.New("item unavailable, please refresh")
	ErrInvalidTransition = errors.New("already processed")
	ErrUnauthorized      = errors.New("not permitted")
	ErrTransient         = errors.New("temporary failure, please retry")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// DuplicateClaimError is returned when the claimer already has a claim on
// the item. Existing is nil only if the prior claim could not be read back.
type DuplicateClaimError struct {
	Existing *Claim
}

func (e *DuplicateClaimError) Error() string {
	if e.Existing == nil {
		return "you have already claimed this item"
	}
	return fmt.Sprintf("you already claimed this item on %s (status: %s)",
		e.Existing.CreatedAt.Format("2006-01-02 15:04"), e.Existing.Status)
}

func (e *DuplicateClaimError) Is(target error) bool {
	return target == ErrDuplicateClaim
}
