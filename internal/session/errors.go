package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance means the session does not hold enough of an
	// asset. It is an expected, user-facing outcome.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrSessionNotFound = errors.New("session not found")

	// ErrRefundExceedsInput means the engine reported a refund larger than
	// what was sent in. It never happens with a correct engine.
	ErrRefundExceedsInput = errors.New("refund exceeds input")

	// ErrUnknownVenue means the session has no book for the venue.
	ErrUnknownVenue = errors.New("unknown venue")
)

type InsufficientBalanceError struct {
	Asset string
	Have  uint64
	Need  uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %d, need %d", e.Asset, e.Have, e.Need)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }
