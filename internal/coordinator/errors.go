package coordinator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	// ErrEngineExecutionFailed means a program aborted inside the engine.
	ErrEngineExecutionFailed = errors.New("engine execution failed")

	// ErrMissingReserve means no reserve holding is configured for an asset.
	ErrMissingReserve = errors.New("missing reserve")

	// ErrVenueNotLoaded means the venue has no state in the engine.
	ErrVenueNotLoaded = errors.New("venue not loaded")

	// ErrAmountTooSmallForVenue means the engine rejected an amount below
	// the venue's minimum size.
	ErrAmountTooSmallForVenue = errors.New("amount too small for venue")

	// ErrChannelClosed means the worker has exited. Fatal to every pending
	// and future caller.
	ErrChannelClosed = errors.New("coordinator channel closed")

	// ErrNotReady means a request arrived before bootstrapping completed.
	ErrNotReady = errors.New("coordinator not ready")

	// ErrVenueConfigConflict means the default venue already exists under a
	// different configuration.
	ErrVenueConfigConflict = errors.New("default venue exists with a different configuration")

	// ErrMintMismatch means the minted coin value differs from the request.
	ErrMintMismatch = errors.New("minted amount does not match request")

	// ErrSelfCheckFailed aborts bootstrapping.
	ErrSelfCheckFailed = errors.New("startup self-check failed")

	// ErrAmountOverflow rejects amounts whose sum does not fit in a u64.
	ErrAmountOverflow = errors.New("amount overflows u64")

	// ErrInvalidConfig rejects a default venue configuration.
	ErrInvalidConfig = errors.New("invalid default venue config")
)

// ExecutionFailedError carries the engine's abort message verbatim.
type ExecutionFailedError struct {
	Message string
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("engine execution failed: %s", e.Message)
}

func (e *ExecutionFailedError) Is(target error) bool { return target == ErrEngineExecutionFailed }

// AmountTooSmallError is the caller-facing form of a minimum size abort.
type AmountTooSmallError struct {
	Venue   string
	Amount  uint64
	Message string
}

func (e *AmountTooSmallError) Error() string {
	return fmt.Sprintf("amount %d is below the minimum size for venue %s", e.Amount, e.Venue)
}

func (e *AmountTooSmallError) Is(target error) bool { return target == ErrAmountTooSmallForVenue }

// abortPattern extracts module name and abort code from a Move abort
// message, e.g.
//
//	MoveAbort(MoveLocation { module: ModuleId { address: .., name: Identifier("pool") }, .. }, 6)
var abortPattern = regexp.MustCompile(`name: Identifier\("([a-z_]+)"\).*\}, (\d+)\)`)

// tooSmallAborts lists abort codes raised for inputs below lot or min size.
var tooSmallAborts = map[string]map[uint64]bool{
	"order_info": {1: true, 2: true},
	"pool":       {6: true},
}

// MoveAbort parses a Move abort message into module and code.
func MoveAbort(msg string) (module string, code uint64, ok bool) {
	m := abortPattern.FindStringSubmatch(msg)
	if m == nil {
		return "", 0, false
	}
	code, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return m[1], code, true
}

// classifyAbort turns a failed program's message into a typed error.
func classifyAbort(venue string, amount uint64, msg string) error {
	if module, code, ok := MoveAbort(msg); ok && tooSmallAborts[module][code] {
		return &AmountTooSmallError{Venue: venue, Amount: amount, Message: msg}
	}
	return &ExecutionFailedError{Message: msg}
}
