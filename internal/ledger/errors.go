package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the engine
var (
	// ErrValidation marks a missing or invalid symbol or amount
	ErrValidation = errors.New("validation failed")
	// ErrInsufficient marks funds or holdings that cannot cover a request
	ErrInsufficient = errors.New("insufficient resources")
	// ErrExchange marks a network, auth or exchange-side rejection
	ErrExchange = errors.New("exchange request failed")
	// ErrNotFound is returned for an unknown position
	ErrNotFound = errors.New("position not found")
)

// ValidationError names the offending field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
