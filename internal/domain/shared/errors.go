// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Engine taxonomy
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrPersistence   = errors.New("persistence error")
	ErrPartialReward = errors.New("partial reward")

	// Validation details
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progression", "voice", "economy"
	Op      string // Operation that failed, e.g., "Award", "ClaimDaily"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Persistence wraps a store failure. Already-classified errors pass through
// untouched so a validation error raised inside a transaction keeps its kind.
func Persistence(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err
	}
	return WrapError(domain, op, ErrPersistence, "store operation failed", err)
}

// Validation builds a validation error for a rejected input.
func Validation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// Progression domain errors
var (
	ErrProgressionNotFound = NewDomainError("progression", "Get", ErrNotFound, "progression record not found")
	ErrNegativeXPGrant     = NewDomainError("progression", "GrantXP", ErrNegativeValue, "xp amount must be positive")
	ErrNegativeXPSet       = NewDomainError("progression", "SetXP", ErrNegativeValue, "xp total cannot be negative")
	ErrXPOverflow          = NewDomainError("progression", "CreditXP", ErrValueOutOfRange, "xp credit overflows the counter")
	ErrLevelCeiling        = NewDomainError("progression", "CreditXP", ErrValueOutOfRange, "xp credit passes the maximum level")
)

// Voice domain errors
var (
	ErrNoOpenSession       = NewDomainError("voice", "EndSession", ErrNotFound, "no open voice session")
	ErrSessionAlreadyEnded = NewDomainError("voice", "Close", ErrInvalidState, "session already ended")
)

// Achievement domain errors
var (
	ErrAlreadyUnlocked = NewDomainError("achievement", "Unlock", ErrAlreadyExists, "achievement already unlocked")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsConfiguration checks if the error came from a bad or missing guild configuration.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsPersistence checks if the error came from the ledger store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsPartialReward checks if some reward items could not be granted.
func IsPartialReward(err error) bool {
	return errors.Is(err, ErrPartialReward)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return IsPersistence(err) && !IsValidation(err)
}
