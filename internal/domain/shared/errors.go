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

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// Ledger errors mirror the settlement-layer failure taxonomy. Operations on
// the vault ledger fail with exactly one of these; none of them is retryable,
// because the ledger state that produced the failure does not change on retry.
var (
	// ErrVaultNotFound is returned for any vault-scoped operation on a
	// course that has no vault.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrVaultAlreadyExists is returned when creating a vault for a course
	// that already has one. Vault existence is monotonic.
	ErrVaultAlreadyExists = errors.New("vault already exists")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidStudent is returned for the zero/empty student identity.
	ErrInvalidStudent = errors.New("invalid student address")

	// ErrCooldownActive is returned when a student submits again before the
	// per-course cooldown window has elapsed.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrAlreadyPaid is returned when a guide payment already exists for the
	// (course, guide, student) key. At-most-once payment.
	ErrAlreadyPaid = errors.New("guide already paid")

	// ErrInsufficientBalance is returned by administrative withdrawals that
	// exceed the available balance.
	ErrInsufficientBalance = errors.New("insufficient vault balance")
)

// Settlement errors cover the submission/confirmation layer, not the ledger
// state machine itself.
var (
	// ErrSubmissionRejected is returned when the settlement layer rejects a
	// submitted call at the nonce/signature level. A single nonce refresh is
	// attempted by the transaction submitter before this propagates.
	ErrSubmissionRejected = errors.New("submission rejected")

	// ErrConfirmationTimeout signals that the confirmation wait elapsed with
	// the outcome still unknown. It is not a failure: the transaction may
	// still land, and the caller holds its identifier for later queries.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
)

// ErrProfileScoreTooLow is a business-rule skip, not an error in the
// operational sense: the coordinator refuses to spend a settlement call on a
// submission the platform's own rules disqualify.
var ErrProfileScoreTooLow = errors.New("profile score below minimum")

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "vault", "settlement", "migration"
	Op      string // operation that failed, e.g. "SubmitGuideResult"
	Kind    error  // base error type for errors.Is() checking
	Message string // human-readable message
	Err     error  // underlying error (optional)
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

// IsLedgerInvariant reports whether the error is a terminal ledger-invariant
// violation. These are surfaced to the caller verbatim and never retried:
// a second attempt would read the same ledger state and fail the same way.
func IsLedgerInvariant(err error) bool {
	return errors.Is(err, ErrVaultNotFound) ||
		errors.Is(err, ErrVaultAlreadyExists) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidStudent) ||
		errors.Is(err, ErrCooldownActive) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnauthorized)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrVaultNotFound)
}

// IsUnknownOutcome reports whether the error means "the effect may or may not
// have landed". Callers must treat the operation as unconfirmed, not failed.
func IsUnknownOutcome(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout)
}

// IsRetryable checks if the operation can be retried against the settlement
// endpoint. Ledger-invariant violations are deliberately excluded.
func IsRetryable(err error) bool {
	if IsLedgerInvariant(err) {
		return false
	}
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrExternalService)
}
