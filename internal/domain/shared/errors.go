// Package shared contains the error taxonomy and event contracts used across
// the academic and achievement domains.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Callers classify with errors.Is or the Is* helpers below, never by
// message.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError carries where a failure happened and its kind.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	s := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	return s
}

// Unwrap returns the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches both the kind and the cause chain.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

func newError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError attaches domain context and a kind to err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

var (
	ErrUserIDRequired     = newError("academic", "Validate", ErrInvalidID, "user ID is required")
	ErrSubjectNotFound    = newError("academic", "FindSubject", ErrNotFound, "subject not found")
	ErrEnrollmentNotFound = newError("academic", "FindEnrollment", ErrNotFound, "enrollment not found")
	ErrInvalidGradeValue  = newError("academic", "Validate", ErrValueOutOfRange, "grade must be -1 (pending) or between 0 and 10")
	ErrInvalidEnrollment  = newError("academic", "Validate", ErrInvalidInput, "invalid enrollment")
)

var (
	ErrAchievementNotFound   = newError("achievement", "Find", ErrNotFound, "achievement not found")
	ErrAchievementIDRequired = newError("achievement", "Validate", ErrInvalidID, "achievement ID is required")
	ErrDuplicateAchievement  = newError("achievement", "LoadCatalog", ErrAlreadyExists, "duplicate achievement ID in catalog")
	ErrUnknownCategory       = newError("achievement", "LoadCatalog", ErrInvalidInput, "unknown achievement category")
	ErrCatalogEmpty          = newError("achievement", "LoadCatalog", ErrEmptyValue, "achievement catalog is empty")
)

var (
	ErrUnlockNotFound  = newError("unlock", "Find", ErrNotFound, "unlock not found")
	ErrAlreadyUnlocked = newError("unlock", "Insert", ErrAlreadyExists, "achievement already unlocked for user")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsValidation reports bad input, as opposed to a missing entity or a
// failing dependency.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrInvalidID, ErrInvalidInput, ErrEmptyValue, ErrNegativeValue, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsRetryable reports failures of a dependency that may clear up.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTimeout)
}
