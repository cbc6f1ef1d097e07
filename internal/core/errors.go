package core

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these.
var (
	ErrValidation         = errors.New("validation failed")
	ErrStore              = errors.New("store failure")
	ErrNotFound           = errors.New("record not found")
	ErrStoreUnavailable   = errors.New("store not configured")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

var (
	ErrInvalidAmount        = NewValidationError("amount", "must be a positive amount")
	ErrEmptyName            = NewValidationError("name", "cannot be empty")
	ErrNameTooLong          = NewValidationError("name", fmt.Sprintf("cannot exceed %d characters", MaxNameLength))
	ErrInvalidDate          = NewValidationError("renewal_date", "must be a valid YYYY-MM-DD date")
	ErrInvalidBillingPeriod = NewValidationError("billing_period", "must be one of monthly, yearly, custom")
	ErrMissingCustomDays    = NewValidationError("custom_period_days", "required for custom billing period")
	ErrInvalidCustomDays    = NewValidationError("custom_period_days", "must be greater than zero")
	ErrInvalidReminder      = NewValidationError("reminder_days_before", "cannot be negative")
	ErrEmptyPatch           = NewValidationError("", "no fields to update")
)

// ValidationError reports input rejected before reaching the store.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps a persistence failure reported by a backing store.
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// AsValidation extracts the failing field and reason, if any.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
