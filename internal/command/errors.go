package command

import (
	"fmt"
)

// RegistrationReason is the specific kind of command registration failure
type RegistrationReason string

const (
	ReservedID  RegistrationReason = "reserved_id"
	InvalidID   RegistrationReason = "invalid_id"
	DuplicateID RegistrationReason = "duplicate_id"
)

// RegistrationError reports why a command could not be registered
type RegistrationError struct {
	Reason RegistrationReason
	ID     string
}

// Error implements the error interface
func (e *RegistrationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.ID == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: command %q", e.Reason, e.ID)
}

// Is allows errors.Is to compare RegistrationError values by Reason
func (e *RegistrationError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*RegistrationError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for registration failures
var (
	ErrReservedID  = &RegistrationError{Reason: ReservedID}
	ErrInvalidID   = &RegistrationError{Reason: InvalidID}
	ErrDuplicateID = &RegistrationError{Reason: DuplicateID}
)
