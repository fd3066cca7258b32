package gatt

import (
	"fmt"
)

// BindReason is the specific kind of binding failure
type BindReason string

const (
	InvalidUUID      BindReason = "invalid_uuid"
	DuplicateBinding BindReason = "duplicate_binding"
	LateBinding      BindReason = "late_binding"
)

// BindError reports why an entity could not be bound to a characteristic
type BindError struct {
	Reason         BindReason
	Service        string
	Characteristic string
	Detail         string
	Err            error
}

// Error implements the error interface
func (e *BindError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Reason)
	switch {
	case e.Service != "" || e.Characteristic != "":
		msg = fmt.Sprintf("%s: service %q characteristic %q", e.Reason, e.Service, e.Characteristic)
	case e.Detail != "":
		msg = fmt.Sprintf("%s: %q", e.Reason, e.Detail)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying parse error, if any
func (e *BindError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare BindError values by Reason
func (e *BindError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*BindError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for binding failures
var (
	ErrInvalidUUID      = &BindError{Reason: InvalidUUID}
	ErrDuplicateBinding = &BindError{Reason: DuplicateBinding}
	ErrLateBinding      = &BindError{Reason: LateBinding}
)
