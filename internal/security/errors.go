package security

import (
	"fmt"
)

// ListenerReason is the specific kind of listener/mode mismatch
type ListenerReason string

const (
	MissingPassKeyListener ListenerReason = "missing_pass_key_listener"
	ListenerNotAllowed     ListenerReason = "listener_not_allowed"
)

// ListenerError is a configuration error: the registered security listeners do not fit the mode
type ListenerError struct {
	Reason   ListenerReason
	Mode     Mode
	Listener string
}

// Error implements the error interface
func (e *ListenerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Reason {
	case MissingPassKeyListener:
		return fmt.Sprintf("%s: security mode %s needs an on_show_pass_key listener to display the pass key", e.Reason, e.Mode)
	case ListenerNotAllowed:
		return fmt.Sprintf("%s: %s listener is not allowed with security mode %s", e.Reason, e.Listener, e.Mode)
	default:
		return string(e.Reason)
	}
}

// Is allows errors.Is to compare ListenerError values by Reason
func (e *ListenerError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ListenerError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Predefined sentinel errors for listener validation
var (
	ErrMissingPassKeyListener = &ListenerError{Reason: MissingPassKeyListener}
	ErrListenerNotAllowed     = &ListenerError{Reason: ListenerNotAllowed}
)
