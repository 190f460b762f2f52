package actions

import (
	"errors"
	"fmt"

	"notifyd/internal/notify"
)

// ErrValidation is matched (errors.Is) by every payload validation failure.
var ErrValidation = errors.New("action validation failed")

// ValidationError reports a missing, malformed or dangling payload field.
type ValidationError struct {
	Action string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "invalid " + e.Action
	if e.Field != "" {
		msg += " " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(a notify.Action, field, reason string) error {
	return &ValidationError{Action: a.Identifier(), Field: field, Reason: reason}
}

func invalidf(a notify.Action, field string, err error, format string, args ...any) error {
	return &ValidationError{Action: a.Identifier(), Field: field, Reason: fmt.Sprintf(format, args...), Err: err}
}
