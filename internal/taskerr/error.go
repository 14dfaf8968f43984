package taskerr

import (
	"errors"
	"fmt"
)

// Error is the normalized failure carried across engine, pipeline and task
// boundaries. Raw transport errors never cross into a task record; they are
// wrapped into one of these first.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`

	cause error
}

// New creates an Error with the catalog message for code.
func New(code Code) *Error {
	return &Error{Code: code, Message: Message(code)}
}

// Newf creates an Error with a custom message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps err as the cause and records its text
// in the details field.
func Wrap(code Code, err error) *Error {
	e := New(code)
	e.cause = err
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// WithDetails sets the details field and returns the error for chaining.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// From extracts a *Error from err, or normalizes err to fallback.
func From(err error, fallback Code) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Wrap(fallback, err)
}
