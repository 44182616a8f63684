package export

import (
	"errors"
	"fmt"
)

// StageError is the tagged failure returned by parse, render, convert and
// the dispatch helpers around them.
type StageError struct {
	Code Code
	Msg  string
	Err  error
}

// Fail builds a StageError with a formatted message.
func Fail(code Code, format string, args ...any) *StageError {
	return &StageError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a StageError around a cause, keeping the code's default message.
func Wrap(code Code, err error) *StageError {
	return &StageError{Code: code, Err: err}
}

// Error implements error.
func (e *StageError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = StatusText(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, msg)
}

// Unwrap exposes the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// CodeOf returns the StageError code carried by err, or fallback.
func CodeOf(err error, fallback Code) Code {
	var se *StageError
	if errors.As(err, &se) && se.Code != 0 {
		return se.Code
	}
	return fallback
}

// MessageOf returns the explicit message carried by err, if any.
func MessageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Msg
	}
	return ""
}
