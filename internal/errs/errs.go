package errs

import (
	"errors"
	"fmt"
)

// Wrap adds context and keeps the chain intact for errors.Is/As.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// ConnectionError means the mailbox is not connected or its authorization
// expired. Callers should offer a reconnect instead of a retry.
type ConnectionError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ConnectionError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "mailbox not connected"
	}
	msg := fmt.Sprintf("%s: %s. Please reconnect.", e.Provider, reason)
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type ScanError struct {
	Provider string
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s scan failed: %v", e.Provider, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsScan(err error) bool {
	var se *ScanError
	return errors.As(err, &se)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
