package session

import (
	"context"
	"errors"
	"fmt"
)

// deviceError marks microphone failures. Fatal to session start, never
// retried.
type deviceError struct {
	err error
}

func (e deviceError) Error() string {
	return fmt.Sprintf("audio device error: %v", e.err)
}

func (e deviceError) Unwrap() error {
	return e.err
}

// protocolError carries a backend-sent error message verbatim. Fatal for the
// current session.
type protocolError struct {
	message string
}

func (e protocolError) Error() string {
	return fmt.Sprintf("backend error: %s", e.message)
}

// transportError marks connect failures and abnormal channel loss.
// Recoverable within the retry budget.
type transportError struct {
	err error
}

func (e transportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.err)
}

func (e transportError) Unwrap() error {
	return e.err
}

// errSessionStopped marks a stop request arriving while a connect or
// reconnect was in flight. It aborts the attempt without counting as a
// session failure.
var errSessionStopped = errors.New("session stopped")

// retryable reports whether the reconnection path may absorb err.
func retryable(err error) bool {
	var dev deviceError
	var proto protocolError
	if errors.As(err, &dev) || errors.As(err, &proto) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
