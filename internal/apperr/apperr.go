// Package apperr carries the gateway's error taxonomy. Every failure that
// crosses a component boundary is an *Error with a machine-readable Kind and
// a human-readable message; the wrapped cause stays reachable via errors.As
// and errors.Is.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	// Provisioning means identity funding failed. Fatal to the triggering
	// request only.
	Provisioning Kind = "provisioning"
	// Network means transport failure or timeout talking to the ledger or
	// the faucet. Retryable by the caller.
	Network Kind = "network"
	// Submission means the ledger was reachable but rejected the
	// transaction or reported a non-success terminal status.
	Submission Kind = "submission"
	// Decode means an annotation was absent, foreign or malformed.
	Decode Kind = "decode"
	// Payment means a value transfer had an invalid amount or the payer
	// could not cover it.
	Payment Kind = "payment"
	// Invalid means the caller supplied a malformed request.
	Invalid Kind = "invalid"
	// NotFound means the requested ledger object does not exist.
	NotFound Kind = "not_found"
	// Internal is everything else.
	Internal Kind = "internal"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone: errors.Is(err, &Error{Kind: Network}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// New builds a classified error with no cause.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil. Context cancellation and
// deadline errors are always reported as Network, since they only stop the
// caller from waiting on the ledger.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = Network
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network
	}
	return Internal
}

// HTTPStatus maps a kind to the status code the HTTP binding reports.
func HTTPStatus(k Kind) int {
	switch k {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Payment:
		return http.StatusPaymentRequired
	case Submission:
		return http.StatusUnprocessableEntity
	case Provisioning:
		return http.StatusServiceUnavailable
	case Network:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
