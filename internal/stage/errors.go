package stage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a stage failure for the pipeline runner.
type ErrorKind string

const (
	// KindTransient failures are safe to retry within the same stage call.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures mean the input is unusable.
	KindPermanent ErrorKind = "permanent"
	// KindAuth failures mean the collaborator rejected our credentials.
	KindAuth ErrorKind = "auth"
)

// Error is the normalized failure shape every adapter resolves to.
// The runner never inspects collaborator payloads, only this.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable stage failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// Permanent wraps err as an unretryable stage failure.
func Permanent(msg string, err error) *Error {
	return &Error{Kind: KindPermanent, Message: msg, Err: err}
}

// Auth wraps err as a credential failure.
func Auth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

// KindOf extracts the error kind, defaulting to transient for plain
// errors (network failures, timeouts) so unknown conditions stay retryable.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// classifyStatus maps an HTTP status from a collaborator to an error kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests || code >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// fromHTTP builds a stage error out of a collaborator HTTP failure.
func fromHTTP(op string, code int, body string) *Error {
	msg := fmt.Sprintf("%s: status %d: %s", op, code, body)
	return &Error{Kind: classifyStatus(code), Message: msg}
}

// retry runs fn up to attempts times, retrying only transient failures.
// Backoff grows quadratically between attempts.
func retry(ctx context.Context, attempts int, backoff func(attempt int), fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if KindOf(err) != KindTransient || attempt == attempts {
			return err
		}
		if backoff != nil {
			backoff(attempt)
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
