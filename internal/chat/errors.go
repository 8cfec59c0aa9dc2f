package chat

import (
	"context"
	"errors"
)

// Kind classifies an operation failure.
type Kind string

const (
	KindMissingFields Kind = "missing_fields"
	KindAccessDenied  Kind = "access_denied"
	KindInternal      Kind = "internal"
	KindTimeout       Kind = "timeout"
)

var (
	ErrMissingFields = errors.New("missing required fields")
	ErrAccessDenied  = errors.New("access denied")
	ErrInternal      = errors.New("internal error")
	ErrTimeout       = errors.New("request timed out")
)

// OpError is returned by every chat operation. Its message is safe to send to
// the client; Err holds the cause for logging only.
type OpError struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + string(e.Kind) + ": " + e.Err.Error()
	}
	return e.Op + ": " + string(e.Kind)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error kind.
func (e *OpError) Is(target error) bool {
	return target == e.sentinel()
}

// Message is the text sent to the client in an error frame.
func (e *OpError) Message() string {
	return e.sentinel().Error()
}

func (e *OpError) sentinel() error {
	switch e.Kind {
	case KindMissingFields:
		return ErrMissingFields
	case KindAccessDenied:
		return ErrAccessDenied
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrInternal
	}
}

// ClientMessage returns the client-safe text for any error.
func ClientMessage(err error) string {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Message()
	}
	return ErrInternal.Error()
}

// storeFailure maps a persistence error to Timeout or Internal.
func storeFailure(op string, err error) *OpError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &OpError{Op: op, Kind: KindTimeout, Err: err}
	}
	return &OpError{Op: op, Kind: KindInternal, Err: err}
}
