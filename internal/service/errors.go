package service

import (
	"errors"
	"fmt"
)

// Kind classifies service failures for callers and metrics.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindUpstreamFailure     Kind = "upstream_failure"
	KindOptimizationFailure Kind = "optimization_failure"
)

// Sentinels matched by errors.Is against any *Error of the same Kind.
var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUpstreamFailure     = errors.New("upstream failure")
	ErrOptimizationFailure = errors.New("optimization failure")
)

// Error is returned by every AnalysisService operation.
type Error struct {
	Kind        Kind
	Destination string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Destination != "" {
		msg = fmt.Sprintf("%s: destination %q: %s", e.Kind, e.Destination, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindInvalidRequest:
		return target == ErrInvalidRequest
	case KindUpstreamFailure:
		return target == ErrUpstreamFailure
	case KindOptimizationFailure:
		return target == ErrOptimizationFailure
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind Kind, destination, message string, err error) *Error {
	return &Error{Kind: kind, Destination: destination, Message: message, Err: err}
}
