package transport

import (
	"errors"
	"time"
)

// ErrorKind tells the delivery engine whether a failed attempt may be retried.
type ErrorKind int

const (
	// Transient failures may succeed on a later attempt (network faults,
	// timeouts, rate limiting, temporary server errors).
	Transient ErrorKind = iota + 1
	// Permanent failures will not succeed on retry (unknown chat, sender
	// blocked or removed by the destination).
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unclassified"
	}
}

// DeliveryError is a classified send failure.
type DeliveryError struct {
	Kind   ErrorKind
	Reason string
	// RetryAfter is an optional server-provided hint for the next attempt.
	RetryAfter time.Duration
	Err        error
}

func (e *DeliveryError) Error() string {
	msg := e.Kind.String() + " delivery error"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable failure.
func NewTransient(err error, reason string) error {
	return &DeliveryError{Kind: Transient, Reason: reason, Err: err}
}

// NewPermanent wraps err as a terminal failure.
func NewPermanent(err error, reason string) error {
	return &DeliveryError{Kind: Permanent, Reason: reason, Err: err}
}

// WithRetryAfter wraps err as a transient failure carrying a retry hint.
func WithRetryAfter(err error, reason string, after time.Duration) error {
	return &DeliveryError{Kind: Transient, Reason: reason, RetryAfter: after, Err: err}
}

// Class is the coarse outcome category of a failed attempt.
type Class string

const (
	ClassNone         Class = ""
	ClassTransient    Class = "transient"
	ClassPermanent    Class = "permanent"
	ClassUnclassified Class = "unclassified"
)

// Classify inspects err (following wrap chains) and reports its class.
// A nil error yields ClassNone. The returned *DeliveryError is nil for
// unclassified errors.
func Classify(err error) (Class, *DeliveryError) {
	if err == nil {
		return ClassNone, nil
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de == nil {
		return ClassUnclassified, nil
	}
	switch de.Kind {
	case Transient:
		return ClassTransient, de
	case Permanent:
		return ClassPermanent, de
	default:
		return ClassUnclassified, de
	}
}
