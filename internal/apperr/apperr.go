// Package apperr defines the user-visible error taxonomy. Internal errors
// are mapped onto a Kind and a stable message so vendor strings never leak.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable, user-visible error class.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"
)

var messages = map[Kind]string{
	KindInvalidInput:        "the request is invalid",
	KindNotFound:            "the requested item was not found",
	KindForbidden:           "access to the requested item is not allowed",
	KindUpstreamUnavailable: "a dependent service is temporarily unavailable",
	KindInternal:            "an internal error occurred",
}

// Error carries a Kind, the failing operation and the cause.
type Error struct {
	Kind Kind
	Op   string
	// Msg is an optional user-safe detail.
	Msg string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds an *Error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid returns an invalid_input error with a user-safe message.
func Invalid(op, msg string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Msg: msg}
}

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamUnavailable
	}
	return KindInternal
}

// Public is the user-facing view of an error.
type Public struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ToPublic returns the stable kind and message for err.
func ToPublic(err error) Public {
	kind := KindOf(err)
	msg := messages[kind]
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		msg = e.Msg
	}
	return Public{Kind: kind, Message: msg}
}

// Retryable reports whether err is a transient upstream or store failure.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindUpstreamUnavailable
}
