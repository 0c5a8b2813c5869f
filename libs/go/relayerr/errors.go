// Package relayerr defines the categorized errors returned at the relay
// invocation boundary.
package relayerr

import (
	"errors"
	"fmt"
)

// Category tags an error with the caller-facing class of failure.
type Category string

const (
	// CategoryValidation means the input is malformed: fix it and resubmit.
	CategoryValidation Category = "validation"
	// CategoryAuthorization means the signature or time window does not authorize the action.
	CategoryAuthorization Category = "authorization"
	// CategoryNetwork covers quorum reads and RPC failures: try again later.
	CategoryNetwork Category = "network"
	// CategorySigning means the signing network refused or returned an unusable signature.
	CategorySigning Category = "signing"
	// CategoryBroadcastTransient means submission failed in transport and may be retried.
	CategoryBroadcastTransient Category = "broadcast_transient"
	// CategoryBroadcastRejected means the chain rejected this exact transaction.
	CategoryBroadcastRejected Category = "broadcast_rejected"
	// CategoryInternal is anything that escaped classification, including recovered panics.
	CategoryInternal Category = "internal"
)

// Error is a categorized relay failure. Message is safe to show to callers;
// Err carries the underlying cause for logs only.
type Error struct {
	Category Category
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Category {
	case CategoryNetwork, CategoryBroadcastTransient:
		return true
	default:
		return false
	}
}

// New creates an error without an underlying cause.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// Wrap attaches a category and public message to an underlying cause.
func Wrap(category Category, code, message string, err error) *Error {
	return &Error{Category: category, Code: code, Message: message, Err: err}
}

// Validation builds an input validation error.
func Validation(code, format string, args ...interface{}) *Error {
	return New(CategoryValidation, code, fmt.Sprintf(format, args...))
}

// Authorization builds an authorization error.
func Authorization(code, message string) *Error {
	return New(CategoryAuthorization, code, message)
}

// Network wraps a failed external read.
func Network(code, message string, err error) *Error {
	return Wrap(CategoryNetwork, code, message, err)
}

// Signing wraps a signing network or normalization failure.
func Signing(code, message string, err error) *Error {
	return Wrap(CategorySigning, code, message, err)
}

// From returns the categorized error in err's chain, or wraps err as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return Wrap(CategoryInternal, "internal", "internal relay error", err)
}

// CategoryOf returns the category of err, or CategoryInternal when uncategorized.
func CategoryOf(err error) Category {
	if re := From(err); re != nil {
		return re.Category
	}
	return ""
}

// Is reports whether err carries the given category.
func Is(err error, category Category) bool {
	var re *Error
	return errors.As(err, &re) && re.Category == category
}
