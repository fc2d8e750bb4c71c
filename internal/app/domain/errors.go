// Package domain defines the error kinds shared by platform services.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a platform error by the stage that produced it.
type Kind string

const (
	KindIngestion  Kind = "ingestion"
	KindValidation Kind = "validation"
	KindVersioning Kind = "versioning"
	KindLedger     Kind = "ledger"
	KindPipeline   Kind = "pipeline"
	KindAuth       Kind = "auth"
)

// Error is a platform error with a stage kind. The API layer maps kinds
// and NotFound to HTTP status codes.
type Error struct {
	Kind     Kind
	Message  string
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a platform error for a stage.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a platform error wrapping a cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NotFoundError builds a platform error for a missing file or resource.
func NotFoundError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, NotFound: true}
}

// AsError returns the platform error in err's chain, or nil.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}

// IsNotFound reports whether err is a platform not-found error.
func IsNotFound(err error) bool {
	pe := AsError(err)
	return pe != nil && pe.NotFound
}
