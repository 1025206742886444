package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable failure code surfaced to
// callers.
type ErrorKind string

const (
	ErrValidation      ErrorKind = "validation"
	ErrModelNotFound   ErrorKind = "model_not_found"
	ErrNoModels        ErrorKind = "no_models_available"
	ErrProvider        ErrorKind = "provider"
	ErrEmbedding       ErrorKind = "embedding"
	ErrSimilarityStore ErrorKind = "similarity_store"
	ErrBatching        ErrorKind = "batching"
	ErrConfiguration   ErrorKind = "configuration"
	ErrObservability   ErrorKind = "observability"
)

// Error is the structured error returned across component boundaries.
// Kind is part of the wire contract; Message is for humans.
type Error struct {
	Kind      ErrorKind
	Message   string
	Field     string // populated for validation errors
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a domain error of the given kind.
func E(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a cause to a domain error of the given kind.
func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Validation builds a validation error naming the offending field.
func Validation(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Message: msg, Field: field}
}

// KindOf extracts the kind from any error in the chain, defaulting to
// ErrProvider for unclassified failures.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrProvider
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
