// Package kberr defines the error kinds shared across the knowledge-base
// pipeline. Errors carry a kind so callers can branch on the failure class
// with errors.Is without depending on the failing package.
package kberr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindValidation rejects input before any storage is touched.
	KindValidation Kind = iota + 1
	// KindParse marks unreadable or malformed document content.
	KindParse
	// KindConfig marks bad configuration such as invalid chunking parameters.
	KindConfig
	// KindEmbedding marks inference-provider embedding failures.
	KindEmbedding
	// KindStorage marks persistence failures.
	KindStorage
	// KindRetrieval marks similarity-search failures.
	KindRetrieval
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindParse:
		return "parse"
	case KindConfig:
		return "config"
	case KindEmbedding:
		return "embedding"
	case KindStorage:
		return "storage"
	case KindRetrieval:
		return "retrieval"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error. It wraps an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match any error of the same kind, so
// errors.Is(err, kberr.Validation("")) works as a kind check.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && (other.Msg == "" || other.Msg == e.Msg)
}

// New builds a classified error without a cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a classified error around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Validation returns a validation-kind matcher or error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Msg: msg} }

// Parse returns a parse-kind matcher or error.
func Parse(msg string) *Error { return &Error{Kind: KindParse, Msg: msg} }

// Config returns a config-kind matcher or error.
func Config(msg string) *Error { return &Error{Kind: KindConfig, Msg: msg} }

// Embedding returns an embedding-kind matcher or error.
func Embedding(msg string) *Error { return &Error{Kind: KindEmbedding, Msg: msg} }

// Storage returns a storage-kind matcher or error.
func Storage(msg string) *Error { return &Error{Kind: KindStorage, Msg: msg} }

// Retrieval returns a retrieval-kind matcher or error.
func Retrieval(msg string) *Error { return &Error{Kind: KindRetrieval, Msg: msg} }

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
