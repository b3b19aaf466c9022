// Package engineerr declares the abstract error taxonomy of spec.md §7 as a
// small set of sentinel kinds plus one concrete wrapping type, the way the
// teacher's auth/errors.go declares a flat set of sentinel values rather
// than a hierarchy of typed exceptions. Callers classify an error by
// comparing its Kind field (via errors.Is against the Kind sentinels below)
// rather than by type-asserting a concrete struct.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error kinds from spec.md §7's taxonomy table.
type Kind string

const (
	TemplateUnmapped     Kind = "template_unmapped"
	TemplateCircular     Kind = "template_circular"
	BadDate              Kind = "bad_date"
	DuplicateKeyDivergent Kind = "duplicate_key_divergent"
	GraphCycle           Kind = "graph_cycle"
	PreconditionFailed   Kind = "precondition_failed"
	WarehouseTransient   Kind = "warehouse_transient"
	WarehouseFatal       Kind = "warehouse_fatal"
	RetriesExhausted     Kind = "retries_exhausted"
)

// Retryable reports whether an error of this kind should consume a retry
// budget slot rather than abort the run outright, per spec.md §7's policy
// column.
func (k Kind) Retryable() bool {
	return k == PreconditionFailed || k == WarehouseTransient
}

// Fatal reports whether an error of this kind must abort the whole run.
func (k Kind) Fatal() bool {
	switch k {
	case TemplateUnmapped, TemplateCircular, BadDate, DuplicateKeyDivergent,
		GraphCycle, WarehouseFatal, RetriesExhausted:
		return true
	}
	return false
}

// Error is the one concrete error type the engine raises; every fatal or
// retryable condition in spec.md §7 is represented as an *Error with the
// appropriate Kind, rather than as a distinct Go type per kind.
type Error struct {
	Kind    Kind
	Message string
	Key     string // the offending resource or binding key, when known
	Cause   error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, SomeKindSentinel)-style checks by comparing Kind
// against another *Error's Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, key, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, key string, cause error) *Error {
	return &Error{Kind: kind, Key: key, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, reporting
// ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
