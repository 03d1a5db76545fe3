package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindNotFound               Kind = "not_found"
	KindMalformedModelResponse Kind = "malformed_model_response"
	KindInsufficientInventory  Kind = "insufficient_inventory"
	KindStoreUnavailable       Kind = "store_unavailable"
	KindTimeout                Kind = "timeout"
	KindInvalidRequest         Kind = "invalid_request"
	KindUpstreamUnavailable    Kind = "upstream_unavailable"
)

// Error carries a stable kind, the failing operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an *Error of the given kind.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// InsufficientInventoryError is returned when a random sample asks for more
// articles than the store holds.
type InsufficientInventoryError struct {
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("requested %d articles, only %d available", e.Requested, e.Available)
}

// Wrap attaches kind to err unless err already carries one, in which case
// only the operation is prefixed. An expired context deadline becomes
// KindTimeout and a cancelled context is only prefixed.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return E(KindTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	}
	return E(kind, op, err)
}
