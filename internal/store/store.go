// Package store is the document store the ledger and the identity gate write to.
// Documents are JSON trees addressed by slash separated paths. The first two
// segments of a path name its root document ("users/{id}") and every write is a
// read-modify-write of that root guarded by an optimistic version.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

var (
	// ErrNotFound is returned by Get when nothing is stored at a path.
	ErrNotFound = errors.New("document not found")
	// ErrNotCommitted is returned when a transaction was aborted or lost
	// too many races against concurrent writers.
	ErrNotCommitted = errors.New("transaction not committed")
	// ErrInvalidPath is returned for paths that don't address a root document.
	ErrInvalidPath = errors.New("invalid document path")
	// ErrInvalidValue is returned when a value can't be stored at a path.
	ErrInvalidValue = errors.New("invalid document value")
)

// TransactionFunc receives the value currently stored at a path (nil when
// absent) and returns the value to store. Returning false aborts the
// transaction. The function may run more than once under contention.
type TransactionFunc func(current any) (next any, ok bool)

// Store is the document store contract used across the application.
type Store interface {
	// Get returns the value stored at path or ErrNotFound.
	Get(ctx context.Context, path string) (any, error)
	// Set replaces the value at path. A nil value deletes it.
	Set(ctx context.Context, path string, val any) error
	// Update applies several writes relative to path at once. Keys may
	// contain slashes, nil values delete.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Transaction atomically replaces the value at path with the result of fn.
	Transaction(ctx context.Context, path string, fn TransactionFunc) (any, error)
}

// Int converts a stored number to int64. Values round tripped through JSON
// come back as float64.
func Int(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case int32:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
