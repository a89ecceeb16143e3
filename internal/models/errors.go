package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a template, its sections or a file record
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotReady is returned when a file record has no stored artifact yet.
var ErrNotReady = errors.New("file has no stored artifact")

// ValidationError carries data-driven failures that must never be retried.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// StorageError is a render, upload or local cleanup failure. It is transient
// and eligible for retry at the record level.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TransportError is a broker failure: publish not acknowledged, subscription
// unavailable.
type TransportError struct {
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is, or wraps, a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
