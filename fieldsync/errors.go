// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the Store.
var (
	// ErrSnapshotNotFound means no snapshot has ever been saved for the
	// collection. Callers must treat this as "nothing cached yet", which is
	// distinct from a cached empty list.
	ErrSnapshotNotFound = errors.New("fieldsync: snapshot not found")

	// ErrOperationNotFound means the queued operation id does not exist
	// (already drained, abandoned, or never enqueued).
	ErrOperationNotFound = errors.New("fieldsync: queued operation not found")

	// ErrStorageUnavailable means the local database cannot be opened or
	// pinged at all. Reads fail hard on this rather than degrading to a
	// permanent cache-miss, so a configuration problem is not masked as a
	// data problem.
	ErrStorageUnavailable = errors.New("fieldsync: local storage unavailable")
)

// StorageError wraps a failure inside the local store (quota, locked file,
// driver error). It is propagated to the caller and never retried by the
// store itself.
type StorageError struct {
	Op  string // store operation that failed, e.g. "save_snapshot"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("fieldsync: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// NetworkError is a transient, network-class failure: the request could not
// reach or complete against the server (dial failure, timeout, connection
// reset). Queued writes hit by a NetworkError are retried indefinitely;
// reads fall back to the cached snapshot.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fieldsync: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ApplicationError is a terminal failure: the request reached the server and
// was rejected (validation, conflict, auth). It is never retried; queued
// writes are abandoned and the error surfaced, reads propagate it without
// cache fallback.
type ApplicationError struct {
	StatusCode int
	Code       string // machine-readable code from the response body, if any
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fieldsync: server rejected request: status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fieldsync: server rejected request: status %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether the server rejected the request because the
// resource is already held by someone else (assignment already claimed).
func (e *ApplicationError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsNetworkError reports whether err is (or wraps) a transient network-class
// failure.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsApplicationError reports whether err is (or wraps) a terminal
// server-side rejection.
func IsApplicationError(err error) bool {
	var ae *ApplicationError
	return errors.As(err, &ae)
}

// statusIsNetworkClass reports whether an HTTP status means the request never
// really reached the application (proxy timeouts and bad gateways). Those are
// retried like transport failures instead of being treated as rejections.
func statusIsNetworkClass(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
