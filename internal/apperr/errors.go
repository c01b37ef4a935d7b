// Time Capsule - Point-in-time Backup and Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timecapsule

// Package apperr defines the closed set of error kinds returned by the
// backup, restore, snapshot and recovery operations.
//
// Every error that crosses a package boundary is either an *Error or wraps
// one, so callers can branch on the kind with errors.As or KindOf:
//
//	if apperr.IsKind(err, apperr.KindNotFound) {
//	    respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
//	}
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindNotFound means the referenced backup, restore, snapshot or plan does not exist.
	KindNotFound Kind = "not_found"

	// KindValidation means the request is malformed or the target is in the wrong state.
	KindValidation Kind = "validation"

	// KindIntegrity means a checksum or archive check failed.
	KindIntegrity Kind = "integrity"

	// KindIOFailure means a filesystem, archive or catalog operation failed.
	KindIOFailure Kind = "io_failure"

	// KindPartialFailure means a multi-step operation failed after earlier steps committed.
	KindPartialFailure Kind = "partial_failure"
)

// ErrNoSuitableBackup is returned by the recovery planner when no verified
// backup exists at or before the requested target time.
var ErrNoSuitableBackup = &Error{
	Kind: KindValidation,
	Msg:  "no suitable backup found for the target timestamp",
}

// Error is the error type shared by all time capsule components.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind and message, so errors.Is(err,
// ErrNoSuitableBackup) holds for a wrapped copy carrying a different Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg && t.Err == nil
}

// NotFound builds a KindNotFound error for the named resource.
func NotFound(op, resource, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf("%s %q not found", resource, id)}
}

// Validation builds a KindValidation error.
func Validation(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Integrity builds a KindIntegrity error.
func Integrity(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// IO wraps err as a KindIOFailure error.
func IO(op string, err error) *Error {
	return &Error{Kind: KindIOFailure, Op: op, Msg: "i/o failure", Err: err}
}

// Partial wraps err as a KindPartialFailure error noting how far the operation got.
func Partial(op string, completed, total int, err error) *Error {
	return &Error{
		Kind: KindPartialFailure,
		Op:   op,
		Msg:  fmt.Sprintf("failed after %d of %d steps", completed, total),
		Err:  err,
	}
}

// NoSuitableBackup returns ErrNoSuitableBackup tagged with the operation.
func NoSuitableBackup(op string) *Error {
	return &Error{Kind: ErrNoSuitableBackup.Kind, Op: op, Msg: ErrNoSuitableBackup.Msg}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors that carry no kind are reported as KindIOFailure.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIOFailure
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
