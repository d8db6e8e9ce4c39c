package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the service layer.
type ErrorKind string

// Error kinds. Every error returned by a service operation maps to exactly one.
const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindPermission ErrorKind = "permission"
	KindConflict   ErrorKind = "conflict"
	KindStorage    ErrorKind = "storage"
)

// ValidationError reports a request that would break a graph invariant or is
// malformed. It is never retried.
type ValidationError struct {
	Message    string
	Violations []Violation
}

func (e ValidationError) Error() string {
	if e.Message != "" {
		return "validation failed: " + e.Message
	}
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// HasRule reports whether any violation was raised by the named rule.
func (e ValidationError) HasRule(rule string) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PermissionError is returned when the caller is not allowed to perform Action on TreeID.
type PermissionError struct {
	CallerID string
	TreeID   string
	Action   string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("caller %s may not %s in tree %s", e.CallerID, e.Action, e.TreeID)
}

// ConflictError is returned when a record changed underneath a transaction.
type ConflictError struct {
	Entity EntityType
	ID     string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Entity, e.ID)
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	if e.Err == nil {
		return "storage failure: " + e.Op
	}
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

// KindOf classifies err. Unknown errors, including context cancellation, are
// reported as storage failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		validation ValidationError
		rule       RuleViolationError
		notFound   NotFoundError
		permission PermissionError
		conflict   ConflictError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &rule):
		return KindValidation
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &permission):
		return KindPermission
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindStorage
	}
}

// IsRetryable reports whether an operation failing with err may succeed when
// re-run from a fresh snapshot.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return KindOf(err) == KindConflict
}
