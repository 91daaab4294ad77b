package safety

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"

	"filesafe/internal/model"
)

// Code classifies safety-core errors so callers can pattern-match without
// string inspection.
type Code string

const (
	CodeValidationFailed   Code = "VALIDATION_FAILED"
	CodeBackupFailed       Code = "BACKUP_FAILED"
	CodeOperationFailed    Code = "OPERATION_FAILED"
	CodeRollbackFailed     Code = "ROLLBACK_FAILED"
	CodeCorruptionDetected Code = "CORRUPTION_DETECTED"
	CodeConflictDetected   Code = "CONFLICT_DETECTED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeInsufficientSpace  Code = "INSUFFICIENT_SPACE"
	CodeTransactionFailed  Code = "TRANSACTION_FAILED"
	CodeChecksumMismatch   Code = "CHECKSUM_MISMATCH"
)

// Error is the typed error raised by the validator, journal, monitor and
// transaction manager. It carries the triggering operation and/or transaction
// alongside free-form context and an optional wrapped cause.
type Error struct {
	Code          Code
	Operation     *model.FileOperation
	TransactionID string
	Context       string
	Err           error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Context != "" {
		msg += ": " + e.Context
	}
	if e.TransactionID != "" {
		msg += fmt.Sprintf(" (transaction %s)", e.TransactionID)
	}
	if e.Operation != nil {
		msg += fmt.Sprintf(" (%s %s)", e.Operation.Type, e.Operation.SourcePath)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed error with formatted context.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Context: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause under the given code.
func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Context: fmt.Sprintf(format, args...), Err: err}
}

// WithOperation attaches the triggering operation.
func (e *Error) WithOperation(op *model.FileOperation) *Error {
	e.Operation = op
	return e
}

// WithTransaction attaches the transaction id.
func (e *Error) WithTransaction(id string) *Error {
	e.TransactionID = id
	return e
}

// CodeOf extracts the Code from err, or "" when err is not a safety error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err is a safety error with the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsOSError reports whether err is a recognizable OS-level failure that the
// transaction manager must pass through unwrapped so callers can match it
// (out of space, permission, missing path).
func IsOSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return true
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
		return true
	}
	return false
}
