package deck

import (
	"errors"
	"fmt"
)

// Error is a domain error raised by deckstore operations. Duplicates and
// conflicts are outcomes, not errors; Error covers requests that cannot be
// carried out as asked.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SandboxID identifies the affected sandbox, when there is one.
	SandboxID int64

	// RecordID identifies the affected record, when there is one.
	RecordID int64
}

// ErrorCode categorizes domain errors.
type ErrorCode string

const (
	CodeUnknownDeck         ErrorCode = "UNKNOWN_DECK"
	CodeMissingScope        ErrorCode = "MISSING_SCOPE"
	CodeMixedRecords        ErrorCode = "MIXED_RECORDS"
	CodeModifyDeleted       ErrorCode = "MODIFY_DELETED"
	CodeSandboxNotFound     ErrorCode = "SANDBOX_NOT_FOUND"
	CodeSandboxInvalid      ErrorCode = "SANDBOX_INVALID"
	CodeSandboxSubmitted    ErrorCode = "SANDBOX_SUBMITTED"
	CodeSandboxNotEditable  ErrorCode = "SANDBOX_NOT_EDITABLE"
	CodeWrongDeck           ErrorCode = "WRONG_DECK"
	CodeUnresolvedConflicts ErrorCode = "UNRESOLVED_CONFLICTS"
	CodeMergeLogNotFound    ErrorCode = "MERGE_LOG_NOT_FOUND"
	CodeRollbackNotLatest   ErrorCode = "ROLLBACK_NOT_LATEST"
	CodeBackupMissing       ErrorCode = "BACKUP_MISSING"
	CodeDuplicateRecord     ErrorCode = "DUPLICATE_RECORD"
	CodeStaleRecord         ErrorCode = "STALE_RECORD"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.SandboxID != 0 && e.RecordID != 0:
		return fmt.Sprintf("%s: %s (sandbox=%d, record=%d)", e.Code, e.Message, e.SandboxID, e.RecordID)
	case e.SandboxID != 0:
		return fmt.Sprintf("%s: %s (sandbox=%d)", e.Code, e.Message, e.SandboxID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error by code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == ""
	}
	return false
}

// Sentinels for errors.Is. They carry only a code.
var (
	ErrModifyDeleted       = &Error{Code: CodeModifyDeleted}
	ErrSandboxNotFound     = &Error{Code: CodeSandboxNotFound}
	ErrSandboxInvalid      = &Error{Code: CodeSandboxInvalid}
	ErrSandboxSubmitted    = &Error{Code: CodeSandboxSubmitted}
	ErrUnresolvedConflicts = &Error{Code: CodeUnresolvedConflicts}
	ErrMergeLogNotFound    = &Error{Code: CodeMergeLogNotFound}
	ErrBackupMissing       = &Error{Code: CodeBackupMissing}
)

// IsCode returns true if err wraps a domain error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the domain error code carried by err, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// SandboxNotFound builds the error returned when a sandbox id resolves to nothing.
func SandboxNotFound(id int64) error {
	return &Error{Code: CodeSandboxNotFound, Message: "sandbox does not exist", SandboxID: id}
}
