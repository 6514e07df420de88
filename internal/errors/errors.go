// Package errors provides structured error types for the ledgerpart system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryConfig      ErrorCategory = "CONFIG"
	ErrCategoryCatalog     ErrorCategory = "CATALOG"
	ErrCategoryProvision   ErrorCategory = "PROVISION"
	ErrCategoryMigration   ErrorCategory = "MIGRATION"
	ErrCategoryMaintenance ErrorCategory = "MAINTENANCE"
	ErrCategoryBackup      ErrorCategory = "BACKUP"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Config codes
	CodeInvalidWindow = "INVALID_WINDOW"
	CodeInvalidWidth  = "INVALID_WIDTH"
	CodeMissingDSN    = "MISSING_DSN"

	// Catalog codes
	CodePartitionNotFound = "PARTITION_NOT_FOUND"
	CodeMetadataQuery     = "METADATA_QUERY"

	// Provision codes
	CodeCreateFailed = "CREATE_FAILED"
	CodeIndexFailed  = "INDEX_FAILED"

	// Migration codes
	CodeCopyFailed     = "COPY_FAILED"
	CodeCutoverFailed  = "CUTOVER_FAILED"
	CodeCountMismatch  = "COUNT_MISMATCH"
	CodeLegacyMissing  = "LEGACY_MISSING"

	// Maintenance codes
	CodeCommandFailed = "COMMAND_FAILED"
	CodeHistoryWrite  = "HISTORY_WRITE"

	// Backup codes
	CodeDumpFailed   = "DUMP_FAILED"
	CodeVerifyFailed = "VERIFY_FAILED"
	CodePruneFailed  = "PRUNE_FAILED"

	// Storage codes
	CodeUploadFailed = "UPLOAD_FAILED"
	CodeDeleteFailed = "DELETE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// LedgerError is the structured error type used throughout the system.
type LedgerError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *LedgerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *LedgerError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *LedgerError) Is(target error) bool {
	var t *LedgerError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new LedgerError.
func New(category ErrorCategory, code, message string) *LedgerError {
	return &LedgerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new LedgerError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *LedgerError {
	return &LedgerError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *LedgerError) WithDetails(details map[string]interface{}) *LedgerError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a LedgerError.
func GetCategory(err error) ErrorCategory {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a LedgerError.
func GetCode(err error) string {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// isRetryable determines if an error code is transient.
// Provisioning and migration failures are never retried automatically:
// a partition with missing indexes or an unverified copy must surface
// to the caller, not be papered over.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryCatalog && code == CodeMetadataQuery:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewConfigError(code, message string) *LedgerError {
	return New(ErrCategoryConfig, code, message)
}

func NewCatalogError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewProvisionError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryProvision, code, message, cause)
}

func NewMigrationError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryMigration, code, message, cause)
}

func NewMaintenanceError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryMaintenance, code, message, cause)
}

func NewBackupError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryBackup, code, message, cause)
}

func NewStorageError(code, message string, cause error) *LedgerError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *LedgerError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
