// Package errors provides error code definitions shared across the sync engine.
package errors

import "fmt"

// ErrorCode identifies a class of failure with a distinct handling policy.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Storage errors
	ErrStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
	ErrTransactionAborted ErrorCode = "TRANSACTION_ABORTED"
	ErrMigrationFailed    ErrorCode = "MIGRATION_FAILED"
	ErrCollectionNotFound ErrorCode = "COLLECTION_NOT_FOUND"
	ErrIndexNotFound      ErrorCode = "INDEX_NOT_FOUND"

	// Sync errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrServerRejected ErrorCode = "SERVER_REJECTED"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrAuthFailed     ErrorCode = "AUTH_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Is checks if an error carries a specific code, unwrapping as needed.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			if appErr.Code == code {
				return true
			}
			err = appErr.Err
			continue
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Code extracts the error code from an error, or ErrInternal if none is present.
func Code(err error) ErrorCode {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			return appErr.Code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return ErrInternal
}

// IsTransient reports whether an error should be retried automatically.
// Network failures and local write conflicts are transient; everything
// else is either terminal for the record or fatal to the engine.
func IsTransient(err error) bool {
	switch Code(err) {
	case ErrNetwork, ErrTransactionAborted:
		return true
	}
	return false
}
