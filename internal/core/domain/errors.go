package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a storage error with a structured error code.
//
// Codes follow RH-<AREA>-<NNNN>; the numeric part mirrors the closest HTTP
// status so operators can triage from logs alone.
type DomainError struct {
	Code    string // Error code (e.g., "RH-STOR-5005")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap is shorthand for WithCause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrFileSystem indicates an I/O failure against the data directory.
	ErrFileSystem = NewDomainError("RH-STOR-5001", "file system error")

	// ErrSerialization indicates an envelope or payload could not be encoded or decoded.
	ErrSerialization = NewDomainError("RH-STOR-5002", "serialization error")

	// ErrCompression indicates a codec failure.
	ErrCompression = NewDomainError("RH-STOR-5003", "compression error")

	// ErrDatabase indicates an embedded database backend failure.
	ErrDatabase = NewDomainError("RH-STOR-5004", "database error")

	// ErrDataCorruption indicates a checksum mismatch on load.
	ErrDataCorruption = NewDomainError("RH-STOR-5005", "data corruption detected")

	// ErrEncryption indicates a cipher failure.
	ErrEncryption = NewDomainError("RH-STOR-5006", "encryption error")

	// ErrBrokenReference indicates a deduplication reference whose canonical entry is gone.
	ErrBrokenReference = NewDomainError("RH-STOR-5007", "broken deduplication reference")

	// ErrStorageFull indicates the capacity limit would be exceeded.
	ErrStorageFull = NewDomainError("RH-STOR-5070", "storage capacity exceeded")

	// ErrConfiguration indicates a disabled feature was invoked or config is invalid.
	ErrConfiguration = NewDomainError("RH-STOR-4001", "configuration error")

	// ErrInvalidKey indicates a key that cannot be stored.
	ErrInvalidKey = NewDomainError("RH-STOR-4002", "invalid key")

	// ErrEntryNotFound indicates the requested entry does not exist.
	ErrEntryNotFound = NewDomainError("RH-STOR-4040", "entry not found")
)

// ============================================================================
// Overlay Errors (OVLY)
// ============================================================================

var (
	// ErrSessionValidation indicates agent session data validation failed.
	ErrSessionValidation = NewDomainError("RH-OVLY-4001", "agent session validation failed")

	// ErrWorkflowValidation indicates workflow data validation failed.
	ErrWorkflowValidation = NewDomainError("RH-OVLY-4002", "workflow validation failed")
)
