package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/runledger/internal/normalize"
)

// IngestError represents a failure to apply one event.
//
// Ingest errors are local to their event and surface in its ir.Result;
// only protocol errors reject a whole request.
type IngestError struct {
	// Code identifies the error category.
	Code IngestErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run, if known.
	RunID string

	// Err is the underlying cause.
	Err error
}

// IngestErrorCode categorizes ingest errors.
type IngestErrorCode string

const (
	// ErrCodeValidation indicates a malformed event (bad timestamp, non-string id, unknown verb).
	ErrCodeValidation IngestErrorCode = "VALIDATION"

	// ErrCodePersistence indicates the store rejected an operation.
	ErrCodePersistence IngestErrorCode = "PERSISTENCE"

	// ErrCodeProtocol indicates the request carried no events at all.
	ErrCodeProtocol IngestErrorCode = "PROTOCOL"
)

// Error implements the error interface.
func (e *IngestError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, msg, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *IngestError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code IngestErrorCode) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// IsValidationError returns true if the event was malformed.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsPersistenceError returns true if the store rejected the event.
func IsPersistenceError(err error) bool {
	return hasCode(err, ErrCodePersistence)
}

// IsProtocolError returns true if the request payload itself was unusable.
func IsProtocolError(err error) bool {
	return hasCode(err, ErrCodeProtocol)
}

// NewValidationError creates a validation error for runID.
func NewValidationError(runID, format string, args ...any) *IngestError {
	return &IngestError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...), RunID: runID}
}

// NewPersistenceError wraps a store failure.
func NewPersistenceError(runID, op string, err error) *IngestError {
	return &IngestError{Code: ErrCodePersistence, Message: op, RunID: runID, Err: err}
}

// NewProtocolError wraps a request-level decoding failure.
func NewProtocolError(err error) *IngestError {
	return &IngestError{Code: ErrCodeProtocol, Err: err}
}

// classify maps an arbitrary failure onto the ingest taxonomy.
func classify(runID string, err error) error {
	var ie *IngestError
	if errors.As(err, &ie) {
		return err
	}
	if normalize.IsValidationError(err) {
		return &IngestError{Code: ErrCodeValidation, RunID: runID, Err: err}
	}
	return &IngestError{Code: ErrCodePersistence, RunID: runID, Err: err}
}
