package replacement

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of engine errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Configuration errors (fatal at construction)
	ErrCodeInvalidGeometry
	ErrCodeInvalidConfig
	ErrCodeUnknownPolicy
	ErrCodeFeatureMismatch

	// Invariant failures
	ErrCodeOutOfBounds

	// Snapshot errors
	ErrCodeSnapshotCorrupted
	ErrCodeSnapshotMismatch
	ErrCodeSnapshotUnsupported
	ErrCodeIO
)

var errorCodeNames = map[ErrorCode]string{
	ErrCodeUnknown:             "unknown",
	ErrCodeInternal:            "internal",
	ErrCodeInvalidGeometry:     "invalid geometry",
	ErrCodeInvalidConfig:       "invalid config",
	ErrCodeUnknownPolicy:       "unknown policy",
	ErrCodeFeatureMismatch:     "feature mismatch",
	ErrCodeOutOfBounds:         "out of bounds",
	ErrCodeSnapshotCorrupted:   "snapshot corrupted",
	ErrCodeSnapshotMismatch:    "snapshot mismatch",
	ErrCodeSnapshotUnsupported: "snapshot unsupported",
	ErrCodeIO:                  "io",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// EngineError represents a replacement engine error with context
type EngineError struct {
	Code    ErrorCode
	Message string
	Op      string // Operation that failed
	Err     error  // Underlying error (if any)
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any *EngineError carrying the same code
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewEngineError creates a new engine error
func NewEngineError(code ErrorCode, op, message string, err error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

// Helper functions for common errors

func ErrInvalidGeometry(op, param string, value int64) *EngineError {
	return NewEngineError(
		ErrCodeInvalidGeometry,
		op,
		fmt.Sprintf("%s must be greater than 0, got %d", param, value),
		nil,
	)
}

func ErrInvalidConfig(op, param string, reason string) *EngineError {
	return NewEngineError(
		ErrCodeInvalidConfig,
		op,
		fmt.Sprintf("%s %s", param, reason),
		nil,
	)
}

func ErrUnknownPolicy(op, name string) *EngineError {
	return NewEngineError(
		ErrCodeUnknownPolicy,
		op,
		fmt.Sprintf("unknown policy %q (must be one of %v)", name, PolicyNames()),
		nil,
	)
}

func ErrFeatureMismatch(op string, got, want int) *EngineError {
	return NewEngineError(
		ErrCodeFeatureMismatch,
		op,
		fmt.Sprintf("feature vector has %d inputs, approximator expects %d", got, want),
		nil,
	)
}

func ErrOutOfBounds(op, what string, index, limit uint64) *EngineError {
	return NewEngineError(
		ErrCodeOutOfBounds,
		op,
		fmt.Sprintf("%s %d outside [0, %d)", what, index, limit),
		nil,
	)
}

func ErrSnapshotCorrupted(op, reason string) *EngineError {
	return NewEngineError(
		ErrCodeSnapshotCorrupted,
		op,
		reason,
		nil,
	)
}

func ErrSnapshotMismatch(op, reason string) *EngineError {
	return NewEngineError(
		ErrCodeSnapshotMismatch,
		op,
		reason,
		nil,
	)
}

func ErrIO(op string, err error) *EngineError {
	return NewEngineError(
		ErrCodeIO,
		op,
		"i/o failed",
		err,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ErrCodeUnknown
}

// mustInRange panics with an out-of-bounds EngineError when index >= limit.
func mustInRange(op, what string, index, limit uint64) {
	if index >= limit {
		panic(ErrOutOfBounds(op, what, index, limit))
	}
}
