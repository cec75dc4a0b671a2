package store

import (
	"errors"
	"fmt"
)

// Common errors for store operations.
var (
	ErrNotInitialized  = errors.New("store not initialized")
	ErrRecordNotFound  = errors.New("record not found")
	ErrLockContention  = errors.New("lock contention")
	ErrCorruptFile     = errors.New("corrupt store file")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidConfidence = errors.New("invalid confidence")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrEmptyStatement  = errors.New("statement cannot be empty")
	ErrEmptyDomain     = errors.New("domain cannot be empty")
	ErrEmptyTopic      = errors.New("topic cannot be empty")
	ErrEmptyTitle      = errors.New("title cannot be empty")
)

// NotInitializedError carries the searched directory so callers can print
// actionable remediation. It unwraps to ErrNotInitialized.
type NotInitializedError struct {
	Dir string
}

func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("no %s directory found in %s or any parent; run 'kodo init' in the project root", DirName, e.Dir)
}

func (e *NotInitializedError) Unwrap() error { return ErrNotInitialized }

// CorruptFileError identifies the unreadable category file. Store-level
// corruption is fatal: silent partial data loss is worse than a visible
// failure. It unwraps to ErrCorruptFile.
type CorruptFileError struct {
	Path string
	Err  error
}

func (e *CorruptFileError) Error() string {
	return fmt.Sprintf("corrupt store file %s: %v", e.Path, e.Err)
}

func (e *CorruptFileError) Unwrap() error { return ErrCorruptFile }
