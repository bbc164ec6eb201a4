package services

import (
	"errors"
	"fmt"

	"github.com/scriptgrade/evaluation-service/internal/repositories"
)

// Not-found sentinels, re-exported so handlers depend on one package.
var (
	ErrExamNotFound      = repositories.ErrExamNotFound
	ErrAnswerKeyNotFound = repositories.ErrAnswerKeyNotFound
	ErrSheetNotFound     = repositories.ErrSheetNotFound
	ErrJobNotFound       = repositories.ErrJobNotFound
	ErrResultNotFound    = repositories.ErrResultNotFound
	ErrFlagNotFound      = repositories.ErrFlagNotFound
)

// Domain errors. None of these leaves partial state behind.
var (
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrAlreadyResolved = errors.New("flag already resolved")
	ErrOutOfRange      = errors.New("marks out of range")
	ErrKeyLocked       = errors.New("answer key is locked once evaluation has started")
	ErrJobActive       = errors.New("an evaluation job is already active for this exam")
)

// PermissionError carries the who/what/why of an authorization failure.
type PermissionError struct {
	ActorID    string
	ResourceID uint
	Resource   string
	Operation  string
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: actor %s cannot %s %s %d: %s",
		e.ActorID, e.Operation, e.Resource, e.ResourceID, e.Reason)
}

func (e *PermissionError) Unwrap() error {
	return ErrForbidden
}

func NewPermissionError(actorID string, resourceID uint, resource, operation, reason string) error {
	return &PermissionError{
		ActorID:    actorID,
		ResourceID: resourceID,
		Resource:   resource,
		Operation:  operation,
		Reason:     reason,
	}
}

// StateError reports an operation attempted against the wrong lifecycle state.
type StateError struct {
	Resource   string
	ResourceID uint
	Current    string
	Operation  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s %s %d while %s",
		e.Operation, e.Resource, e.ResourceID, e.Current)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

func NewStateError(resource string, resourceID uint, current, operation string) error {
	return &StateError{
		Resource:   resource,
		ResourceID: resourceID,
		Current:    current,
		Operation:  operation,
	}
}

// IsNotFoundError reports whether err maps to a 404.
func IsNotFoundError(err error) bool {
	return repositories.IsNotFoundError(err)
}

// IsForbiddenError reports whether err maps to a 403.
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInvalidStateError reports whether err maps to a 409.
func IsInvalidStateError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrJobActive) ||
		errors.Is(err, ErrKeyLocked) ||
		errors.Is(err, ErrAlreadyResolved)
}
