/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors
var (
	// ErrBadRequest is returned when the caller sent malformed input. The host shows the message to the user.
	ErrBadRequest = errors.New("bad request")

	// ErrUnprocessableEntity is returned when the request token must be refreshed before retrying
	ErrUnprocessableEntity = errors.New("unprocessable entity")

	// ErrNotFound is returned when a datasource object or session is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create something that already exists
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrConditionFailed is returned when a conditional update fails
	ErrConditionFailed = errors.New("condition check failed")

	// ErrLockConflict is returned when another caller holds the lock on an (id, revision) pair
	ErrLockConflict = errors.New("lock conflict")

	// ErrInvalidState is returned when an operation is not allowed in the current lifecycle state
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrNoIndexMap is returned when no index map is found for a type
	ErrNoIndexMap = errors.New("no index map found for type")
)

// StatusCoder is implemented by errors that map to a host-facing status code.
type StatusCoder interface {
	StatusCode() int
}

// BadRequestError carries a message the host surfaces verbatim in the UI.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func (e *BadRequestError) Is(target error) bool {
	return target == ErrBadRequest
}

func (e *BadRequestError) StatusCode() int {
	return http.StatusBadRequest
}

// UnprocessableEntityError signals an authentication token problem. It has no message.
type UnprocessableEntityError struct{}

func (e *UnprocessableEntityError) Error() string {
	return ErrUnprocessableEntity.Error()
}

func (e *UnprocessableEntityError) Is(target error) bool {
	return target == ErrUnprocessableEntity
}

func (e *UnprocessableEntityError) StatusCode() int {
	return http.StatusUnprocessableEntity
}

// NotFoundError represents an error when an entity is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// AlreadyExistsError represents an error when an entity already exists
type AlreadyExistsError struct {
	Type string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with key %q already exists", e.Type, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

func (e *AlreadyExistsError) StatusCode() int {
	return http.StatusConflict
}

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// ConditionFailedError represents a failed conditional operation
type ConditionFailedError struct {
	Operation string
	Condition string
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("condition check failed for %s operation: %s", e.Operation, e.Condition)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

func (e *ConditionFailedError) StatusCode() int {
	return http.StatusConflict
}

// LockConflictError is returned when an (id, revision) pair is locked by someone else
// or already has a mutating operation in flight.
type LockConflictError struct {
	ID       string
	Revision string
	Holder   string
}

func (e *LockConflictError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("object %q revision %q is locked by %s", e.ID, e.Revision, e.Holder)
	}
	return fmt.Sprintf("object %q revision %q is locked", e.ID, e.Revision)
}

func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

func (e *LockConflictError) StatusCode() int {
	return http.StatusConflict
}

// InvalidStateError is returned when an operation is attempted from a state that does not allow it.
type InvalidStateError struct {
	ID        string
	Revision  string
	State     string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s object %q revision %q in state %s", e.Operation, e.ID, e.Revision, e.State)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

func (e *InvalidStateError) StatusCode() int {
	return http.StatusConflict
}

// Helper functions for creating errors

// NewBadRequestError creates a new BadRequestError
func NewBadRequestError(message string) error {
	return &BadRequestError{Message: message}
}

// NewUnprocessableEntityError creates a new UnprocessableEntityError
func NewUnprocessableEntityError() error {
	return &UnprocessableEntityError{}
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entityType, key string) error {
	return &NotFoundError{Type: entityType, Key: key}
}

// NewAlreadyExistsError creates a new AlreadyExistsError
func NewAlreadyExistsError(entityType, key string) error {
	return &AlreadyExistsError{Type: entityType, Key: key}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewConditionFailedError creates a new ConditionFailedError
func NewConditionFailedError(operation, condition string) error {
	return &ConditionFailedError{Operation: operation, Condition: condition}
}

// NewLockConflictError creates a new LockConflictError
func NewLockConflictError(id, revision, holder string) error {
	return &LockConflictError{ID: id, Revision: revision, Holder: holder}
}

// NewInvalidStateError creates a new InvalidStateError
func NewInvalidStateError(id, revision, state, operation string) error {
	return &InvalidStateError{ID: id, Revision: revision, State: state, Operation: operation}
}

// IsBadRequest checks if an error is a bad request error
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrBadRequest)
}

// IsUnprocessableEntity checks if an error asks for a token refresh
func IsUnprocessableEntity(err error) bool {
	return errors.Is(err, ErrUnprocessableEntity)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsConditionFailed checks if an error is a condition failed error
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsLockConflict checks if an error is a lock conflict
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict)
}

// IsInvalidState checks if an error is an invalid lifecycle state error
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// StatusCode returns the host-facing status of the first typed error in the chain.
// Untyped errors map to 500.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether a caller may retry an idempotent operation after err.
// Contract errors need caller action first; anything else is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var sc StatusCoder
	return !errors.As(err, &sc)
}
