package errors

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeSpawn      ErrorType = "spawn"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeProxyExit  ErrorType = "proxy_exit"
	ErrorTypeDiscovery  ErrorType = "discovery"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

// Process errors

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewProxyExitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProxyExit, message, cause)
}

func NewDiscoveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDiscovery, message, cause)
}

// System errors

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// isType walks the whole cause chain, including inside aggregated errors
func isType(err error, errorType ErrorType) bool {
	target := &DomainError{Type: errorType}
	for _, e := range multierr.Errors(err) {
		if errors.Is(e, target) {
			return true
		}
	}
	return false
}

func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool   { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool   { return isType(err, ErrorTypeConflict) }
func IsSpawnError(err error) bool      { return isType(err, ErrorTypeSpawn) }
func IsProcessError(err error) bool    { return isType(err, ErrorTypeProcess) }
func IsProxyExitError(err error) bool  { return isType(err, ErrorTypeProxyExit) }
func IsDiscoveryError(err error) bool  { return isType(err, ErrorTypeDiscovery) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }
func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }

// ErrorCollection aggregates errors of bulk operations such as teardown
type ErrorCollection struct {
	err error
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{}
}

func (e *ErrorCollection) Add(err error) {
	e.err = multierr.Append(e.err, err)
}

func (e *ErrorCollection) Errors() []error {
	return multierr.Errors(e.err)
}

func (e *ErrorCollection) HasErrors() bool {
	return e.err != nil
}

func (e *ErrorCollection) ToError() error {
	return e.err
}
