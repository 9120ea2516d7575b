package services

import (
	"errors"
	"fmt"

	"workflow-suite/core/internal/definitions"
	"workflow-suite/core/internal/repository"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindInvalidState ErrorKind = "invalid_state"
	KindForbidden    ErrorKind = "forbidden"
	KindValidation   ErrorKind = "validation"
	KindUnavailable  ErrorKind = "unavailable"
	KindInternal     ErrorKind = "internal"
)

// Stable machine-readable error codes.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeDefinitionNotFound  = "DEFINITION_NOT_FOUND"
	CodeInvalidState        = "INVALID_STATE"
	CodeDefinitionNotActive = "DEFINITION_NOT_ACTIVE"
	CodeAlreadyProcessed    = "ALREADY_PROCESSED"
	CodeCannotCancel        = "CANNOT_CANCEL"
	CodeNotApprover         = "NOT_APPROVER"
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnavailable         = "UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// Error is the typed failure returned by the engines.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func notFoundError(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalidState(code, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Message: fmt.Sprintf(format, args...)}
}

func forbidden(code, format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: fmt.Sprintf(format, args...)}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// storeError translates repository failures.
func storeError(err error, entity, id string) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError(CodeNotFound, "%s %s not found", entity, id)
	}
	return &Error{Kind: KindUnavailable, Code: CodeUnavailable, Message: "store unavailable", Err: err}
}

// definitionError translates accessor failures. Anything but a definite
// not-found is reported as unavailable.
func definitionError(err error, id string) error {
	if errors.Is(err, definitions.ErrNotFound) {
		return notFoundError(CodeDefinitionNotFound, "definition %s not found", id)
	}
	return &Error{Kind: KindUnavailable, Code: CodeUnavailable, Message: fmt.Sprintf("definition %s unavailable", id), Err: err}
}
