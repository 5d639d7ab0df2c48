package reducer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/crmorbit/internal/domain"
	"github.com/roach88/crmorbit/internal/event"
)

// Error is a domain error raised by a reducer when an event violates an
// invariant. Reducer errors are never retried by the dispatcher.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// EventID and EventType identify the rejected event.
	EventID   string
	EventType event.Type

	// Entity and EntityID identify the target entity, when known.
	Entity   domain.EntityType
	EntityID string

	// Field names the offending payload field for validation errors.
	Field string

	// Ref names the dangling reference for REFERENCE_NOT_FOUND,
	// formatted "type:id".
	Ref string

	// Details lists the blocking entities for DEPENDENCY_EXISTS,
	// formatted "type:id".
	Details []string
}

// ErrorCode categorizes reducer errors.
type ErrorCode string

const (
	// CodeValidation indicates a malformed or missing payload field.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeReferenceNotFound indicates a dangling foreign key.
	CodeReferenceNotFound ErrorCode = "REFERENCE_NOT_FOUND"

	// CodeNotFound indicates the target entity is absent.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeAlreadyExists indicates a duplicate id on create.
	CodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// CodeInvalidTransition indicates an illegal state-machine move.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// CodeDependencyExists indicates a delete blocked by referencing entities.
	CodeDependencyExists ErrorCode = "DEPENDENCY_EXISTS"

	// CodeEntityIDMismatch indicates entityId and payload.id disagree.
	CodeEntityIDMismatch ErrorCode = "ENTITY_ID_MISMATCH"

	// CodeMissingEntityID indicates neither entityId nor payload.id is set.
	CodeMissingEntityID ErrorCode = "MISSING_ENTITY_ID"

	// CodeUnknownEventType indicates no reducer handles the event type.
	CodeUnknownEventType ErrorCode = "UNKNOWN_EVENT_TYPE"
)

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrValidation        = &Error{Code: CodeValidation}
	ErrReferenceNotFound = &Error{Code: CodeReferenceNotFound}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrDependencyExists  = &Error{Code: CodeDependencyExists}
	ErrEntityIDMismatch  = &Error{Code: CodeEntityIDMismatch}
	ErrMissingEntityID   = &Error{Code: CodeMissingEntityID}
	ErrUnknownEventType  = &Error{Code: CodeUnknownEventType}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var ctx []string
	if e.EventID != "" {
		ctx = append(ctx, "event="+e.EventID)
	}
	if e.Entity != "" && e.EntityID != "" {
		ctx = append(ctx, fmt.Sprintf("%s=%s", e.Entity, e.EntityID))
	}
	if len(ctx) > 0 {
		b.WriteString(" (" + strings.Join(ctx, ", ") + ")")
	}
	return b.String()
}

// Is matches sentinel errors by Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the Code of a reducer error anywhere in err's chain, or
// "" if err is not a reducer error.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsDomainError reports whether err is a reducer invariant failure, as
// opposed to an I/O or programming error.
func IsDomainError(err error) bool {
	return CodeOf(err) != ""
}

func validationError(entity domain.EntityType, id, field, format string, args ...any) *Error {
	return &Error{
		Code:     CodeValidation,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		EntityID: id,
		Field:    field,
	}
}

func notFound(entity domain.EntityType, id string) *Error {
	return &Error{
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %q not found", entity, id),
		Entity:   entity,
		EntityID: id,
	}
}

func alreadyExists(entity domain.EntityType, id string) *Error {
	return &Error{
		Code:     CodeAlreadyExists,
		Message:  fmt.Sprintf("%s %q already exists", entity, id),
		Entity:   entity,
		EntityID: id,
	}
}

func referenceNotFound(entity domain.EntityType, id string, ref domain.EntityType, refID string) *Error {
	return &Error{
		Code:     CodeReferenceNotFound,
		Message:  fmt.Sprintf("referenced %s %q does not exist", ref, refID),
		Entity:   entity,
		EntityID: id,
		Ref:      string(ref) + ":" + refID,
	}
}

func invalidTransition(entity domain.EntityType, id, format string, args ...any) *Error {
	return &Error{
		Code:     CodeInvalidTransition,
		Message:  fmt.Sprintf(format, args...),
		Entity:   entity,
		EntityID: id,
	}
}

func dependencyExists(entity domain.EntityType, id string, dependents []string) *Error {
	return &Error{
		Code:     CodeDependencyExists,
		Message:  fmt.Sprintf("%s %q is still referenced by %s", entity, id, strings.Join(dependents, ", ")),
		Entity:   entity,
		EntityID: id,
		Details:  dependents,
	}
}

func unknownEventType(t event.Type) *Error {
	return &Error{
		Code:    CodeUnknownEventType,
		Message: fmt.Sprintf("no reducer for event type %q", t),
	}
}

// IsValidation reports whether err is a VALIDATION error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsAlreadyExists reports whether err is an ALREADY_EXISTS error.
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

// IsReferenceNotFound reports whether err is a REFERENCE_NOT_FOUND error.
func IsReferenceNotFound(err error) bool { return errors.Is(err, ErrReferenceNotFound) }

// IsInvalidTransition reports whether err is an INVALID_TRANSITION error.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsDependencyExists reports whether err is a DEPENDENCY_EXISTS error.
func IsDependencyExists(err error) bool { return errors.Is(err, ErrDependencyExists) }

// IsUnknownEventType reports whether err is an UNKNOWN_EVENT_TYPE error.
func IsUnknownEventType(err error) bool { return errors.Is(err, ErrUnknownEventType) }
