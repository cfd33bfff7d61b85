// Package kerr defines the closed error taxonomy used across the nexus
// core. Errors are plain Go errors (satisfying the error interface) so
// callers can keep using fmt.Errorf("...: %w", err) at package
// boundaries; Kind lets callers branch on the category with errors.As.
package kerr

import "fmt"

// Kind enumerates the error categories from the core's error taxonomy.
type Kind string

const (
	QueryTimedout          Kind = "query_timedout"
	QueryCancelled         Kind = "query_cancelled"
	QueryNotExecuted       Kind = "query_not_executed"
	QueryNotExecutedDetail Kind = "query_not_executed_detail"
	InvalidStatement       Kind = "invalid_statement"
	InvalidControlFlow     Kind = "invalid_control_flow"
	InvalidParam           Kind = "invalid_param"
	SetCoerce              Kind = "set_coerce"
	FieldCoerce            Kind = "field_coerce"
	FieldUndefined         Kind = "field_undefined"
	FieldReadonly          Kind = "field_readonly"
	FieldValue             Kind = "field_value"
	InvalidArguments       Kind = "invalid_arguments"
	InvalidAuth            Kind = "invalid_auth"
	PermissionDenied       Kind = "permission_denied"
	Unreachable            Kind = "unreachable"
)

// Error is the concrete error type for every kind above. Extra context
// (field name, record id, ...) is carried in Fields rather than as typed
// struct members, since the taxonomy has many shapes and Go has no sum
// types; callers that need a specific field look it up by name.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With attaches a contextual field and returns the receiver for chaining.
func (e *Error) With(key string, val any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = val
	return e
}

// Field reads back a contextual field set via With.
func (e *Error) Field(key string) any {
	if e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// Is reports whether target is a *Error of the same Kind, so callers can
// write errors.Is(err, kerr.New(kerr.FieldReadonly, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// UnreachableErr wraps a programming-error invariant violation (e.g. a
// failed single-owner acquisition of the compute Context) as the
// Unreachable kind, matching the guidance to panic-equivalent rather than
// invent recovery behavior.
func UnreachableErr(format string, args ...any) *Error {
	return New(Unreachable, format, args...)
}
