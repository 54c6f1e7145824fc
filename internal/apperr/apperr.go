// Package apperr holds the classified errors shared by the command pipeline.
//
// Every rejection a transport can observe is an *Error carrying a Category and
// a Code. errors.Is matches on both, so callers compare against the sentinels
// below instead of inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Category groups errors by the component that produced them.
type Category string

const (
	CategoryParse       Category = "parse"
	CategoryConfig      Category = "config"
	CategoryState       Category = "state"
	CategoryTransport   Category = "transport"
	CategoryPersistence Category = "persistence"
	CategoryProcess     Category = "process"
)

// Code is the specific failure inside a category.
type Code string

const (
	CodeMalformed         Code = "Malformed"
	CodeUnknownNamespace  Code = "UnknownNamespace"
	CodeUnknownKey        Code = "UnknownKey"
	CodeInvalidValue      Code = "InvalidValue"
	CodeOutOfRange        Code = "OutOfRange"
	CodeInvalidTransition Code = "InvalidTransition"
	CodeDisconnected      Code = "Disconnected"
	CodeTimeout           Code = "Timeout"
	CodeIOFailure         Code = "IOFailure"
	CodePermissionDenied  Code = "PermissionDenied"
	CodeFailed            Code = "Failed"
)

// Error is a classified error.
type Error struct {
	Category Category
	Code     Code
	Message  string
	Cause    error
	Fields   map[string]string
}

// Sentinels for errors.Is. Only Category and Code take part in the comparison.
var (
	ErrMalformed         = &Error{Category: CategoryParse, Code: CodeMalformed}
	ErrUnknownNamespace  = &Error{Category: CategoryParse, Code: CodeUnknownNamespace}
	ErrUnknownKey        = &Error{Category: CategoryConfig, Code: CodeUnknownKey}
	ErrInvalidValue      = &Error{Category: CategoryConfig, Code: CodeInvalidValue}
	ErrOutOfRange        = &Error{Category: CategoryState, Code: CodeOutOfRange}
	ErrInvalidTransition = &Error{Category: CategoryState, Code: CodeInvalidTransition}
	ErrBadArgument       = &Error{Category: CategoryState, Code: CodeInvalidValue}
	ErrDisconnected      = &Error{Category: CategoryTransport, Code: CodeDisconnected}
	ErrTimeout           = &Error{Category: CategoryTransport, Code: CodeTimeout}
	ErrIOFailure         = &Error{Category: CategoryPersistence, Code: CodeIOFailure}
	ErrPermissionDenied  = &Error{Category: CategoryProcess, Code: CodePermissionDenied}
	ErrProcessFailed     = &Error{Category: CategoryProcess, Code: CodeFailed}
)

// New creates a classified error with a formatted message.
func New(category Category, code Code, format string, args ...interface{}) *Error {
	return &Error{Category: category, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error around cause.
func Wrap(cause error, category Category, code Code, format string, args ...interface{}) *Error {
	e := New(category, code, format, args...)
	e.Cause = cause
	return e
}

// With returns a copy of e with an extra context field.
func (e *Error) With(key, value string) *Error {
	c := *e
	c.Fields = make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		c.Fields[k] = v
	}
	c.Fields[key] = value
	return &c
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	b.WriteString(" error (")
	b.WriteString(string(e.Code))
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" [")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "%s=%q", k, e.Fields[k])
		}
		b.WriteString("]")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same category and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Parse errors.

func Malformed(format string, args ...interface{}) *Error {
	return New(CategoryParse, CodeMalformed, format, args...)
}

func UnknownNamespace(ns string) *Error {
	return New(CategoryParse, CodeUnknownNamespace, "unknown namespace %q", ns)
}

// Config errors.

func UnknownKey(section, key string) *Error {
	return New(CategoryConfig, CodeUnknownKey, "unknown setting %s:%s", section, key)
}

func InvalidValue(section, key, value, reason string) *Error {
	return New(CategoryConfig, CodeInvalidValue, "invalid value %q for %s:%s: %s", value, section, key, reason)
}

// State errors.

func OutOfRange(format string, args ...interface{}) *Error {
	return New(CategoryState, CodeOutOfRange, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return New(CategoryState, CodeInvalidTransition, format, args...)
}

func BadArgument(format string, args ...interface{}) *Error {
	return New(CategoryState, CodeInvalidValue, format, args...)
}

// Persistence and process control errors.

func IOFailure(cause error, format string, args ...interface{}) *Error {
	return Wrap(cause, CategoryPersistence, CodeIOFailure, format, args...)
}

func PermissionDenied(cause error, format string, args ...interface{}) *Error {
	return Wrap(cause, CategoryProcess, CodePermissionDenied, format, args...)
}

func ProcessFailed(cause error, format string, args ...interface{}) *Error {
	return Wrap(cause, CategoryProcess, CodeFailed, format, args...)
}

// HTTPStatus maps an error to the status code the HTTP surface answers with.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case CodeMalformed, CodeInvalidValue:
		return http.StatusBadRequest
	case CodeUnknownNamespace, CodeUnknownKey, CodeOutOfRange:
		return http.StatusNotFound
	case CodeInvalidTransition:
		return http.StatusConflict
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeDisconnected, CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
