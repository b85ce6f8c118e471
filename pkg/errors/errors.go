package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Class groups error codes by how a task-level caller must react to them.
type Class int

const (
	ClassTransient Class = iota
	ClassFatal
	ClassIntegrity
)

var (
	// ErrTransport covers network and timeout failures talking to a remote system.
	ErrTransport = NewError("TRANSPORT", "transport failure", http.StatusBadGateway, ClassTransient)
	// ErrCredential is an authentication rejection; retrying cannot fix it.
	ErrCredential = NewError("CREDENTIAL", "authentication rejected", http.StatusBadGateway, ClassFatal)
	// ErrDataIntegrity is a missing record or configuration gap that needs an operator.
	ErrDataIntegrity = NewError("DATA_INTEGRITY", "data integrity violation", http.StatusUnprocessableEntity, ClassIntegrity)
	// ErrUpstreamDegraded is an empty or malformed completion response.
	ErrUpstreamDegraded = NewError("UPSTREAM_DEGRADED", "upstream returned an unusable response", http.StatusBadGateway, ClassTransient)

	ErrNotFound           = NewError("NOT_FOUND", "resource not found", http.StatusNotFound, ClassIntegrity)
	ErrValidation         = NewError("VALIDATION_ERROR", "validation failed", http.StatusBadRequest, ClassIntegrity)
	ErrConflict           = NewError("CONFLICT", "resource conflict", http.StatusConflict, ClassIntegrity)
	ErrTimeout            = NewError("TIMEOUT", "operation timed out", http.StatusGatewayTimeout, ClassTransient)
	ErrInternal           = NewError("INTERNAL_ERROR", "internal server error", http.StatusInternalServerError, ClassTransient)
	ErrServiceUnavailable = NewError("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable, ClassTransient)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code    string
	Message string
	Status  int
	Class   Class
	Details map[string]interface{}
	Cause   error
	fatal   *bool
}

func NewError(code, message string, status int, class Class) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Class:   class,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if detail, ok := e.Details["message"].(string); ok && detail != "" {
		msg = detail
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on code so wrapped copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func (e *Error) IsFatal() bool {
	if e.fatal != nil {
		return *e.fatal
	}
	return e.Class == ClassFatal
}

func (e *Error) IsRetryable() bool {
	if e.fatal != nil {
		return !*e.fatal
	}
	return e.Class == ClassTransient
}

func (e *Error) WithCause(cause error) *Error {
	err := *e
	err.Cause = cause
	return &err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	err.Details[key] = value
	return &err
}

// WithMessage overrides the human readable message while keeping the code.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return e.WithDetail("message", fmt.Sprintf(format, args...))
}

func (e *Error) AsFatal() *Error {
	err := *e
	fatal := true
	err.fatal = &fatal
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// IsFatal reports whether err, or anything it wraps, is marked fatal.
func IsFatal(err error) bool {
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return fatalErr.IsFatal()
	}
	return false
}

// IsRetryable treats unknown errors as retryable; only explicit marks opt out.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}
	return !IsFatal(err)
}

func hasCode(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotFound(err error) bool      { return hasCode(err, ErrNotFound.Code) }
func IsConflict(err error) bool      { return hasCode(err, ErrConflict.Code) }
func IsValidation(err error) bool    { return hasCode(err, ErrValidation.Code) }
func IsCredential(err error) bool    { return hasCode(err, ErrCredential.Code) }
func IsDataIntegrity(err error) bool { return hasCode(err, ErrDataIntegrity.Code) }

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	msg := appErr.Message
	if detail, ok := appErr.Details["message"].(string); ok && detail != "" {
		msg = detail
	}

	return map[string]interface{}{
		"error":      msg,
		"error_code": appErr.Code,
	}
}
