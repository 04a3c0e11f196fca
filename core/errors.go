package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// ErrorKind classifies business failures so that transports can branch on them.
type ErrorKind int

const (
	KindConflict ErrorKind = iota + 1
	KindPayment
	KindForbidden
	KindNotFound
	KindRetryExhausted
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindPayment:
		return "payment"
	case KindForbidden:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRetryExhausted:
		return "exhausted_retry"
	case KindUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Error is an expected business failure with a stable machine-readable reason.
type Error struct {
	Kind      ErrorKind
	Reason    string
	Message   string
	Retryable bool
	Data      interface{}
}

func (err *Error) Error() string {
	return err.Message
}

// WithData returns a copy of err carrying data; sentinel errors stay untouched.
func (err *Error) WithData(data interface{}) *Error {
	cp := *err
	cp.Data = data
	return &cp
}

// Is makes copies made by WithData match their sentinel.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == err.Kind && t.Reason == err.Reason
}

func NewConflictError(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

func NewRetryableConflictError(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg, Retryable: true}
}

func NewPaymentError(reason, msg string) *Error {
	return &Error{Kind: KindPayment, Reason: reason, Message: msg, Retryable: true}
}

func NewForbiddenError(reason, msg string) *Error {
	return &Error{Kind: KindForbidden, Reason: reason, Message: msg}
}

func NewNotFoundError(reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg}
}

func NewRetryExhaustedError(reason, msg string) *Error {
	return &Error{Kind: KindRetryExhausted, Reason: reason, Message: msg}
}

func NewUnavailableError(reason, msg string) *Error {
	return &Error{Kind: KindUnavailable, Reason: reason, Message: msg, Retryable: true}
}

// AsError returns the *Error at the root of err, if any.
func AsError(err error) (*Error, bool) {
	e, ok := errors.Cause(err).(*Error)
	return e, ok
}

// IsKind reports whether the root of err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

var ErrPermissionDenied = NewForbiddenError("permission_denied", "permission denied")

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
