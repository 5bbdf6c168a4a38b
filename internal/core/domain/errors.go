package domain

import (
	"errors"
	"fmt"
)

// DomainError is an error with a stable code. Codes have the form
// TH-<AREA>-<NNNN>; the first three digits are the HTTP status.
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: details, Cause: e.Cause}
}

// WithCause returns a copy of the error wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: e.Details, Cause: cause}
}

// HTTPStatus derives the HTTP status from the code, defaulting to 500.
func (e *DomainError) HTTPStatus() int {
	n := len(e.Code)
	if n < 4 {
		return 500
	}
	status := 0
	for _, c := range e.Code[n-4 : n-1] {
		if c < '0' || c > '9' {
			return 500
		}
		status = status*10 + int(c-'0')
	}
	if status < 400 || status > 599 {
		return 500
	}
	return status
}

// IsDomainError reports whether err is a DomainError, with the given code
// when code is not empty.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return code == "" || de.Code == code
	}
	return false
}

// GetErrorCode extracts the code of a DomainError, or "".
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Session errors.
var (
	ErrSessionNotFound = NewDomainError("TH-SESS-4040", "session not found")
	ErrSessionExpired  = NewDomainError("TH-SESS-4041", "session expired")
	ErrSessionMissing  = NewDomainError("TH-SESS-4000", "session id header missing")
)

// Tool errors.
var (
	ErrToolNotFound  = NewDomainError("TH-TOOL-4040", "tool not found")
	ErrDuplicateTool = NewDomainError("TH-TOOL-4090", "tool already registered")
	ErrToolFailed    = NewDomainError("TH-TOOL-5000", "tool execution failed")
)

// Connection errors.
var (
	ErrConnectionNotFound = NewDomainError("TH-CONN-4040", "connection not found")
)

// System errors.
var (
	ErrInternalServer     = NewDomainError("TH-SYS-5000", "internal server error")
	ErrServiceUnavailable = NewDomainError("TH-SYS-5030", "service unavailable")
	ErrBadRequest         = NewDomainError("TH-SYS-4000", "bad request")
	ErrRateLimited        = NewDomainError("TH-SYS-4290", "too many requests")
)

// Argument errors.
var (
	ErrInvalidArgument = NewDomainError("TH-ARG-4001", "invalid argument")
)
