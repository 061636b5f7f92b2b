// Package apperror defines the error-kind taxonomy shared by the domain
// services and its translation to HTTP responses.
package apperror

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind classifies a domain error.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindPrecondition   Kind = "precondition"
	KindNotFound       Kind = "not_found"
	KindAuthorization  Kind = "authorization"
	KindInfrastructure Kind = "infrastructure"
)

// Error is a classified error. Package-level values are used as sentinels and
// compared with errors.Is; wrap them with fmt.Errorf("...: %w", ErrX) to add
// context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int // overrides the default HTTP status for the kind when non-zero
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Precondition(code, msg string) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func Authorization(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

// Infrastructure wraps a persistence or transport failure.
func Infrastructure(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: "INFRASTRUCTURE", Message: msg, Err: err}
}

// WithStatus returns a copy of e that maps to the given HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInfrastructure for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return "INTERNAL"
}

// IsRetryable reports whether err is an infrastructure failure.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindInfrastructure
}

func statusFor(ae *Error) int {
	if ae.Status != 0 {
		return ae.Status
	}
	switch ae.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindPrecondition:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

// HTTPError converts err into an echo.HTTPError carrying the error code.
func HTTPError(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	if ae.Kind == KindInfrastructure {
		return echo.NewHTTPError(statusFor(ae), map[string]string{
			"code":    ae.Code,
			"message": "service temporarily unavailable",
		})
	}
	return echo.NewHTTPError(statusFor(ae), map[string]string{
		"code":    ae.Code,
		"message": err.Error(),
	})
}
