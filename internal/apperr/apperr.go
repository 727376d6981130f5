package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError carries a classification code alongside the message so that
// handlers can map failures to transport status without string matching.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func InvalidArg(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func Conflict(msg string) error {
	return New(CodeConflict, msg)
}

func Gone(msg string) error {
	return New(CodeGone, msg)
}

func Unavailable(msg string, cause error) error {
	return Wrap(CodeUnavailable, msg, cause)
}

// CodeOf extracts the classification of err, or CodeUnknown for errors
// produced outside this package.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps an error to the status the REST surface should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeGone:
		return http.StatusGone
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
