// Package errors defines the sentinel errors shared by the index builder and
// the recommendation service, plus an AppError wrapper that carries an HTTP
// status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDocumentNotFound = errors.New("document not found")
	ErrIndexLoad        = errors.New("index load failure")
	ErrEmptyCorpus      = errors.New("empty corpus")
	ErrCorruptCorpus    = errors.New("corrupt corpus")
	ErrInternal         = errors.New("internal error")
	ErrTimeout          = errors.New("operation timed out")
)

// ErrNotFound is the name the query layer uses for a lookup that matched
// nothing.
var ErrNotFound = ErrDocumentNotFound

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// InvalidInputf builds a 400 AppError wrapping ErrInvalidInput.
func InvalidInputf(format string, args ...any) *AppError {
	return Newf(ErrInvalidInput, http.StatusBadRequest, format, args...)
}

// NotFoundf builds a 404 AppError wrapping ErrNotFound.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrNotFound, http.StatusNotFound, format, args...)
}

// IndexLoadf wraps ErrIndexLoad with a description of what was wrong with
// the persisted index.
func IndexLoadf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIndexLoad, fmt.Sprintf(format, args...))
}

// WrapIndexLoad is IndexLoadf for failures with an underlying cause; both
// ErrIndexLoad and cause stay visible to errors.Is.
func WrapIndexLoad(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", ErrIndexLoad, fmt.Sprintf(format, args...), cause)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrIndexLoad), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
