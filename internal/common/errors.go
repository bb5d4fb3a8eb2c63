package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError carries a stable code and a message that is safe to return to
// clients. Cause keeps the underlying chain for errors.Is.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Sentinel kinds. Wrap one of these as the Cause so transports can map it.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
	ErrTooLarge     = errors.New("file too large")
	ErrUnavailable  = errors.New("service unavailable")
)

func NewAppError(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// PublicMessage returns the message safe to show to API clients.
func PublicMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

type errorKind struct {
	sentinel error
	http     int
	grpc     codes.Code
}

// first match wins
var errorKinds = []errorKind{
	{ErrNotFound, http.StatusNotFound, codes.NotFound},
	{ErrUnauthorized, http.StatusUnauthorized, codes.Unauthenticated},
	{ErrTooLarge, http.StatusRequestEntityTooLarge, codes.InvalidArgument},
	{ErrInvalidInput, http.StatusBadRequest, codes.InvalidArgument},
	{ErrValidation, http.StatusBadRequest, codes.InvalidArgument},
	{ErrUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
}

func kindOf(err error) (errorKind, bool) {
	for _, k := range errorKinds {
		if errors.Is(err, k.sentinel) {
			return k, true
		}
	}
	return errorKind{}, false
}

// HTTPStatus maps an error chain onto an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if k, ok := kindOf(err); ok {
		return k.http
	}
	return http.StatusInternalServerError
}

// GRPCError maps an error chain onto a gRPC status error. Unclassified
// errors become Internal without their message.
func GRPCError(err error) error {
	if err == nil {
		return nil
	}
	if k, ok := kindOf(err); ok {
		return status.Error(k.grpc, PublicMessage(err))
	}
	return status.Error(codes.Internal, "internal error")
}
