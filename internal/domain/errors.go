package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors used throughout the application.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")

	// ErrResolution means the current public address could not be determined.
	ErrResolution = errors.New("address resolution failed")
	// ErrExternalCommand means the address provider command exited non-zero
	// or wrote to its error stream.
	ErrExternalCommand = errors.New("external command failed")
	// ErrGatewayTransport means the remote API could not be reached.
	ErrGatewayTransport = errors.New("gateway transport failure")
	// ErrGatewayApplication means the remote API answered with a non-2xx
	// status or a success body that could not be parsed.
	ErrGatewayApplication = errors.New("gateway application failure")
)

// GatewayError describes a failed remote authorization call.
type GatewayError struct {
	Op         string
	StatusCode int
	Header     http.Header
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// APIError is the JSON error body returned by the status API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
