package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the session and the request client.
var (
	// ErrNotAuthenticated is returned when no usable access token exists.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionExpired marks an auth failure that could not be recovered;
	// the session has been purged by the time it is returned.
	ErrSessionExpired = errors.New("session expired")
)

// AuthError is a 401/403 response or an application "invalid token" body.
type AuthError struct {
	Status  int
	Message string
	Err     error // ErrSessionExpired when the session was terminated
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error (%d): %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a connection failure or timeout. Never retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a 4xx business error. Surfaced as-is, never retried.
type ValidationError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request rejected (%d): %s", e.Status, e.Message)
}

// ServerError is a 5xx response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

// IsAuthFailure reports whether err is an auth-shaped failure.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae) || errors.Is(err, ErrNotAuthenticated)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// invalidTokenMessages are application-level bodies that mean the token was
// rejected even when the status code does not say so.
var invalidTokenMessages = map[string]bool{
	"Invalid token":                     true,
	"Access token missing":              true,
	"No auth token found":               true,
	"Invalid or expired token":          true,
	"Access token missing or malformed": true,
}

// errorFor maps a completed response to the error taxonomy; nil for 2xx
// responses that are not auth-shaped.
func errorFor(resp *Response) error {
	msg := resp.message()
	switch {
	case resp.authFailure():
		return &AuthError{Status: resp.Status, Message: msg}
	case resp.Status >= 200 && resp.Status < 300:
		return nil
	case resp.Status >= 500:
		return &ServerError{Status: resp.Status, Message: msg}
	default:
		if msg == "" {
			msg = http.StatusText(resp.Status)
		}
		return &ValidationError{Status: resp.Status, Message: msg, Body: resp.Body}
	}
}
