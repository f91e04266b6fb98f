package models

import "fmt"

// ValidationError reports input rejected locally, before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// AuthError reports a missing, rejected, or expired credential. Any
// authenticated call can produce one; the session must be torn down when it
// does.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "not authenticated"
	}
	return e.Reason
}

func NewAuthError(reason string) *AuthError {
	return &AuthError{Reason: reason}
}

// NetworkError wraps a transport failure where no response arrived.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError carries a non-2xx response whose detail message is surfaced
// to the user verbatim.
type ServerError struct {
	StatusCode int
	Detail     string
}

func (e *ServerError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// SendError reports a failed message send after its optimistic entry has
// been rolled back.
type SendError struct {
	ChatID int64
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to chat %d failed: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// RegisteredLoginFailedError distinguishes "account created but the chained
// login failed" from a plain auth failure, so the caller can tell the user
// to log in manually.
type RegisteredLoginFailedError struct {
	Username string
	Err      error
}

func (e *RegisteredLoginFailedError) Error() string {
	return fmt.Sprintf("account %q registered but login failed: %v", e.Username, e.Err)
}

func (e *RegisteredLoginFailedError) Unwrap() error { return e.Err }
