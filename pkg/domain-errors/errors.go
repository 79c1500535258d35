// Package domainerrors defines the coded error taxonomy shared across the
// gateway. Services and stores return these instead of throwing opaque
// failures upward, so every caller handles the failure path explicitly and
// transports can translate codes to status lines without string matching.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error kind.
type Code string

const (
	// CodeUnauthenticated means the request carried no verified identity.
	CodeUnauthenticated Code = "unauthenticated"
	// CodeInvalidSignature means a webhook payload failed signature checks.
	CodeInvalidSignature Code = "invalid_signature"
	// CodeBadRequest means the request was malformed.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound means a referenced record does not exist.
	CodeNotFound Code = "not_found"
	// CodeUpstream means the processor API returned a failure. Retryable.
	CodeUpstream Code = "upstream"
	// CodeInternal means an unexpected local failure.
	CodeInternal Code = "internal"
)

// Error carries a code plus a human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and context to an upstream error, keeping its message
// visible to the caller per the retry/reconcile guidance it may contain.
func Wrap(code Code, context string, err error) *Error {
	if err == nil {
		return New(code, context)
	}
	return &Error{Code: code, Message: context + ": " + err.Error()}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps an error code to its transport status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeInvalidSignature, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
