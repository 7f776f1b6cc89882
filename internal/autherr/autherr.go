// Package autherr defines the error taxonomy for the authentication
// pipeline. Internal causes carry full detail for server logs; the only
// thing a browser ever sees is the coarse Code, so a failed security
// check never reveals which check failed.
package autherr

import (
	"errors"
	"fmt"
)

// Code is the coarse-grained error category surfaced to clients as the
// "error" query parameter on the error redirect.
type Code string

const (
	CodeSignin                Code = "Signin"
	CodeOAuthSignin           Code = "OAuthSignin"
	CodeOAuthCallback         Code = "OAuthCallback"
	CodeOAuthAccountNotLinked Code = "OAuthAccountNotLinked"
	CodeCallback              Code = "Callback"
	CodeConfiguration         Code = "Configuration"
	CodeAccessDenied          Code = "AccessDenied"
	CodeVerification          Code = "Verification"
	CodeCredentialsSignin     Code = "CredentialsSignin"
	CodeSessionRequired       Code = "SessionRequired"
	CodeEmailSignin           Code = "EmailSignin"
)

// Error pairs an internal cause with its public category.
type Error struct {
	Code  Code
	cause error
}

// New wraps cause under the given public category.
func New(code Code, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// Newf is New with fmt.Errorf semantics for the cause.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, cause: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the public category from err, defaulting to the given
// fallback for errors raised outside the taxonomy.
func CodeOf(err error, fallback Code) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return fallback
}
