/*
Package errs provides custom error types and application-level error code constants.

This file defines the CustomError struct, which implements the standard Go error interface
and includes a business code, a log-friendly message, and the wire token sent to the client.
*/
package errs

import (
	"errors"
	"fmt"

	"relaychat/internal/pkg/logx"
)

// CustomError is the custom error structure used throughout the application.
// It wraps the Go error interface, adding a business code and the wire response token.
type CustomError struct {
	// Code is the business error code (see constants definition).
	Code int

	// Message is the human-readable error description used in logs.
	Message string

	// Token is the short ASCII response written to the client for this error.
	Token string
}

// Error implements the standard Go error interface. It returns a formatted
// error string containing the error code, wire token, and message.
func (e CustomError) Error() string {
	return fmt.Sprintf("Error Code %d (%s): %s", e.Code, e.Token, e.Message)
}

// Is reports whether target is a CustomError with the same code.
func (e *CustomError) Is(target error) bool {
	var other *CustomError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NewError constructs and returns a new *CustomError instance based on a predefined error code.
// If an unknown code is provided, it defaults to returning ErrUnknown.
func NewError(code int) *CustomError {
	templateErr, ok := errorMap[code]

	if !ok {
		logx.Error(
			fmt.Errorf("attempted to create an error with an unknown code in errorMap"),
			"Unknown error code requested",
			"requested_code", code,
		)

		unknownErr := errorMap[ErrUnknown]
		return &unknownErr
	}

	customErr := templateErr
	return &customErr
}

// TokenOf returns the wire token for err, falling back to the ErrUnknown token
// for errors that are not CustomErrors.
func TokenOf(err error) string {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Token
	}
	return errorMap[ErrUnknown].Token
}

// CodeOf returns the business code for err, or ErrUnknown.
func CodeOf(err error) int {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Code
	}
	return ErrUnknown
}
