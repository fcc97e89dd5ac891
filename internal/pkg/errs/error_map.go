/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
wire responses and internal error handling.
*/
package errs

import "relaychat/internal/pkg/wire"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the log message and the wire token.
var errorMap = map[int]CustomError{
	// 1xxx: Admission Errors
	ErrQueueFull:         {Code: ErrQueueFull, Message: "Task queue is full.", Token: wire.QueueFull},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many connections from this address.", Token: wire.QueueFull},

	// 2xxx: Protocol Errors
	ErrUnknownCommand:     {Code: ErrUnknownCommand, Message: "Unknown command.", Token: wire.Unknown},
	ErrUnexpectedResponse: {Code: ErrUnexpectedResponse, Message: "Unexpected response from peer.", Token: wire.FileFail},

	// 3xxx: Validation Errors
	ErrUserFull:        {Code: ErrUserFull, Message: "Registry is full.", Token: wire.UserFull},
	ErrNameTooLong:     {Code: ErrNameTooLong, Message: "Name is too long.", Token: wire.NameExceed},
	ErrNameTaken:       {Code: ErrNameTaken, Message: "Name is already registered.", Token: wire.NameRegistered},
	ErrNotRegistered:   {Code: ErrNotRegistered, Message: "Name is not registered.", Token: wire.NoRegister},
	ErrAlreadyLoggedIn: {Code: ErrAlreadyLoggedIn, Message: "User is already logged in.", Token: wire.LoggedIn},
	ErrTargetOffline:   {Code: ErrTargetOffline, Message: "Target user is offline or does not exist.", Token: wire.Offline},
	ErrNameInvalid:     {Code: ErrNameInvalid, Message: "Name is empty.", Token: wire.Unknown},
	ErrMediaNotFound:   {Code: ErrMediaNotFound, Message: "Media file not found.", Token: wire.FileFail},
	ErrInvalidParams:   {Code: ErrInvalidParams, Message: "Invalid request parameters.", Token: wire.Unknown},
	ErrUserNotFound:    {Code: ErrUserNotFound, Message: "User not found.", Token: wire.Unknown},

	// 4xxx: Handshake and Delivery Errors
	ErrHandshakeFailed: {Code: ErrHandshakeFailed, Message: "Side channel setup failed.", Token: wire.FileFail},
	ErrRelayFailed:     {Code: ErrRelayFailed, Message: "Relay delivery failed.", Token: wire.MesFail},
	ErrFileFailed:      {Code: ErrFileFailed, Message: "File offer could not be delivered.", Token: wire.FileFail},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong.", Token: wire.Unknown},
}
