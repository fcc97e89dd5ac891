/*
Package errs provides custom error types and application-level error code constants.

These error codes identify the failures of the relay protocol both internally within the
server and, through their wire tokens, in the responses sent to clients.
*/
package errs

// 1xxx: Admission Errors
const (
	// ErrQueueFull indicates that the task queue had no free slot for a new connection.
	ErrQueueFull = 1001

	// ErrRateLimitExceeded indicates that the remote address opened connections too quickly.
	ErrRateLimitExceeded = 1002
)

// 2xxx: Protocol Errors
const (
	// ErrUnknownCommand indicates that the command token was not recognised in the current state.
	ErrUnknownCommand = 2001

	// ErrUnexpectedResponse indicates that the peer answered with a token other than the one expected.
	ErrUnexpectedResponse = 2002
)

// 3xxx: Validation Errors
const (
	// ErrUserFull indicates that the registry reached its maximum number of users.
	ErrUserFull = 3001

	// ErrNameTooLong indicates that the requested name does not fit in the name field.
	ErrNameTooLong = 3002

	// ErrNameTaken indicates that the requested name is already registered.
	ErrNameTaken = 3003

	// ErrNotRegistered indicates a login for a name that was never registered.
	ErrNotRegistered = 3004

	// ErrAlreadyLoggedIn indicates a login for a user that already has a session.
	ErrAlreadyLoggedIn = 3005

	// ErrTargetOffline indicates that the target id is out of range or its user is offline.
	ErrTargetOffline = 3006

	// ErrNameInvalid indicates an empty name.
	ErrNameInvalid = 3007

	// ErrMediaNotFound indicates a stream request for a file that does not exist.
	ErrMediaNotFound = 3008

	// ErrInvalidParams indicates a malformed admin API request.
	ErrInvalidParams = 3009

	// ErrUserNotFound indicates an admin API lookup for an unknown user ID.
	ErrUserNotFound = 3010
)

// 4xxx: Handshake and Delivery Errors
const (
	// ErrHandshakeFailed indicates that the side-channel setup during login did not complete.
	ErrHandshakeFailed = 4001

	// ErrRelayFailed indicates that writing to the target's relay channel failed.
	ErrRelayFailed = 4002

	// ErrFileFailed indicates that the file offer could not be delivered to the target.
	ErrFileFailed = 4003
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
