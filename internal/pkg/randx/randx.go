/*
Package randx provides functions for generating unique identifiers.

Session and stream identifiers are UUID v4 strings; they only correlate log lines and admin
API output and never appear on the wire.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

// SessionID generates a standard UUID v4 string identifying one accepted control connection.
func SessionID() string {
	return uuid.New().String()
}

// StreamID generates a short identifier for a streaming task.
func StreamID() string {
	id := uuid.New().String()
	return "stream_" + id[:strings.IndexByte(id, '-')]
}

// IsValidSessionID checks if the given string parses as a UUID.
func IsValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
