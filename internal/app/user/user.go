/*
Package user contains core data structures related to user identity and presence.

It defines the representation of a registered chat participant (the User struct), its presence
status, the address peers use for direct delivery, and the rows of the online-users listing.
*/
package user

import (
	"fmt"
	"net"
	"strconv"
)

// Status is the presence state of a registered user.
type Status int

const (
	// StatusOffline means the user has no authenticated session.
	StatusOffline Status = iota

	// StatusLoggingIn means a session is running the side-channel handshake for this user.
	// The user cannot log in again and cannot receive deliveries yet.
	StatusLoggingIn

	// StatusOnline means the user has a live control connection and both side channels.
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusLoggingIn:
		return "logging_in"
	case StatusOnline:
		return "online"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name written by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusOffline, StatusLoggingIn, StatusOnline} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown user status %q", text)
}

// Address is where peers connect for direct delivery.
type Address struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// String returns the dialable host:port form.
func (a Address) String() string {
	return net.JoinHostPort(a.IP, strconv.Itoa(a.Port))
}

// User represents a registered chat participant.
type User struct {
	// ID is the registration order index. It is never reused.
	ID int `json:"id"`

	// Name is the unique, immutable name chosen at registration.
	Name string `json:"name"`

	// Status is the presence state of the user.
	Status Status `json:"status"`

	// Address is the direct-delivery endpoint recorded at the last login.
	Address Address `json:"address"`
}

// Online reports whether the user can receive deliveries.
func (u User) Online() bool {
	return u.Status == StatusOnline
}

// Summary is one row of the online-users listing, in registration order.
type Summary struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	IsSelf bool   `json:"isSelf,omitempty"`
	Online bool   `json:"online"`
}

// Marker returns the listing column for the row: "YOU " for the caller,
// " *  " for an online user and blanks otherwise.
func (s Summary) Marker() string {
	switch {
	case s.IsSelf:
		return "YOU "
	case s.Online:
		return " *  "
	default:
		return "    "
	}
}

// Line renders the row as "<id>: <marker><name>".
func (s Summary) Line() string {
	return fmt.Sprintf("%2d: %s%s\n", s.ID, s.Marker(), s.Name)
}
