package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a parsed control command.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegister
	KindLogin
	KindExit
	KindShowList
	KindRelayMes
	KindDirectMes
	KindFileTransfer
	KindStream
	KindLogout
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindRegister:     "register",
	KindLogin:        "login",
	KindExit:         "exit",
	KindShowList:     "show_list",
	KindRelayMes:     "relay_mes",
	KindDirectMes:    "direct_mes",
	KindFileTransfer: "file_transfer",
	KindStream:       "stream",
	KindLogout:       "logout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is one parsed control message.
type Command struct {
	Kind Kind

	// Arg is the name for register/login and the filename for STREAM.
	Arg string

	// Target is the user id for relay_mes, direct_mes and file_transfer. It is -1 when
	// the id is missing or not a number, which no user can match.
	Target int

	// Raw is the message as received, without trailing NUL bytes.
	Raw string
}

// Text returns msg as a string without trailing NUL padding.
func Text(msg []byte) string {
	return string(bytes.TrimRight(msg, "\x00"))
}

// ParseCommand classifies a control message. Prefix commands match by prefix,
// show_list, logout and exit must match exactly.
func ParseCommand(msg []byte) Command {
	raw := Text(msg)
	cmd := Command{Kind: KindUnknown, Target: -1, Raw: raw}

	switch {
	case strings.HasPrefix(raw, Register):
		cmd.Kind = KindRegister
		cmd.Arg = raw[len(Register):]
	case strings.HasPrefix(raw, Login):
		cmd.Kind = KindLogin
		cmd.Arg = raw[len(Login):]
	case raw == Exit:
		cmd.Kind = KindExit
	case raw == ShowList:
		cmd.Kind = KindShowList
	case raw == Logout:
		cmd.Kind = KindLogout
	case strings.HasPrefix(raw, RelayMes):
		cmd.Kind = KindRelayMes
		cmd.Target = parseTarget(raw[len(RelayMes):])
	case strings.HasPrefix(raw, DirectMes):
		cmd.Kind = KindDirectMes
		cmd.Target = parseTarget(raw[len(DirectMes):])
	case strings.HasPrefix(raw, FileTransfer):
		cmd.Kind = KindFileTransfer
		cmd.Target = parseTarget(raw[len(FileTransfer):])
	case strings.HasPrefix(raw, Stream+" "):
		cmd.Kind = KindStream
		cmd.Arg = strings.TrimSpace(raw[len(Stream)+1:])
	}

	return cmd
}

func parseTarget(s string) int {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id < 0 {
		return -1
	}
	return id
}

// RelayMesCommand builds "relay_mes<id>".
func RelayMesCommand(id int) string { return RelayMes + strconv.Itoa(id) }

// DirectMesCommand builds "direct_mes<id>".
func DirectMesCommand(id int) string { return DirectMes + strconv.Itoa(id) }

// FileTransferCommand builds "file_transfer<id>".
func FileTransferCommand(id int) string { return FileTransfer + strconv.Itoa(id) }

// StreamCommand builds "STREAM <filename>".
func StreamCommand(filename string) string { return Stream + " " + filename }

// StreamAnnouncement builds the reply to a stream request.
func StreamAnnouncement(port int, filename string) string {
	return fmt.Sprintf("%s %d %s", StreamSocket, port, filename)
}

// ParseStreamAnnouncement extracts the port and filename from a stream reply.
func ParseStreamAnnouncement(msg string) (int, string, error) {
	rest, ok := strings.CutPrefix(msg, StreamSocket+" ")
	if !ok {
		return 0, "", fmt.Errorf("not a stream announcement: %q", msg)
	}
	portStr, filename, _ := strings.Cut(rest, " ")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, "", fmt.Errorf("invalid stream port %q: %w", portStr, err)
	}
	return port, filename, nil
}

// AddressReply formats the direct_mes answer "<ip> <port>".
func AddressReply(ip string, port int) string {
	return fmt.Sprintf("%s %d", ip, port)
}

// ParseAddressReply parses "<ip> <port>".
func ParseAddressReply(msg string) (string, int, error) {
	fields := strings.Fields(msg)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("malformed address reply %q", msg)
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in address reply %q: %w", msg, err)
	}
	return fields[0], port, nil
}
