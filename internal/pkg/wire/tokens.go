/*
Package wire defines the byte-level protocol shared by the relay server and its clients.

This file lists the ASCII command prefixes, response tokens and envelope signals. Commands
and responses are written as whole messages without a terminator; envelopes use the
fixed four-field layout implemented in envelope.go.
*/
package wire

// Admission
const (
	QueueFull  = "queue full"
	AcceptTask = "accept task"
)

// Unauthenticated commands and their responses
const (
	Register        = "register:"
	UserFull        = "user_full"
	NameExceed      = "name_exceed"
	NameRegistered  = "name_registered"
	RegisterSuccess = "register_success"

	Login        = "login:"
	NoRegister   = "no_register"
	LoggedIn     = "logged_in"
	RelaySocket  = "relay_socket"
	FileSocket   = "file_socket"
	AskRcvrPort  = "ask_rcvr_port"
	LoginSuccess = "login_success"

	Exit    = "exit"
	Unknown = "unknown"
)

// Authenticated commands and their responses
const (
	ShowList = "show_list"

	RelayMes   = "relay_mes"
	AskMes     = "ask_mes"
	Offline    = "offline"
	MesFail    = "mes_fail"
	MesSuccess = "mes_success"

	DirectMes = "direct_mes"

	FileTransfer = "file_transfer"
	AskFileName  = "ask_file_name"
	FileFail     = "file_fail"

	Logout        = "logout"
	LogoutSuccess = "logout_success"

	Stream       = "STREAM"
	StreamSocket = "Please connect to streaming socket"
)

// Envelope signals. IsMes keeps its trailing space; peers compare the full field.
const (
	IsMes      = "is_mes "
	IsFile     = "is_file"
	AcceptFile = "accept_file"
	RejectFile = "reject_file"
	AckFile    = "ack_file"
	EndOfFile  = "end_of_file"
)

// StreamConfirm is the single byte a stream receiver sends once connected.
const StreamConfirm = 'Y'
