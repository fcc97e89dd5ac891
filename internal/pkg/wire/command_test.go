package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input  string
		kind   Kind
		arg    string
		target int
	}{
		{input: "register:alice", kind: KindRegister, arg: "alice", target: -1},
		{input: "login:bob", kind: KindLogin, arg: "bob", target: -1},
		{input: "login:bob\x00\x00", kind: KindLogin, arg: "bob", target: -1},
		{input: "exit", kind: KindExit, target: -1},
		{input: "show_list", kind: KindShowList, target: -1},
		{input: "show_list_please", kind: KindUnknown, target: -1},
		{input: "logout", kind: KindLogout, target: -1},
		{input: "relay_mes3", kind: KindRelayMes, target: 3},
		{input: "relay_mes", kind: KindRelayMes, target: -1},
		{input: "relay_mesabc", kind: KindRelayMes, target: -1},
		{input: "direct_mes12", kind: KindDirectMes, target: 12},
		{input: "direct_mes-1", kind: KindDirectMes, target: -1},
		{input: "file_transfer0", kind: KindFileTransfer, target: 0},
		{input: "STREAM movie.h264", kind: KindStream, arg: "movie.h264", target: -1},
		{input: "STREAM", kind: KindUnknown, target: -1},
		{input: "hello", kind: KindUnknown, target: -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd := ParseCommand([]byte(tt.input))
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.arg, cmd.Arg)
			assert.Equal(t, tt.target, cmd.Target)
		})
	}
}

func TestCommandBuilders(t *testing.T) {
	assert.Equal(t, KindRelayMes, ParseCommand([]byte(RelayMesCommand(7))).Kind)
	assert.Equal(t, 7, ParseCommand([]byte(DirectMesCommand(7))).Target)
	assert.Equal(t, 2, ParseCommand([]byte(FileTransferCommand(2))).Target)
	assert.Equal(t, "a.h264", ParseCommand([]byte(StreamCommand("a.h264"))).Arg)
}

func TestStreamAnnouncement(t *testing.T) {
	port, filename, err := ParseStreamAnnouncement(StreamAnnouncement(9532, "clip.h264"))
	require.NoError(t, err)
	assert.Equal(t, 9532, port)
	assert.Equal(t, "clip.h264", filename)

	_, _, err = ParseStreamAnnouncement(FileFail)
	assert.Error(t, err)
}

func TestAddressReply(t *testing.T) {
	ip, port, err := ParseAddressReply(AddressReply("10.0.0.7", 7000))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", ip)
	assert.Equal(t, 7000, port)

	_, _, err = ParseAddressReply(Offline)
	assert.Error(t, err)
}
