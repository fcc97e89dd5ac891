package chat

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// quiet is how long a connection must stay silent to count as not answered.
const quiet = 200 * time.Millisecond

// rawUser is a logged-in user driven over the wire without the client package.
type rawUser struct {
	name  string
	ctrl  net.Conn
	relay net.Conn
	file  net.Conn
}

func (e *testEnv) dialRaw(t *testing.T, addr string) net.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	conn, err := transport.Dial(ctx, addr, e.bundle.Client)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// rawLogin registers name and walks the login handshake by hand.
func (e *testEnv) rawLogin(t *testing.T, name string) *rawUser {
	t.Helper()

	side := net.JoinHostPort("127.0.0.1", strconv.Itoa(e.srv.SidePort()))
	u := &rawUser{name: name, ctrl: e.dialRaw(t, e.srv.Addr().String())}

	expectReply(t, u.ctrl, wire.AcceptTask)
	exchange(t, u.ctrl, wire.Register+name, wire.RegisterSuccess)

	exchange(t, u.ctrl, wire.Login+name, wire.RelaySocket)
	u.relay = e.dialRaw(t, side)

	expectReply(t, u.ctrl, wire.FileSocket)
	u.file = e.dialRaw(t, side)

	expectReply(t, u.ctrl, wire.AskRcvrPort)
	exchange(t, u.ctrl, "7000", wire.LoginSuccess)
	return u
}

func expectReply(t *testing.T, conn net.Conn, want string) {
	t.Helper()

	got, err := transport.ReadString(conn, wire.DefaultTotalSize)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func exchange(t *testing.T, conn net.Conn, msg, want string) {
	t.Helper()

	require.NoError(t, transport.WriteMessage(conn, msg))
	expectReply(t, conn, want)
}

// readAsync performs one read on conn in the background.
func readAsync(conn net.Conn) <-chan string {
	out := make(chan string, 1)
	go func() {
		msg, err := transport.ReadString(conn, wire.DefaultTotalSize)
		if err != nil {
			msg = "read error: " + err.Error()
		}
		out <- msg
	}()
	return out
}

func requireSilent(t *testing.T, replies <-chan string) {
	t.Helper()

	select {
	case msg := <-replies:
		t.Fatalf("unexpected reply %q", msg)
	case <-time.After(quiet):
	}
}

func receive(t *testing.T, replies <-chan string) string {
	t.Helper()

	select {
	case msg := <-replies:
		return msg
	case <-time.After(waitFor):
		t.Fatal("no reply")
		return ""
	}
}

// offerFile runs file_transfer from sender to target id 1 up to the target's decision.
func offerFile(t *testing.T, env *testEnv, sender, target *rawUser, filename string) {
	t.Helper()

	exchange(t, sender.ctrl, wire.FileTransferCommand(1), wire.AskFileName)
	require.NoError(t, transport.WriteMessage(sender.ctrl, filename))

	buf, err := transport.ReadExact(target.file, env.srv.Layout().TotalSize)
	require.NoError(t, err)
	offer := env.srv.Layout().Decode(buf)
	require.Equal(t, wire.IsFile, offer.Signal)
	require.Equal(t, sender.name, offer.From)
	require.Equal(t, filename, offer.Payload)
}

func TestFileRelayWaitsForTargetAck(t *testing.T) {
	env := startServer(t, nil)

	alice := env.rawLogin(t, "alice")
	bob := env.rawLogin(t, "bob")

	offerFile(t, env, alice, bob, "notes.txt")
	require.NoError(t, transport.WriteMessage(bob.file, wire.AcceptFile))
	expectReply(t, alice.ctrl, wire.AcceptFile)

	for _, chunk := range []string{"first chunk", "second chunk"} {
		require.NoError(t, transport.WriteMessage(alice.ctrl, chunk))
		expectReply(t, bob.file, chunk)

		// Nothing reaches the sender until the target acknowledges.
		replies := readAsync(alice.ctrl)
		requireSilent(t, replies)

		require.NoError(t, transport.WriteMessage(bob.file, wire.AckFile))
		assert.Equal(t, wire.AckFile, receive(t, replies))
	}

	require.NoError(t, transport.WriteMessage(alice.ctrl, wire.EndOfFile))
	expectReply(t, bob.file, wire.EndOfFile)

	// end_of_file is not acknowledged; the next reply belongs to show_list.
	replies := readAsync(alice.ctrl)
	requireSilent(t, replies)

	require.NoError(t, transport.WriteMessage(alice.ctrl, wire.ShowList))
	assert.Contains(t, receive(t, replies), "YOU alice")
}

func TestFileRelayTargetFailure(t *testing.T) {
	tests := []struct {
		name string
		fail func(t *testing.T, target *rawUser)
	}{
		{
			name: "target closes file channel",
			fail: func(t *testing.T, target *rawUser) {
				require.NoError(t, target.file.Close())
			},
		},
		{
			name: "target answers something else",
			fail: func(t *testing.T, target *rawUser) {
				require.NoError(t, transport.WriteMessage(target.file, "resend"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := startServer(t, nil)

			alice := env.rawLogin(t, "alice")
			bob := env.rawLogin(t, "bob")

			offerFile(t, env, alice, bob, "notes.txt")
			require.NoError(t, transport.WriteMessage(bob.file, wire.AcceptFile))
			expectReply(t, alice.ctrl, wire.AcceptFile)

			require.NoError(t, transport.WriteMessage(alice.ctrl, "first chunk"))
			expectReply(t, bob.file, "first chunk")

			tt.fail(t, bob)
			expectReply(t, alice.ctrl, wire.FileFail)

			// The rest of the file is drained and refused chunk by chunk.
			exchange(t, alice.ctrl, "second chunk", wire.FileFail)
			exchange(t, alice.ctrl, "third chunk", wire.FileFail)
			require.NoError(t, transport.WriteMessage(alice.ctrl, wire.EndOfFile))

			replies := readAsync(alice.ctrl)
			requireSilent(t, replies)

			require.NoError(t, transport.WriteMessage(alice.ctrl, wire.ShowList))
			assert.Contains(t, receive(t, replies), "YOU alice")
		})
	}
}
