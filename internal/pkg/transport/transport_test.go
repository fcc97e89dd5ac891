package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/tlsx"
)

func TestReadMessageClosed(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil), 16)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadStringTrimsPadding(t *testing.T) {
	msg, err := ReadString(bytes.NewReader([]byte("logout\x00\x00")), 64)
	require.NoError(t, err)
	assert.Equal(t, "logout", msg)
}

func TestReadExactShortStream(t *testing.T) {
	_, err := ReadExact(bytes.NewReader([]byte("abc")), 5)
	assert.ErrorIs(t, err, ErrClosed)

	got, err := ReadExact(bytes.NewReader([]byte("abcdef")), 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), got)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte{0, 0, 0, 1, 0x67}))
	require.NoError(t, WriteFrame(&buf, nil))

	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x67}, first)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, second)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReadFrameRejectsNegativeSize(t *testing.T) {
	header := binary.LittleEndian.AppendUint32(nil, 0xFFFFFFFF)
	_, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestTLSListenerAndDial(t *testing.T) {
	bundle, err := tlsx.SelfSigned()
	require.NoError(t, err)

	ln, err := Listen("127.0.0.1:0", bundle.Server)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, ln.Addr().String(), bundle.Client)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	require.NotNil(t, server)
	defer server.Close()

	require.NoError(t, WriteMessage(client, "register:alice"))
	msg, err := ReadString(server, 1024)
	require.NoError(t, err)
	assert.Equal(t, "register:alice", msg)
	assert.Equal(t, "127.0.0.1", PeerIP(server))

	require.NoError(t, Shutdown(client))
	_, err = ReadMessage(server, 1024)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAcceptWithinTimesOut(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	start := time.Now()
	_, err = ln.AcceptWithin(50 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrAcceptTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer conn.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	conn, err := ln.AcceptWithin(2 * time.Second)
	require.NoError(t, err)
	conn.Close()
}

func TestUpgradeGivesUpOnSilentPeer(t *testing.T) {
	bundle, err := tlsx.SelfSigned()
	require.NoError(t, err)

	ln, err := Listen("127.0.0.1:0", bundle.Server)
	require.NoError(t, err)
	defer ln.Close()
	ln.SetHandshakeTimeout(100 * time.Millisecond)

	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	raw, err := ln.AcceptRaw()
	require.NoError(t, err)

	start := time.Now()
	_, err = ln.Upgrade(context.Background(), raw)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Less(t, time.Since(start), 2*time.Second)

	// The raw connection was closed, so the peer sees EOF.
	require.NoError(t, silent.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = silent.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestUpgradeHonoursContext(t *testing.T) {
	bundle, err := tlsx.SelfSigned()
	require.NoError(t, err)

	ln, err := Listen("127.0.0.1:0", bundle.Server)
	require.NoError(t, err)
	defer ln.Close()

	silent, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	raw, err := ln.AcceptRaw()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = ln.Upgrade(ctx, raw)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), DefaultHandshakeTimeout)
}
