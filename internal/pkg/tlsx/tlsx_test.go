package tlsx

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSignedHandshake(t *testing.T) {
	bundle, err := SelfSigned()
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", bundle.Server)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			accepted <- err
			return
		}
		defer conn.Close()
		accepted <- conn.(*tls.Conn).Handshake()
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), bundle.Client)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, <-accepted)
	assert.GreaterOrEqual(t, conn.ConnectionState().Version, uint16(tls.VersionTLS12))
}

func TestSelfSignedRejectsOtherHosts(t *testing.T) {
	bundle, err := SelfSigned("relay.internal")
	require.NoError(t, err)

	client := ClientConfig(bundle.Client.RootCAs, "other.internal")

	server, peer := net.Pipe()
	defer server.Close()
	defer peer.Close()

	go tls.Server(server, bundle.Server).Handshake()

	err = tls.Client(peer, client).Handshake()
	assert.Error(t, err)
}

func TestLoadServerConfigMissingFiles(t *testing.T) {
	_, err := LoadServerConfig("missing.crt", "missing.key")
	assert.Error(t, err)
}
