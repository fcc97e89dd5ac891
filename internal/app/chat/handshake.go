/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file implements the side-channel handshake run during login: the client opens its relay
and file connections on the shared side port, then reports its receiver port.
*/
package chat

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// sideHandshaker accepts both side channels of a login on the shared side listener.
type sideHandshaker struct {
	side       *transport.Listener
	timeout    time.Duration
	bufferSize int

	// mu serialises logins so the two accepts on the side port belong to the same client.
	mu sync.Mutex
}

func newSideHandshaker(side *transport.Listener, timeout time.Duration, bufferSize int) *sideHandshaker {
	return &sideHandshaker{side: side, timeout: timeout, bufferSize: bufferSize}
}

// Handshake runs relay_socket, file_socket and ask_rcvr_port in order. Failures on the side
// port are returned as ErrHandshakeFailed; failures on the primary connection wrap
// transport.ErrClosed and end the session.
func (h *sideHandshaker) Handshake(primary net.Conn) (SideChannels, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var channels SideChannels
	ok := false
	defer func() {
		if !ok {
			channels.Close()
		}
	}()

	relay, err := h.openSideChannel(primary, wire.RelaySocket)
	if err != nil {
		return SideChannels{}, err
	}
	channels.Relay = relay

	file, err := h.openSideChannel(primary, wire.FileSocket)
	if err != nil {
		return SideChannels{}, err
	}
	channels.File = file

	if err := transport.WriteMessage(primary, wire.AskRcvrPort); err != nil {
		return SideChannels{}, fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}

	answer, err := transport.ReadString(primary, h.bufferSize)
	if err != nil {
		return SideChannels{}, err
	}

	port, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || port < 0 || port > 65535 {
		return SideChannels{}, fmt.Errorf("%w: invalid receiver port %q", errs.NewError(errs.ErrHandshakeFailed), answer)
	}
	channels.ReceiverPort = port

	ok = true
	return channels, nil
}

// openSideChannel announces token on the primary connection and accepts the client's
// connection on the side port.
func (h *sideHandshaker) openSideChannel(primary net.Conn, token string) (net.Conn, error) {
	if err := transport.WriteMessage(primary, token); err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}

	conn, err := h.side.AcceptWithin(h.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: accepting %s: %w", errs.NewError(errs.ErrHandshakeFailed), token, err)
	}

	return conn, nil
}
