/*
Package transport abstracts the reliable, ordered byte stream every participant talks over.

Connections are TLS when a *tls.Config is supplied and plain TCP otherwise. Control messages are
read with a single Read call (one TLS record carries one message), envelopes are read with
ReadExact, and binary stream frames use an int32 length prefix.
*/
package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// DefaultHandshakeTimeout bounds the TLS handshake of an accepted connection.
const DefaultHandshakeTimeout = 10 * time.Second

// MaxFrameSize rejects length prefixes that cannot be real video packets.
const MaxFrameSize = 64 << 20

var (
	// ErrClosed is returned when the peer closed the connection.
	ErrClosed = errors.New("connection closed")

	// ErrAcceptTimeout is returned by AcceptWithin when no peer connected in time.
	ErrAcceptTimeout = errors.New("accept timed out")

	// ErrFrameTooLarge is returned by ReadFrame for an implausible length prefix.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Listener accepts connections and upgrades them to TLS before handing them out.
type Listener struct {
	tcp              *net.TCPListener
	tlsConfig        *tls.Config
	handshakeTimeout time.Duration
}

// Listen opens a TCP listener on addr. A nil tlsConfig yields plain connections.
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return &Listener{
		tcp:              ln.(*net.TCPListener),
		tlsConfig:        tlsConfig,
		handshakeTimeout: DefaultHandshakeTimeout,
	}, nil
}

// SetHandshakeTimeout changes the bound on the TLS handshake of accepted connections.
// A zero or negative d keeps the current value.
func (l *Listener) SetHandshakeTimeout(d time.Duration) {
	if d > 0 {
		l.handshakeTimeout = d
	}
}

// Accept waits for the next connection and completes its TLS handshake.
func (l *Listener) Accept() (net.Conn, error) {
	raw, err := l.AcceptRaw()
	if err != nil {
		return nil, err
	}
	return l.Upgrade(context.Background(), raw)
}

// AcceptRaw waits for the next TCP connection without upgrading it. Callers that must not
// block on a slow peer run Upgrade on their own goroutine.
func (l *Listener) AcceptRaw() (net.Conn, error) {
	if err := l.tcp.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return l.tcp.Accept()
}

// AcceptWithin is Accept bounded by d. It returns ErrAcceptTimeout when d elapses.
func (l *Listener) AcceptWithin(d time.Duration) (net.Conn, error) {
	if err := l.tcp.SetDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	defer l.tcp.SetDeadline(time.Time{})

	raw, err := l.tcp.Accept()
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, ErrAcceptTimeout
	}
	if err != nil {
		return nil, err
	}
	return l.Upgrade(context.Background(), raw)
}

// Upgrade completes the TLS handshake of raw, bounded by ctx and the handshake timeout.
// Plain listeners return raw unchanged. On failure raw is closed and a *HandshakeError
// is returned.
func (l *Listener) Upgrade(ctx context.Context, raw net.Conn) (net.Conn, error) {
	if l.tlsConfig == nil {
		return raw, nil
	}

	conn := tls.Server(raw, l.tlsConfig)

	ctx, cancel := context.WithTimeout(ctx, l.handshakeTimeout)
	defer cancel()

	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &HandshakeError{Remote: raw.RemoteAddr(), Err: err}
	}

	return conn, nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}

// Port returns the TCP port the listener is bound to.
func (l *Listener) Port() int {
	return l.tcp.Addr().(*net.TCPAddr).Port
}

// Close stops the listener. Blocked Accept calls return an error.
func (l *Listener) Close() error {
	return l.tcp.Close()
}

// HandshakeError reports a connection that was accepted but failed the TLS upgrade.
// The listener itself is still usable.
type HandshakeError struct {
	Remote net.Addr
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake with %s failed: %v", e.Remote, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Dial connects to addr, performing the TLS handshake when tlsConfig is not nil.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if tlsConfig == nil {
		return raw, nil
	}

	conn := tls.Client(raw, tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
	}

	return conn, nil
}

// ReadMessage performs one Read of at most max bytes and returns what arrived.
// A closed peer yields ErrClosed, never an empty message.
func ReadMessage(conn io.Reader, max int) ([]byte, error) {
	buf := make([]byte, max)

	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrClosed
	}
	return nil, fmt.Errorf("%w: %w", ErrClosed, err)
}

// ReadString is ReadMessage returning the message as a string without NUL padding.
func ReadString(conn io.Reader, max int) (string, error) {
	msg, err := ReadMessage(conn, max)
	if err != nil {
		return "", err
	}
	n := len(msg)
	for n > 0 && msg[n-1] == 0 {
		n--
	}
	return string(msg[:n]), nil
}

// WriteMessage writes msg in a single call.
func WriteMessage(conn io.Writer, msg string) error {
	return WriteBytes(conn, []byte(msg))
}

// WriteBytes writes b in a single call.
func WriteBytes(conn io.Writer, b []byte) error {
	if _, err := conn.Write(b); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// ReadExact reads exactly n bytes, looping over short reads.
func ReadExact(conn io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return buf, nil
}

// WriteFrame writes an int32 little-endian length followed by data, in one call.
func WriteFrame(conn io.Writer, data []byte) error {
	buf := make([]byte, 0, 4+len(data))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	return WriteBytes(conn, buf)
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(conn io.Reader) ([]byte, error) {
	header, err := ReadExact(conn, 4)
	if err != nil {
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(header))
	if size < 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	return ReadExact(conn, int(size))
}

// PeerIP returns the IP part of the connection's remote address.
func PeerIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Shutdown closes conn, sending a TLS close_notify first when applicable.
func Shutdown(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	if tc, ok := conn.(*tls.Conn); ok {
		tc.SetWriteDeadline(time.Now().Add(time.Second))
	}
	return conn.Close()
}
