/*
Package client implements the peer side of the relay protocol.

A Client owns one control connection to the server. After login it also holds the relay and
file side channels, each drained by a background goroutine, and a plain TCP receiver that
accepts direct messages from other peers.

This file defines the Client, its configuration and the request-response control operations.
*/
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// maxReply bounds a control reply. It covers a full TLS record, which fits any user listing.
const maxReply = 16 << 10

// defaultDialTimeout applies when Config.DialTimeout is zero.
const defaultDialTimeout = 10 * time.Second

// ErrQueueFull is returned by Connect when the server refused the connection at admission.
var ErrQueueFull = errors.New("server task queue is full")

// ResponseError is a refusal token sent by the server in reply to a command.
type ResponseError struct {
	Command string
	Token   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s refused by server: %s", e.Command, e.Token)
}

// Config holds the settings of a Client.
type Config struct {
	// ServerAddr is the host:port of the control listener.
	ServerAddr string

	// SidePort is the server port the relay and file channels are opened on.
	SidePort int

	// TLSConfig secures the control, side and stream connections. Nil means plain TCP.
	TLSConfig *tls.Config

	// Layout must match the server's envelope layout.
	Layout wire.Layout

	// ReceiverAddr is where direct messages are accepted. Defaults to ":0".
	ReceiverAddr string

	// DownloadDir receives accepted files. Defaults to the working directory.
	DownloadDir string

	// Confirmer decides on incoming file offers. Nil rejects every offer.
	Confirmer Confirmer

	DialTimeout time.Duration
}

// Message is a chat message delivered by relay or directly by a peer.
type Message struct {
	From   string
	To     string
	Text   string
	Direct bool
}

// Client is one connected peer.
type Client struct {
	cfg  Config
	conn net.Conn

	// mu serialises request-response exchanges on the control connection.
	mu   sync.Mutex
	name string

	relay    net.Conn
	file     net.Conn
	receiver *transport.Listener

	messages chan Message
	files    chan File

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger zerolog.Logger
}

// Connect dials the server and waits until a worker picks up the connection.
// It returns ErrQueueFull when the server refused the connection.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Layout.TotalSize == 0 {
		cfg.Layout = wire.DefaultLayout
	}
	if cfg.ReceiverAddr == "" {
		cfg.ReceiverAddr = ":0"
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "."
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := transport.Dial(dialCtx, cfg.ServerAddr, cfg.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ServerAddr, err)
	}

	greeting, err := transport.ReadString(conn, maxReply)
	if err != nil {
		conn.Close()
		return nil, err
	}

	switch greeting {
	case wire.AcceptTask:
	case wire.QueueFull:
		transport.Shutdown(conn)
		return nil, ErrQueueFull
	default:
		transport.Shutdown(conn)
		return nil, fmt.Errorf("unexpected greeting %q", greeting)
	}

	receiver, err := transport.Listen(cfg.ReceiverAddr, nil)
	if err != nil {
		transport.Shutdown(conn)
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		conn:     conn,
		receiver: receiver,
		messages: make(chan Message, 32),
		files:    make(chan File, 8),
		closed:   make(chan struct{}),
		logger:   logx.Component("Client"),
	}

	c.wg.Add(1)
	go c.acceptDirect()

	return c, nil
}

// exchange writes one command and reads one reply.
func (c *Client) exchange(command string) (string, error) {
	if err := transport.WriteMessage(c.conn, command); err != nil {
		return "", err
	}
	return transport.ReadString(c.conn, maxReply)
}

// expect runs exchange and turns any reply other than want into a ResponseError.
func (c *Client) expect(command, want string) error {
	return c.expectAs(command, command, want)
}

// expectAs is expect for a message that answers a prompt of command.
func (c *Client) expectAs(command, msg, want string) error {
	reply, err := c.exchange(msg)
	if err != nil {
		return err
	}
	if reply != want {
		return &ResponseError{Command: command, Token: reply}
	}
	return nil
}

// Register creates an account for name.
func (c *Client) Register(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.expect(wire.Register+name, wire.RegisterSuccess)
}

// Login authenticates as name, opens both side channels and starts their receive loops.
func (c *Client) Login(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := wire.Login + name

	if err := c.expect(command, wire.RelaySocket); err != nil {
		return err
	}
	relay, err := c.dialSide(ctx)
	if err != nil {
		return err
	}

	if err := c.awaitToken(command, wire.FileSocket); err != nil {
		relay.Close()
		return err
	}
	file, err := c.dialSide(ctx)
	if err != nil {
		relay.Close()
		return err
	}

	closeBoth := func() {
		transport.Shutdown(relay)
		transport.Shutdown(file)
	}

	if err := c.awaitToken(command, wire.AskRcvrPort); err != nil {
		closeBoth()
		return err
	}
	if err := c.expectAs(command, strconv.Itoa(c.receiver.Port()), wire.LoginSuccess); err != nil {
		closeBoth()
		return err
	}

	c.name = name
	c.relay = relay
	c.file = file

	c.wg.Add(2)
	go c.receiveRelay(relay)
	go c.receiveFiles(file)

	c.logger.Info().Str("user", name).Int("receiver_port", c.receiver.Port()).Msg("Logged in.")
	return nil
}

func (c *Client) awaitToken(command, want string) error {
	reply, err := transport.ReadString(c.conn, maxReply)
	if err != nil {
		return err
	}
	if reply != want {
		return &ResponseError{Command: command, Token: reply}
	}
	return nil
}

func (c *Client) dialSide(ctx context.Context) (net.Conn, error) {
	host, _, err := net.SplitHostPort(c.cfg.ServerAddr)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	return transport.Dial(dialCtx, net.JoinHostPort(host, strconv.Itoa(c.cfg.SidePort)), c.cfg.TLSConfig)
}

// ShowList returns the server's user listing.
func (c *Client) ShowList() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exchange(wire.ShowList)
}

// RelayMessage sends text to the user with the given ID through the server.
func (c *Client) RelayMessage(target int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	command := wire.RelayMesCommand(target)
	if err := c.expect(command, wire.AskMes); err != nil {
		return err
	}
	return c.expectAs(command, text, wire.MesSuccess)
}

// DirectMessage asks the server for the target's receiver address and delivers text
// to that peer without further server involvement.
func (c *Client) DirectMessage(ctx context.Context, target int, text string) error {
	c.mu.Lock()
	command := wire.DirectMesCommand(target)
	reply, err := c.exchange(command)
	from := c.name
	c.mu.Unlock()
	if err != nil {
		return err
	}

	ip, port, err := wire.ParseAddressReply(reply)
	if err != nil {
		return &ResponseError{Command: command, Token: reply}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	peer, err := transport.Dial(dialCtx, net.JoinHostPort(ip, strconv.Itoa(port)), nil)
	if err != nil {
		return fmt.Errorf("failed to reach peer at %s:%d: %w", ip, port, err)
	}
	defer peer.Close()

	return transport.WriteBytes(peer, c.cfg.Layout.EncodeEnvelope(wire.Envelope{Signal: wire.IsMes, From: from, Payload: text}))
}

// Logout ends the authenticated session and closes the client.
func (c *Client) Logout() error {
	c.mu.Lock()
	err := c.expect(wire.Logout, wire.LogoutSuccess)
	c.mu.Unlock()

	c.Close()
	return err
}

// Exit leaves an unauthenticated session and closes the client.
func (c *Client) Exit() error {
	c.mu.Lock()
	err := transport.WriteMessage(c.conn, wire.Exit)
	c.mu.Unlock()

	c.Close()
	return err
}

// Name returns the logged-in user name, or "" before login.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// ReceiverPort returns the port direct messages are accepted on.
func (c *Client) ReceiverPort() int {
	return c.receiver.Port()
}

// Messages delivers relayed and direct messages. It is closed by Close.
func (c *Client) Messages() <-chan Message {
	return c.messages
}

// Files delivers the outcome of every accepted file transfer. It is closed by Close.
func (c *Client) Files() <-chan File {
	return c.files
}

// Close shuts every connection and waits for the receive loops to exit.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		transport.Shutdown(c.conn)

		c.mu.Lock()
		relay, file := c.relay, c.file
		c.mu.Unlock()

		transport.Shutdown(relay)
		transport.Shutdown(file)
		c.receiver.Close()

		c.wg.Wait()
		close(c.messages)
		close(c.files)
	})
}
