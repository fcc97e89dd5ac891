/*
Package client implements the peer side of the relay protocol.

This file implements the background receive loops: relayed messages on the relay channel,
file offers and chunks on the file channel, and direct messages on the receiver listener.
*/
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// directReadTimeout bounds the wait for a direct sender's envelope.
const directReadTimeout = 10 * time.Second

// Confirmer decides whether to accept a file offered by another user.
type Confirmer interface {
	ConfirmFile(from, filename string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(from, filename string) bool

// ConfirmFile calls f(from, filename).
func (f ConfirmFunc) ConfirmFile(from, filename string) bool {
	return f(from, filename)
}

// File is the outcome of an accepted file transfer.
type File struct {
	From string
	Name string

	// Path is where the content was written.
	Path string
	Size int64

	// Err is set when the transfer broke off or the content could not be stored.
	Err error
}

func (c *Client) deliverMessage(m Message) {
	select {
	case c.messages <- m:
	case <-c.closed:
	}
}

func (c *Client) deliverFile(f File) {
	select {
	case c.files <- f:
	case <-c.closed:
	}
}

// receiveRelay reads is_mes envelopes until the relay channel closes.
func (c *Client) receiveRelay(relay net.Conn) {
	defer c.wg.Done()

	for {
		buf, err := transport.ReadExact(relay, c.cfg.Layout.TotalSize)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Relay channel closed.")
			return
		}

		env := c.cfg.Layout.Decode(buf)
		if env.Signal != wire.IsMes {
			c.logger.Warn().Str("signal", env.Signal).Msg("Unexpected signal on relay channel.")
			continue
		}

		c.deliverMessage(Message{From: env.From, To: env.To, Text: env.Payload})
	}
}

// receiveFiles answers file offers until the file channel closes.
func (c *Client) receiveFiles(file net.Conn) {
	defer c.wg.Done()

	for {
		buf, err := transport.ReadExact(file, c.cfg.Layout.TotalSize)
		if err != nil {
			c.logger.Debug().Err(err).Msg("File channel closed.")
			return
		}

		env := c.cfg.Layout.Decode(buf)
		if env.Signal != wire.IsFile {
			c.logger.Warn().Str("signal", env.Signal).Msg("Unexpected signal on file channel.")
			continue
		}

		if err := c.answerOffer(file, env.From, env.Payload); err != nil {
			c.logger.Debug().Err(err).Msg("File channel closed during transfer.")
			return
		}
	}
}

// answerOffer confirms or rejects one offer and, when accepted, receives the chunks.
// The returned error is a file channel failure.
func (c *Client) answerOffer(file net.Conn, from, filename string) error {
	logger := c.logger.With().Str("from", from).Str("file", filename).Logger()

	if c.cfg.Confirmer == nil || !c.cfg.Confirmer.ConfirmFile(from, filename) {
		logger.Info().Msg("File offer rejected.")
		return transport.WriteMessage(file, wire.RejectFile)
	}

	path := filepath.Join(c.cfg.DownloadDir, filepath.Base(filename))
	out, err := os.Create(path)
	if err != nil {
		logger.Warn().Err(err).Msg("Cannot store file. Offer rejected.")
		return transport.WriteMessage(file, wire.RejectFile)
	}
	defer out.Close()

	if err := transport.WriteMessage(file, wire.AcceptFile); err != nil {
		return err
	}

	result := File{From: from, Name: filename, Path: path}
	result.Size, result.Err = c.receiveChunks(file, out)
	c.deliverFile(result)

	if result.Err != nil && errors.Is(result.Err, transport.ErrClosed) {
		return result.Err
	}

	logger.Info().Int64("bytes", result.Size).Msg("File received.")
	return nil
}

// receiveChunks writes chunks to out and acknowledges each until end_of_file. A local
// write failure keeps the lock-step going and is reported once the sender finishes.
func (c *Client) receiveChunks(file net.Conn, out io.Writer) (int64, error) {
	var size int64
	var writeErr error

	for {
		chunk, err := transport.ReadMessage(file, c.cfg.Layout.TotalSize)
		if err != nil {
			return size, err
		}
		if string(chunk) == wire.EndOfFile {
			return size, writeErr
		}

		if writeErr == nil {
			n, err := out.Write(chunk)
			size += int64(n)
			if err != nil {
				writeErr = fmt.Errorf("failed to write file: %w", err)
			}
		}

		if err := transport.WriteMessage(file, wire.AckFile); err != nil {
			return size, fmt.Errorf("%w: %w", transport.ErrClosed, err)
		}
	}
}

// acceptDirect serves the receiver listener. Each peer connection carries one envelope.
func (c *Client) acceptDirect() {
	defer c.wg.Done()

	for {
		conn, err := c.receiver.Accept()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn().Err(err).Msg("Direct receiver stopped.")
			}
			return
		}

		c.readDirect(conn)
	}
}

func (c *Client) readDirect(conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(directReadTimeout))

	buf, err := transport.ReadExact(conn, c.cfg.Layout.TotalSize)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", conn.RemoteAddr().String()).Msg("Direct message incomplete.")
		return
	}

	env := c.cfg.Layout.Decode(buf)
	if env.Signal != wire.IsMes {
		c.logger.Warn().Str("signal", env.Signal).Msg("Unexpected signal on direct connection.")
		return
	}

	c.deliverMessage(Message{From: env.From, To: env.To, Text: env.Payload, Direct: true})
}
