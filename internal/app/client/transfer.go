/*
Package client implements the peer side of the relay protocol.

This file implements the sending side of a server relayed file transfer and the stream reader.
*/
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// SendFile offers the file at path to the user with the given ID and, once accepted, sends it
// chunk by chunk, waiting for the server's ack_file after each chunk. A refusal before the
// transfer is returned as a ResponseError; a missing acknowledgement stops the transfer.
func (c *Client) SendFile(target int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	command := wire.FileTransferCommand(target)
	if err := c.expect(command, wire.AskFileName); err != nil {
		return err
	}
	if err := c.expectAs(command, filepath.Base(path), wire.AcceptFile); err != nil {
		return err
	}

	logger := c.logger.With().Int("target", target).Str("file", path).Logger()

	sendErr := c.sendChunks(command, f)

	// end_of_file closes the transfer on the server whatever happened above.
	if err := transport.WriteMessage(c.conn, wire.EndOfFile); err != nil {
		return err
	}

	if sendErr != nil {
		logger.Warn().Err(sendErr).Msg("File transfer stopped.")
		return sendErr
	}

	logger.Info().Msg("File sent.")
	return nil
}

func (c *Client) sendChunks(command string, r io.Reader) error {
	buf := make([]byte, c.cfg.Layout.TotalSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := c.expectAs(command, string(buf[:n]), wire.AckFile); err != nil {
				return err
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to read file: %w", readErr)
		}
	}
}

// StreamReader receives the frames of one stream.
type StreamReader struct {
	conn net.Conn

	// Filename is the file named in the server's announcement.
	Filename string

	// Extradata is the codec parameter frame sent before the first packet.
	Extradata []byte
}

// Next returns the next frame, or io.EOF once the server has finished the stream.
func (s *StreamReader) Next() ([]byte, error) {
	frame, err := transport.ReadFrame(s.conn)
	if errors.Is(err, transport.ErrClosed) {
		return nil, io.EOF
	}
	return frame, err
}

// Close drops the stream connection.
func (s *StreamReader) Close() error {
	return transport.Shutdown(s.conn)
}

// Stream requests filename, connects to the announced stream port, confirms and reads the
// extradata frame.
func (c *Client) Stream(ctx context.Context, filename string) (*StreamReader, error) {
	c.mu.Lock()
	command := wire.StreamCommand(filename)
	reply, err := c.exchange(command)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	port, announced, err := wire.ParseStreamAnnouncement(reply)
	if err != nil {
		return nil, &ResponseError{Command: command, Token: reply}
	}

	host, _, err := net.SplitHostPort(c.cfg.ServerAddr)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, err := transport.Dial(dialCtx, net.JoinHostPort(host, strconv.Itoa(port)), c.cfg.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream port %d: %w", port, err)
	}

	if err := transport.WriteBytes(conn, []byte{wire.StreamConfirm}); err != nil {
		conn.Close()
		return nil, err
	}

	extradata, err := transport.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &StreamReader{conn: conn, Filename: announced, Extradata: extradata}, nil
}
