/*
Package stream serves video files to clients over a dedicated streaming connection.

This file implements the Service: it validates a STREAM request, announces the stream port on
the control connection and runs one goroutine per stream that pumps paced frames.
*/
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// Config holds the Service settings.
type Config struct {
	// MediaDir is the only directory files are served from.
	MediaDir string

	// AcceptTimeout bounds the wait for the client's stream connection and its confirmation.
	AcceptTimeout time.Duration

	// FrameInterval is the pause after each frame. Zero sends frames back to back.
	FrameInterval time.Duration
}

// Service answers STREAM requests.
type Service struct {
	ln     *transport.Listener
	cfg    Config
	opener Opener

	// acceptMu hands the stream listener to one waiting stream at a time.
	acceptMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active atomic.Int64
	logger zerolog.Logger
}

// NewService creates a Service accepting stream connections on ln.
func NewService(ln *transport.Listener, cfg Config, opener Opener) *Service {
	if opener == nil {
		opener = AnnexB
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		ln:     ln,
		cfg:    cfg,
		opener: opener,
		ctx:    ctx,
		cancel: cancel,
		logger: logx.Component("Stream"),
	}
}

// Request handles "STREAM <filename>" for requester on the control connection ctrl. A missing
// or unreadable file is answered with file_fail. The returned error is a control connection
// failure only.
func (s *Service) Request(ctrl net.Conn, requester, filename string) error {
	logger := s.logger.With().Str("user", requester).Str("file", filename).Logger()

	src, err := s.open(filename)
	if err != nil {
		logger.Info().Err(err).Msg("Stream request refused.")
		return reply(ctrl, errs.NewError(errs.ErrMediaNotFound).Token)
	}

	if err := reply(ctrl, wire.StreamAnnouncement(s.ln.Port(), filename)); err != nil {
		src.Close()
		return err
	}

	id := randx.StreamID()
	s.wg.Add(1)
	go s.serve(logger.With().Str("stream_id", id).Logger(), src)

	return nil
}

// open resolves filename inside MediaDir and opens it.
func (s *Service) open(filename string) (Source, error) {
	if filename == "" || !filepath.IsLocal(filename) {
		return nil, fmt.Errorf("%w: %q is not a local path", os.ErrNotExist, filename)
	}

	path := filepath.Join(s.cfg.MediaDir, filename)
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", os.ErrNotExist, path)
	}

	return s.opener.Open(path)
}

func (s *Service) serve(logger zerolog.Logger, src Source) {
	defer s.wg.Done()
	defer src.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	conn, err := s.accept()
	if err != nil {
		logger.Warn().Err(err).Msg("Stream client did not connect.")
		return
	}
	defer transport.Shutdown(conn)

	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	if err := s.awaitConfirm(conn); err != nil {
		logger.Warn().Err(err).Msg("Stream not confirmed.")
		return
	}

	frames, err := s.pump(conn, src)
	if err != nil {
		logger.Warn().Err(err).Int("frames", frames).Msg("Stream aborted.")
		return
	}

	logger.Info().Int("frames", frames).Msg("Stream finished.")
}

func (s *Service) accept() (net.Conn, error) {
	s.acceptMu.Lock()
	defer s.acceptMu.Unlock()

	return s.ln.AcceptWithin(s.cfg.AcceptTimeout)
}

func (s *Service) awaitConfirm(conn net.Conn) error {
	if s.cfg.AcceptTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.AcceptTimeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	b, err := transport.ReadExact(conn, 1)
	if err != nil {
		return err
	}
	if b[0] != wire.StreamConfirm {
		return fmt.Errorf("unexpected confirmation byte %q", b[0])
	}
	return nil
}

// pump writes the extradata frame and then every packet, pausing FrameInterval after each.
func (s *Service) pump(conn net.Conn, src Source) (int, error) {
	if err := transport.WriteFrame(conn, src.Extradata()); err != nil {
		return 0, err
	}

	var pace <-chan time.Time
	if s.cfg.FrameInterval > 0 {
		ticker := time.NewTicker(s.cfg.FrameInterval)
		defer ticker.Stop()
		pace = ticker.C
	}

	frames := 0
	for {
		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}

		if err := transport.WriteFrame(conn, frame.Data); err != nil {
			return frames, err
		}
		frames++

		if pace == nil {
			continue
		}
		select {
		case <-pace:
		case <-s.ctx.Done():
			return frames, s.ctx.Err()
		}
	}
}

// Active returns the number of streams waiting for a client or sending frames.
func (s *Service) Active() int {
	return int(s.active.Load())
}

// Port returns the stream listener port.
func (s *Service) Port() int {
	return s.ln.Port()
}

// Shutdown stops every stream and closes the stream listener.
func (s *Service) Shutdown() {
	s.cancel()
	s.ln.Close()
	s.wg.Wait()
	s.logger.Info().Msg("Stream service stopped.")
}

func reply(conn net.Conn, token string) error {
	if err := transport.WriteMessage(conn, token); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return nil
}
