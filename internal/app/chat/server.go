/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file defines the Server, which owns the control, side and stream listeners, runs the
acceptor loop that feeds the task queue, and coordinates a graceful shutdown.
*/
package chat

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"relaychat/internal/app/stream"
	"relaychat/internal/configs"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// refuseTimeout bounds the write of an admission refusal.
const refuseTimeout = time.Second

// Stats is a point-in-time view of the server counters.
type Stats struct {
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	Dropped        int64 `json:"dropped"`
	Handshaking    int64 `json:"handshaking"`
	RateLimited    int64 `json:"rateLimited"`
	ActiveSessions int64 `json:"activeSessions"`
	Queued         int   `json:"queued"`
	QueueCapacity  int   `json:"queueCapacity"`
	BusyWorkers    int   `json:"busyWorkers"`
	Workers        int   `json:"workers"`
	Registered     int   `json:"registered"`
	Online         int   `json:"online"`
	Streams        int   `json:"streams"`
}

// Option customises a Server.
type Option func(*Server)

// WithMediaOpener replaces the default Annex-B media source.
func WithMediaOpener(opener stream.Opener) Option {
	return func(s *Server) {
		s.opener = opener
	}
}

// Server is the relay server.
type Server struct {
	// Config holds the application's read-only configuration settings.
	config *configs.AppConfig
	layout wire.Layout

	control *transport.Listener
	side    *transport.Listener

	registry   *Registry
	queue      *TaskQueue
	pool       *WorkerPool
	handshaker *sideHandshaker
	streams    *stream.Service
	opener     stream.Opener

	// handshakeSlots bounds the TLS upgrades running off the accept loop.
	handshakeSlots *semaphore.Weighted
	handshakes     sync.WaitGroup

	// handshakeCtx is cancelled when shutdown begins.
	handshakeCtx    context.Context
	cancelHandshake context.CancelFunc

	// limiter is nil when ACCEPT_RATE is zero.
	limiter *limiter.IPRateLimiter

	// sessions holds the control connection of every running session, keyed by session ID.
	sessions   map[string]net.Conn
	sessionsMu sync.Mutex

	accepted    atomic.Int64
	rejected    atomic.Int64
	dropped     atomic.Int64
	handshaking atomic.Int64
	rateLimited atomic.Int64
	active      atomic.Int64

	// quit is closed when shutdown begins, done when it has finished.
	quit         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once

	// structured logger with Server context.
	logger zerolog.Logger
}

// NewServer opens the control, side and stream listeners. A nil tlsConfig serves plain TCP.
func NewServer(cfg *configs.AppConfig, tlsConfig *tls.Config, opts ...Option) (*Server, error) {
	handshakeCtx, cancelHandshake := context.WithCancel(context.Background())

	s := &Server{
		config:          cfg,
		layout:          wire.NewLayout(cfg.BufferSize, cfg.MaxName),
		registry:        NewRegistry(cfg.MaxUsers, cfg.MaxName),
		queue:           NewTaskQueue(cfg.QueueSize, cfg.QueuePolicy),
		handshakeSlots:  semaphore.NewWeighted(int64(max(cfg.MaxHandshakes, 1))),
		handshakeCtx:    handshakeCtx,
		cancelHandshake: cancelHandshake,
		sessions:        make(map[string]net.Conn),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logx.Component("Server"),
	}

	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.control, err = transport.Listen(hostPort(cfg.Host, cfg.ServerPort), tlsConfig); err != nil {
		return nil, err
	}
	if s.side, err = transport.Listen(hostPort(cfg.Host, cfg.SidePort), tlsConfig); err != nil {
		s.control.Close()
		return nil, err
	}
	streamLn, err := transport.Listen(hostPort(cfg.Host, cfg.StreamPort), tlsConfig)
	if err != nil {
		s.control.Close()
		s.side.Close()
		return nil, err
	}

	for _, ln := range []*transport.Listener{s.control, s.side, streamLn} {
		ln.SetHandshakeTimeout(cfg.HandshakeTimeout)
	}

	s.handshaker = newSideHandshaker(s.side, cfg.HandshakeTimeout, cfg.BufferSize)
	s.streams = stream.NewService(streamLn, stream.Config{
		MediaDir:      cfg.MediaDir,
		AcceptTimeout: cfg.StreamAcceptTimeout,
		FrameInterval: cfg.StreamFrameInterval,
	}, s.opener)
	s.pool = NewWorkerPool(cfg.MaxOnline, s.queue, s.runSession)

	if cfg.AcceptRate > 0 {
		s.limiter = limiter.NewIPRateLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	return s, nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Serve starts the workers and accepts control connections until ctx is cancelled or
// Shutdown is called. It returns after shutdown has completed.
func (s *Server) Serve(ctx context.Context) error {
	s.pool.Start()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	s.logger.Info().
		Int("port", s.Port()).
		Int("side_port", s.SidePort()).
		Int("stream_port", s.StreamPort()).
		Int("workers", s.pool.Size()).
		Int("queue_size", s.queue.Cap()).
		Str("queue_policy", string(s.config.QueuePolicy)).
		Msg("Relay server listening.")

	for {
		raw, err := s.control.AcceptRaw()
		if err != nil {
			if s.closing() {
				s.discardQueued()
				<-s.done
				return nil
			}

			s.logger.Error().Err(err).Msg("Accept failed. Shutting down.")
			s.Shutdown()
			return fmt.Errorf("accept on control port failed: %w", err)
		}

		s.upgrade(raw)
	}
}

// upgrade runs the TLS handshake of raw on its own goroutine and then admits it, so a slow
// or silent peer never holds up the accept loop. When every handshake slot is taken the
// connection is closed at once.
func (s *Server) upgrade(raw net.Conn) {
	if !s.handshakeSlots.TryAcquire(1) {
		s.dropped.Add(1)
		s.logger.Warn().
			Str("remote_ip", logx.AnonymizeIP(transport.PeerIP(raw))).
			Msg("Too many pending handshakes. Connection dropped.")
		raw.Close()
		return
	}

	s.sessionsMu.Lock()
	if s.closing() {
		s.sessionsMu.Unlock()
		s.handshakeSlots.Release(1)
		raw.Close()
		return
	}
	s.handshakes.Add(1)
	s.sessionsMu.Unlock()

	s.handshaking.Add(1)
	go func() {
		defer s.handshakes.Done()
		defer s.handshakeSlots.Release(1)
		defer s.handshaking.Add(-1)

		conn, err := s.control.Upgrade(s.handshakeCtx, raw)
		if err != nil {
			var hsErr *transport.HandshakeError
			if errors.As(err, &hsErr) {
				s.logger.Warn().Err(hsErr.Err).Str("remote_ip", logx.AnonymizeIP(hostOf(hsErr.Remote))).Msg("TLS handshake failed.")
			}
			return
		}

		s.admit(conn)
	}()
}

// admit hands conn to the task queue, or refuses it with "queue full".
func (s *Server) admit(conn net.Conn) {
	if s.limiter != nil && !s.limiter.AllowAddr(conn.RemoteAddr()) {
		s.rateLimited.Add(1)
		s.refuse(conn, errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	task := Task{Conn: conn, SessionID: randx.SessionID(), AcceptedAt: time.Now()}

	s.accepted.Add(1)
	if err := s.queue.Enqueue(task); err != nil {
		s.accepted.Add(-1)
		if errors.Is(err, ErrQueueFull) {
			s.rejected.Add(1)
			s.refuse(conn, errs.NewError(errs.ErrQueueFull))
			return
		}
		transport.Shutdown(conn)
	}
}

func (s *Server) refuse(conn net.Conn, customErr *errs.CustomError) {
	s.logger.Info().
		Str("remote_ip", logx.AnonymizeIP(transport.PeerIP(conn))).
		Int("error_code", customErr.Code).
		Msg("Connection refused at admission.")

	conn.SetWriteDeadline(time.Now().Add(refuseTimeout))
	transport.WriteMessage(conn, customErr.Token)
	transport.Shutdown(conn)
}

// runSession is the worker pool's task handler.
func (s *Server) runSession(task Task) {
	if !s.track(task) {
		transport.Shutdown(task.Conn)
		return
	}
	defer s.untrack(task)

	s.logger.Debug().
		Str("session_id", task.SessionID).
		Dur("queued_for", time.Since(task.AcceptedAt)).
		Msg("Task accepted by worker.")

	newSession(s, task).Run()
}

func (s *Server) track(task Task) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	if s.closing() {
		return false
	}
	s.sessions[task.SessionID] = task.Conn
	s.active.Add(1)
	return true
}

func (s *Server) untrack(task Task) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	delete(s.sessions, task.SessionID)
	s.active.Add(-1)
}

func (s *Server) closing() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Server) discardQueued() {
	for _, task := range s.queue.Drain() {
		transport.Shutdown(task.Conn)
	}
}

// Shutdown stops accepting, wakes every worker, closes every live session and waits for the
// workers and streams to finish. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info().Msg("Relay server shutting down.")

		close(s.quit)
		s.cancelHandshake()
		s.control.Close()
		s.side.Close()

		s.queue.Close()
		s.discardQueued()

		s.sessionsMu.Lock()
		for _, conn := range s.sessions {
			transport.Shutdown(conn)
		}
		s.sessionsMu.Unlock()

		// Handshakes that finished after the first drain may still have queued a task.
		s.handshakes.Wait()
		s.discardQueued()

		s.pool.Wait()
		s.streams.Shutdown()

		if s.limiter != nil {
			s.limiter.Stop()
		}

		s.logger.Info().Msg("Relay server stopped.")
		close(s.done)
	})

	<-s.done
}

// Registry returns the user registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Layout returns the envelope layout used by the server.
func (s *Server) Layout() wire.Layout {
	return s.layout
}

// Addr returns the control listener address.
func (s *Server) Addr() net.Addr {
	return s.control.Addr()
}

// Port returns the control port.
func (s *Server) Port() int {
	return s.control.Port()
}

// SidePort returns the port clients open their relay and file channels on.
func (s *Server) SidePort() int {
	return s.side.Port()
}

// StreamPort returns the port stream clients connect to.
func (s *Server) StreamPort() int {
	return s.streams.Port()
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	registered, online := s.registry.Counts()

	return Stats{
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
		Dropped:        s.dropped.Load(),
		Handshaking:    s.handshaking.Load(),
		RateLimited:    s.rateLimited.Load(),
		ActiveSessions: s.active.Load(),
		Queued:         s.queue.Len(),
		QueueCapacity:  s.queue.Cap(),
		BusyWorkers:    s.pool.Busy(),
		Workers:        s.pool.Size(),
		Registered:     registered,
		Online:         online,
		Streams:        s.streams.Active(),
	}
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
