/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file implements the Session, the state machine a worker runs for one control connection
from "accept task" until the peer exits, logs out or disconnects.
*/
package chat

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// sessionState is the position of a Session in its lifecycle.
type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUnauthenticated:
		return "unauthenticated"
	case stateAuthenticated:
		return "authenticated"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is the per-connection command loop.
type Session struct {
	id   string
	conn net.Conn
	srv  *Server

	state sessionState

	// name is set once the session is authenticated.
	name string

	logger zerolog.Logger
}

func newSession(srv *Server, task Task) *Session {
	return &Session{
		id:    task.SessionID,
		conn:  task.Conn,
		srv:   srv,
		state: stateUnauthenticated,
		logger: srv.logger.With().
			Str("component", "Session").
			Str("session_id", task.SessionID).
			Str("remote_ip", logx.AnonymizeIP(transport.PeerIP(task.Conn))).
			Logger(),
	}
}

// Run serves the session until it is closed. Cleanup always logs the user out and closes
// the control connection.
func (s *Session) Run() {
	defer s.close()

	if err := s.reply(wire.AcceptTask); err != nil {
		s.logger.Debug().Err(err).Msg("Peer left before the session started.")
		return
	}
	s.logger.Debug().Msg("Session started.")

	for s.state != stateClosed {
		msg, err := transport.ReadMessage(s.conn, s.srv.layout.TotalSize)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Control connection closed by peer.")
			return
		}

		cmd := wire.ParseCommand(msg)
		s.logger.Debug().Stringer("command", cmd.Kind).Stringer("state", s.state).Msg("Command received.")

		if s.state == stateUnauthenticated {
			err = s.handleUnauthenticated(cmd)
		} else {
			err = s.handleAuthenticated(cmd)
		}

		if err != nil {
			s.logger.Debug().Err(err).Stringer("command", cmd.Kind).Msg("Session ended by transport failure.")
			return
		}
	}
}

// handleUnauthenticated dispatches register, login and exit. The returned error is always
// a transport failure that ends the session.
func (s *Session) handleUnauthenticated(cmd wire.Command) error {
	switch cmd.Kind {
	case wire.KindRegister:
		if _, customErr := s.srv.registry.Register(cmd.Arg); customErr != nil {
			s.logger.Info().Str("user", cmd.Arg).Int("error_code", customErr.Code).Msg("Registration refused.")
			return s.reply(customErr.Token)
		}
		return s.reply(wire.RegisterSuccess)

	case wire.KindLogin:
		return s.login(cmd.Arg)

	case wire.KindExit:
		s.state = stateClosed
		return nil

	default:
		return s.reply(errs.NewError(errs.ErrUnknownCommand).Token)
	}
}

func (s *Session) login(name string) error {
	_, err := s.srv.registry.Login(name, s.conn, s.srv.handshaker)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		s.logger.Info().Err(err).Str("user", name).Msg("Login refused.")
		return s.reply(errs.TokenOf(err))
	}

	if err := s.reply(wire.LoginSuccess); err != nil {
		s.srv.registry.Logout(name)
		return err
	}

	s.state = stateAuthenticated
	s.name = name
	s.logger = s.logger.With().Str("user", name).Logger()
	s.logger.Info().Msg("Session authenticated.")
	return nil
}

// handleAuthenticated dispatches the feature commands. The returned error is always a
// transport failure on the control connection.
func (s *Session) handleAuthenticated(cmd wire.Command) error {
	switch cmd.Kind {
	case wire.KindShowList:
		return s.showList()

	case wire.KindRelayMes:
		return s.relayMessage(cmd.Target)

	case wire.KindDirectMes:
		return s.directAddress(cmd.Target)

	case wire.KindFileTransfer:
		return s.fileTransfer(cmd.Target)

	case wire.KindStream:
		return s.srv.streams.Request(s.conn, s.name, cmd.Arg)

	case wire.KindLogout:
		s.srv.registry.Logout(s.name)
		s.logger.Info().Msg("Session logged out.")
		s.name = ""
		s.state = stateClosed
		return s.reply(wire.LogoutSuccess)

	default:
		return s.reply(errs.NewError(errs.ErrUnknownCommand).Token)
	}
}

// reply writes one response token on the control connection.
func (s *Session) reply(token string) error {
	if err := transport.WriteMessage(s.conn, token); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrClosed, err)
	}
	return nil
}

func (s *Session) close() {
	if s.name != "" {
		s.srv.registry.Logout(s.name)
	}
	transport.Shutdown(s.conn)
	s.state = stateClosed
	s.logger.Debug().Msg("Session closed.")
}
