/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file implements the feature handlers of an authenticated session: the user listing,
server relayed messages, direct address exchange and server relayed file transfer.
*/
package chat

import (
	"net"
	"strings"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// showList answers with every registered user, one line each, in a single write.
func (s *Session) showList() error {
	var b strings.Builder
	for _, row := range s.srv.registry.Snapshot(s.name) {
		b.WriteString(row.Line())
	}
	return s.reply(b.String())
}

// relayMessage asks for the message body and delivers it as an is_mes envelope on the
// target's relay channel.
func (s *Session) relayMessage(target int) error {
	if err := s.reply(wire.AskMes); err != nil {
		return err
	}

	msg, err := transport.ReadString(s.conn, s.srv.layout.TotalSize)
	if err != nil {
		return err
	}

	relay, to, customErr := s.srv.registry.RelayChannel(target)
	if customErr != nil {
		return s.reply(customErr.Token)
	}

	envelope := s.srv.layout.EncodeEnvelope(wire.Envelope{Signal: wire.IsMes, From: s.name, To: to.Name, Payload: msg})
	if err := transport.WriteBytes(relay, envelope); err != nil {
		s.logger.Warn().Err(err).Str("target", to.Name).Msg("Relay delivery failed.")
		return s.reply(errs.NewError(errs.ErrRelayFailed).Token)
	}

	s.logger.Debug().Str("target", to.Name).Int("bytes", len(msg)).Msg("Message relayed.")
	return s.reply(wire.MesSuccess)
}

// directAddress answers with the receiver address of an online target.
func (s *Session) directAddress(target int) error {
	to, customErr := s.srv.registry.Target(target)
	if customErr != nil {
		return s.reply(customErr.Token)
	}
	return s.reply(wire.AddressReply(to.Address.IP, to.Address.Port))
}

// fileTransfer asks for the filename, offers the file to the target and, once accepted,
// relays the sender's chunks in lock-step with the target's acknowledgements.
func (s *Session) fileTransfer(target int) error {
	if err := s.reply(wire.AskFileName); err != nil {
		return err
	}

	filename, err := transport.ReadString(s.conn, s.srv.layout.TotalSize)
	if err != nil {
		return err
	}

	file, to, release, customErr := s.srv.registry.AcquireFileChannel(target)
	if customErr != nil {
		return s.reply(customErr.Token)
	}
	defer release()

	logger := s.logger.With().Str("target", to.Name).Str("file", filename).Logger()
	fileFail := errs.NewError(errs.ErrFileFailed).Token

	offer := s.srv.layout.EncodeEnvelope(wire.Envelope{Signal: wire.IsFile, From: s.name, To: to.Name, Payload: filename})
	if err := transport.WriteBytes(file, offer); err != nil {
		logger.Warn().Err(err).Msg("File offer could not be delivered.")
		return s.reply(fileFail)
	}

	answer, err := transport.ReadString(file, s.srv.layout.TotalSize)
	if err != nil {
		logger.Warn().Err(err).Msg("Target left before answering the file offer.")
		return s.reply(fileFail)
	}

	switch answer {
	case wire.AcceptFile:
	case wire.RejectFile:
		logger.Info().Msg("File offer rejected.")
		return s.reply(wire.RejectFile)
	default:
		logger.Warn().Str("answer", answer).Msg("Unexpected answer to file offer.")
		return s.reply(errs.NewError(errs.ErrUnexpectedResponse).Token)
	}

	if err := s.reply(wire.AcceptFile); err != nil {
		return err
	}

	logger.Info().Msg("File transfer started.")
	return s.pumpFile(file, logger)
}

// pumpFile forwards chunks until the sender's end_of_file. The sender gets ack_file only after
// the target acknowledged the chunk. Once the target fails or answers anything but ack_file,
// the remaining chunks are drained and answered with file_fail so the sender stops.
func (s *Session) pumpFile(file net.Conn, logger zerolog.Logger) error {
	targetOK := true
	chunks := 0

	for {
		chunk, err := transport.ReadMessage(s.conn, s.srv.layout.TotalSize)
		if err != nil {
			logger.Warn().Err(err).Int("chunks", chunks).Msg("Sender left during file transfer.")
			return err
		}
		last := string(chunk) == wire.EndOfFile

		if targetOK {
			if err := transport.WriteBytes(file, chunk); err != nil {
				logger.Warn().Err(err).Int("chunks", chunks).Msg("Target left during file transfer.")
				targetOK = false
			}
		}

		if last {
			logger.Info().Int("chunks", chunks).Bool("delivered", targetOK).Msg("File transfer finished.")
			return nil
		}
		chunks++

		if targetOK {
			ack, err := transport.ReadString(file, s.srv.layout.TotalSize)
			switch {
			case err != nil:
				logger.Warn().Err(err).Int("chunks", chunks).Msg("Target left during file transfer.")
				targetOK = false
			case ack != wire.AckFile:
				logger.Warn().Str("ack", ack).Int("chunks", chunks).Msg("Unexpected acknowledgement from target.")
				targetOK = false
			}
		}

		if targetOK {
			err = s.reply(wire.AckFile)
		} else {
			err = s.reply(errs.NewError(errs.ErrFileFailed).Token)
		}
		if err != nil {
			return err
		}
	}
}
