/*
Package handler provides the HTTP handlers and routing setup for the admin API of the relay server.

This file contains HandlePresence, which upgrades an admin request to a WebSocket and pushes
the registered users to the dashboard every time membership or presence changes.
*/
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/app/chat"
	"relaychat/internal/app/user"
	"relaychat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the watcher.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// watchers never send payloads; anything larger than a control frame is dropped.
	maxMessageSize = 512
)

// PresenceUpdate is one push on the presence WebSocket.
type PresenceUpdate struct {
	Users      []user.User `json:"users"`
	Registered int         `json:"registered"`
	Online     int         `json:"online"`
	SentAt     int64       `json:"sentAt"`
}

// presenceWatcher is one dashboard connection following the registry.
type presenceWatcher struct {
	conn     *websocket.Conn
	registry *chat.Registry

	// done is closed when ReadPump exits.
	done chan struct{}

	logger zerolog.Logger
}

// HandlePresence creates an HTTP HandlerFunc that streams registry changes to a WebSocket.
func HandlePresence(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade presence connection to WebSocket")
			return
		}

		watcher := &presenceWatcher{
			conn:     conn,
			registry: deps.Server.Registry(),
			done:     make(chan struct{}),
			logger:   logx.Component("Presence").With().Str("watcher_id", uuid.NewString()).Logger(),
		}
		watcher.logger.Info().Msg("Presence watcher connected.")

		go watcher.WritePump()
		watcher.ReadPump()
	}
}

// ReadPump keeps the heartbeat alive and discards anything the watcher sends.
func (p *presenceWatcher) ReadPump() {
	defer close(p.done)

	p.conn.SetReadLimit(maxMessageSize)

	if err := p.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Info().Err(err).Msg("Presence watcher closed unexpectedly")
			}
			return
		}
	}
}

// WritePump sends the current users once, then again after every registry change.
func (p *presenceWatcher) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := p.conn.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("Presence connection close error")
		}
		p.logger.Info().Msg("Presence watcher disconnected.")
	}()

	// Arm the watch before reading so no change between the two is missed.
	changed := p.registry.Watch()
	if !p.writeUpdate() {
		return
	}

	for {
		select {
		case <-changed:
			changed = p.registry.Watch()
			if !p.writeUpdate() {
				return
			}

		case <-ticker.C:
			if !p.writePing() {
				return
			}

		case <-p.done:
			return
		}
	}
}

// writeUpdate writes the current registry state. Returns false if the pump should stop.
func (p *presenceWatcher) writeUpdate() bool {
	registered, online := p.registry.Counts()
	update := PresenceUpdate{
		Users:      publicUsers(p.registry.Users()),
		Registered: registered,
		Online:     online,
		SentAt:     time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(update)
	if err != nil {
		p.logger.Error().Err(err).Msg("Error marshaling presence update")
		return false
	}

	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.logger.Debug().Err(err).Msg("Error writing presence update")
		return false
	}
	return true
}

// writePing sends a periodic WebSocket Ping message to maintain the connection heartbeat.
func (p *presenceWatcher) writePing() bool {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		p.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		p.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}
	return true
}
