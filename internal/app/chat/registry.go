/*
Package chat contains the core of the relay server: the user registry, the bounded task queue,
the worker pool, the per-connection session state machine and the feature handlers.

This file defines the Registry, the only shared mutable structure of the server. It tracks every
registered user, their presence status and the side-channel connections opened at login.
*/
package chat

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/transport"
)

// SideChannels are the connections and receiver port collected by the login handshake.
type SideChannels struct {
	Relay        net.Conn
	File         net.Conn
	ReceiverPort int
}

// Close shuts both side channels.
func (sc SideChannels) Close() {
	transport.Shutdown(sc.Relay)
	transport.Shutdown(sc.File)
}

// Handshaker performs the side-channel setup for a login on the given control connection.
type Handshaker interface {
	Handshake(primary net.Conn) (SideChannels, error)
}

// entry is the registry's record of one user.
type entry struct {
	user.User

	// primary is the authenticated control connection.
	primary net.Conn

	// relay and file are owned by the entry from handshake completion until logout.
	relay net.Conn
	file  net.Conn

	// fileMu gives one file transfer at a time exclusive use of the file channel.
	fileMu sync.Mutex
}

// Registry struct is responsible for tracking all users known to the server.
type Registry struct {
	// users holds every entry in registration order; an entry's index is its ID.
	users []*entry

	// byName indexes users by their unique name.
	byName map[string]*entry

	// maxUsers bounds the number of registrations.
	maxUsers int

	// maxName is the width of the name field; names must be strictly shorter.
	maxName int

	// changed is closed and replaced whenever presence or membership changes.
	changed chan struct{}

	// mu protects every field above. It is held only for in-memory work.
	mu sync.Mutex

	// structured logger with Registry context.
	logger zerolog.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(maxUsers, maxName int) *Registry {
	return &Registry{
		byName:   make(map[string]*entry),
		maxUsers: maxUsers,
		maxName:  maxName,
		changed:  make(chan struct{}),
		logger:   logx.Component("Registry"),
	}
}

// notifyLocked wakes every Watch caller. The caller must hold mu.
func (r *Registry) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Watch returns a channel that is closed at the next membership or presence change.
func (r *Registry) Watch() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Register adds a new offline user and returns its ID.
func (r *Registry) Register(name string) (int, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.users) >= r.maxUsers {
		return -1, errs.NewError(errs.ErrUserFull)
	}

	if len(name) >= r.maxName {
		return -1, errs.NewError(errs.ErrNameTooLong)
	}

	if name == "" {
		return -1, errs.NewError(errs.ErrNameInvalid)
	}

	if _, ok := r.byName[name]; ok {
		return -1, errs.NewError(errs.ErrNameTaken)
	}

	e := &entry{User: user.User{ID: len(r.users), Name: name, Status: user.StatusOffline}}
	r.users = append(r.users, e)
	r.byName[name] = e
	r.notifyLocked()

	r.logger.Info().Str("user", name).Int("user_id", e.ID).Msg("User registered.")
	return e.ID, nil
}

// Login authenticates name on the primary connection. The user is reserved as logging in,
// the handshake runs without the registry lock, and the user becomes online only if the
// handshake succeeds. Any handshake failure rolls the user back to offline.
func (r *Registry) Login(name string, primary net.Conn, hs Handshaker) (int, error) {
	id, customErr := r.beginLogin(name, primary)
	if customErr != nil {
		return -1, customErr
	}

	channels, err := hs.Handshake(primary)
	if err != nil {
		r.abortLogin(id)
		r.logger.Warn().Err(err).Str("user", name).Msg("Login handshake failed. Status rolled back.")
		return -1, err
	}

	if err := r.completeLogin(id, channels); err != nil {
		channels.Close()
		return -1, err
	}

	r.logger.Info().Str("user", name).Int("user_id", id).Msg("User logged in.")
	return id, nil
}

func (r *Registry) beginLogin(name string, primary net.Conn) (int, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return -1, errs.NewError(errs.ErrNotRegistered)
	}

	if e.Status != user.StatusOffline {
		return -1, errs.NewError(errs.ErrAlreadyLoggedIn)
	}

	e.Status = user.StatusLoggingIn
	e.primary = primary
	e.Address = user.Address{IP: transport.PeerIP(primary)}
	r.notifyLocked()

	return e.ID, nil
}

func (r *Registry) abortLogin(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[id]
	e.Status = user.StatusOffline
	e.primary = nil
	r.notifyLocked()
}

var errLoginCancelled = errors.New("login cancelled before handshake completed")

func (r *Registry) completeLogin(id int, channels SideChannels) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.users[id]
	if e.Status != user.StatusLoggingIn {
		return errLoginCancelled
	}

	e.Status = user.StatusOnline
	e.relay = channels.Relay
	e.file = channels.File
	e.Address.Port = channels.ReceiverPort
	r.notifyLocked()

	return nil
}

// Logout marks the user offline and closes both side channels. It is idempotent.
func (r *Registry) Logout(name string) {
	r.mu.Lock()

	e, ok := r.byName[name]
	if !ok || e.Status == user.StatusOffline {
		r.mu.Unlock()
		return
	}

	relay, file := e.relay, e.file
	e.Status = user.StatusOffline
	e.primary = nil
	e.relay = nil
	e.file = nil
	r.notifyLocked()

	r.mu.Unlock()

	transport.Shutdown(relay)
	transport.Shutdown(file)

	r.logger.Info().Str("user", name).Msg("User logged out.")
}

// Lookup returns a copy of the user with the given ID.
func (r *Registry) Lookup(id int) (user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= len(r.users) {
		return user.User{}, false
	}
	return r.users[id].User, true
}

// LookupName returns a copy of the user with the given name.
func (r *Registry) LookupName(name string) (user.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byName[name]
	if !ok {
		return user.User{}, false
	}
	return e.User, true
}

// Snapshot lists every user in registration order, marking self.
func (r *Registry) Snapshot(self string) []user.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := make([]user.Summary, 0, len(r.users))
	for _, e := range r.users {
		rows = append(rows, user.Summary{
			ID:     e.ID,
			Name:   e.Name,
			IsSelf: e.Name == self,
			Online: e.Online(),
		})
	}
	return rows
}

// Users returns copies of every user in registration order.
func (r *Registry) Users() []user.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]user.User, 0, len(r.users))
	for _, e := range r.users {
		out = append(out, e.User)
	}
	return out
}

// Counts returns the number of registered and online users.
func (r *Registry) Counts() (registered, online int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.users {
		if e.Online() {
			online++
		}
	}
	return len(r.users), online
}

// onlineEntry returns the entry for id if that user is online. The caller must hold mu.
func (r *Registry) onlineEntry(id int) (*entry, *errs.CustomError) {
	if id < 0 || id >= len(r.users) || !r.users[id].Online() {
		return nil, errs.NewError(errs.ErrTargetOffline)
	}
	return r.users[id], nil
}

// Target returns the online user with the given ID.
func (r *Registry) Target(id int) (user.User, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, customErr := r.onlineEntry(id)
	if customErr != nil {
		return user.User{}, customErr
	}
	return e.User, nil
}

// RelayChannel returns the relay connection of an online user.
func (r *Registry) RelayChannel(id int) (net.Conn, user.User, *errs.CustomError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, customErr := r.onlineEntry(id)
	if customErr != nil {
		return nil, user.User{}, customErr
	}
	return e.relay, e.User, nil
}

// AcquireFileChannel gives the caller exclusive use of an online user's file channel until
// release is called. It blocks while another transfer to the same user is in progress.
func (r *Registry) AcquireFileChannel(id int) (net.Conn, user.User, func(), *errs.CustomError) {
	r.mu.Lock()
	e, customErr := r.onlineEntry(id)
	r.mu.Unlock()
	if customErr != nil {
		return nil, user.User{}, nil, customErr
	}

	e.fileMu.Lock()

	// The user may have logged out while we waited for the previous transfer.
	r.mu.Lock()
	defer r.mu.Unlock()
	if !e.Online() || e.file == nil {
		e.fileMu.Unlock()
		return nil, user.User{}, nil, errs.NewError(errs.ErrTargetOffline)
	}

	return e.file, e.User, e.fileMu.Unlock, nil
}
