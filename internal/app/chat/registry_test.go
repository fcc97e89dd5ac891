package chat

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
)

// stubHandshaker hands out in-memory side channels.
type stubHandshaker struct {
	err   error
	block chan struct{}
	calls atomic.Int32
}

func (h *stubHandshaker) Handshake(primary net.Conn) (SideChannels, error) {
	h.calls.Add(1)
	if h.block != nil {
		<-h.block
	}
	if h.err != nil {
		return SideChannels{}, h.err
	}

	relay, _ := net.Pipe()
	file, _ := net.Pipe()
	return SideChannels{Relay: relay, File: file, ReceiverPort: 7000}, nil
}

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(3, 8)

	tests := []struct {
		name    string
		input   string
		wantID  int
		wantErr int
	}{
		{name: "first user", input: "alice", wantID: 0},
		{name: "second user", input: "bob", wantID: 1},
		{name: "duplicate", input: "alice", wantID: -1, wantErr: errs.ErrNameTaken},
		{name: "name at width", input: "12345678", wantID: -1, wantErr: errs.ErrNameTooLong},
		{name: "empty", input: "", wantID: -1, wantErr: errs.ErrNameInvalid},
		{name: "widest allowed", input: "1234567", wantID: 2},
		{name: "full", input: "dave", wantID: -1, wantErr: errs.ErrUserFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, customErr := r.Register(tt.input)
			assert.Equal(t, tt.wantID, id)
			if tt.wantErr == 0 {
				assert.Nil(t, customErr)
				return
			}
			require.NotNil(t, customErr)
			assert.Equal(t, tt.wantErr, customErr.Code)
		})
	}
}

func TestRegisterConcurrentSameName(t *testing.T) {
	r := NewRegistry(100, 16)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, customErr := r.Register("alice"); customErr == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	registered, _ := r.Counts()
	assert.Equal(t, 1, registered)
}

func TestLoginLifecycle(t *testing.T) {
	r := NewRegistry(10, 16)
	_, customErr := r.Register("alice")
	require.Nil(t, customErr)

	hs := &stubHandshaker{}

	_, err := r.Login("bob", pipeConn(t), hs)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrNotRegistered))

	id, err := r.Login("alice", pipeConn(t), hs)
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	u, customErr := r.Target(0)
	require.Nil(t, customErr)
	assert.Equal(t, user.StatusOnline, u.Status)
	assert.Equal(t, 7000, u.Address.Port)

	_, err = r.Login("alice", pipeConn(t), hs)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrAlreadyLoggedIn))

	r.Logout("alice")
	r.Logout("alice")

	_, customErr = r.Target(0)
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrTargetOffline, customErr.Code)

	_, err = r.Login("alice", pipeConn(t), hs)
	assert.NoError(t, err)
}

func TestLoginHandshakeFailureRollsBack(t *testing.T) {
	r := NewRegistry(10, 16)
	_, customErr := r.Register("alice")
	require.Nil(t, customErr)

	failure := errors.New("side port unreachable")
	_, err := r.Login("alice", pipeConn(t), &stubHandshaker{err: failure})
	assert.ErrorIs(t, err, failure)

	u, ok := r.LookupName("alice")
	require.True(t, ok)
	assert.Equal(t, user.StatusOffline, u.Status)

	_, err = r.Login("alice", pipeConn(t), &stubHandshaker{})
	assert.NoError(t, err)
}

func TestConcurrentLoginOnlyOneWins(t *testing.T) {
	r := NewRegistry(10, 16)
	_, customErr := r.Register("alice")
	require.Nil(t, customErr)

	hs := &stubHandshaker{block: make(chan struct{})}

	first := make(chan error, 1)
	go func() {
		_, err := r.Login("alice", pipeConn(t), hs)
		first <- err
	}()

	require.Eventually(t, func() bool { return hs.calls.Load() == 1 }, time.Second, time.Millisecond)

	// While the first handshake runs the user is reserved.
	_, err := r.Login("alice", pipeConn(t), hs)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrAlreadyLoggedIn))

	_, customErr = r.Target(0)
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrTargetOffline, customErr.Code)

	close(hs.block)
	require.NoError(t, <-first)

	_, customErr = r.Target(0)
	assert.Nil(t, customErr)
}

func TestLogoutDuringHandshakeCancelsLogin(t *testing.T) {
	r := NewRegistry(10, 16)
	_, customErr := r.Register("alice")
	require.Nil(t, customErr)

	hs := &stubHandshaker{block: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := r.Login("alice", pipeConn(t), hs)
		done <- err
	}()

	require.Eventually(t, func() bool { return hs.calls.Load() == 1 }, time.Second, time.Millisecond)

	r.Logout("alice")
	close(hs.block)

	assert.ErrorIs(t, <-done, errLoginCancelled)
	u, _ := r.LookupName("alice")
	assert.False(t, u.Online())
}

func TestSnapshotMarksSelfAndOnline(t *testing.T) {
	r := NewRegistry(10, 16)
	for _, name := range []string{"alice", "bob", "carol"} {
		_, customErr := r.Register(name)
		require.Nil(t, customErr)
	}
	_, err := r.Login("bob", pipeConn(t), &stubHandshaker{})
	require.NoError(t, err)

	rows := r.Snapshot("alice")
	require.Len(t, rows, 3)
	assert.Equal(t, user.Summary{ID: 0, Name: "alice", IsSelf: true}, rows[0])
	assert.Equal(t, user.Summary{ID: 1, Name: "bob", Online: true}, rows[1])
	assert.Equal(t, user.Summary{ID: 2, Name: "carol"}, rows[2])
}

func TestWatchFiresOnChange(t *testing.T) {
	r := NewRegistry(10, 16)
	changed := r.Watch()

	select {
	case <-changed:
		t.Fatal("watch fired before any change")
	default:
	}

	_, customErr := r.Register("alice")
	require.Nil(t, customErr)

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("watch did not fire on register")
	}
}

func TestAcquireFileChannelIsExclusive(t *testing.T) {
	r := NewRegistry(10, 16)
	_, customErr := r.Register("bob")
	require.Nil(t, customErr)
	_, err := r.Login("bob", pipeConn(t), &stubHandshaker{})
	require.NoError(t, err)

	_, _, release, customErr := r.AcquireFileChannel(0)
	require.Nil(t, customErr)

	acquired := make(chan struct{})
	go func() {
		_, _, release2, customErr := r.AcquireFileChannel(0)
		if customErr == nil {
			release2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second transfer acquired a busy file channel")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second transfer never acquired the file channel")
	}

	_, _, _, customErr = r.AcquireFileChannel(4)
	require.NotNil(t, customErr)
	assert.Equal(t, errs.ErrTargetOffline, customErr.Code)
}
