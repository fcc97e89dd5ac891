package stream

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/transport"
	"relaychat/internal/pkg/wire"
)

// fakeSource replays fixed frames.
type fakeSource struct {
	extradata []byte
	frames    [][]byte
	closed    chan struct{}
}

func (f *fakeSource) Extradata() []byte { return f.extradata }

func (f *fakeSource) Next() (Frame, error) {
	if len(f.frames) == 0 {
		return Frame{}, io.EOF
	}
	data := f.frames[0]
	f.frames = f.frames[1:]
	return Frame{Data: data}, nil
}

func (f *fakeSource) Close() error {
	close(f.closed)
	return nil
}

type fixture struct {
	svc    *Service
	media  string
	source *fakeSource
}

func newFixture(t *testing.T, interval time.Duration) *fixture {
	t.Helper()

	ln, err := transport.Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	fx := &fixture{
		media: t.TempDir(),
		source: &fakeSource{
			extradata: []byte("extradata"),
			frames:    [][]byte{[]byte("one"), []byte("two"), []byte("three")},
			closed:    make(chan struct{}),
		},
	}

	opener := OpenerFunc(func(path string) (Source, error) {
		if filepath.Ext(path) == ".bad" {
			return nil, ErrNoExtradata
		}
		return fx.source, nil
	})

	fx.svc = NewService(ln, Config{
		MediaDir:      fx.media,
		AcceptTimeout: 2 * time.Second,
		FrameInterval: interval,
	}, opener)
	t.Cleanup(fx.svc.Shutdown)

	return fx
}

func (fx *fixture) addMedia(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(fx.media, name), []byte("media"), 0o644))
}

// request runs Request on one end of a pipe and returns the reply read from the other.
func (fx *fixture) request(t *testing.T, filename string) string {
	t.Helper()

	ctrl, peer := net.Pipe()
	t.Cleanup(func() {
		ctrl.Close()
		peer.Close()
	})

	done := make(chan error, 1)
	go func() { done <- fx.svc.Request(ctrl, "alice", filename) }()

	reply, err := transport.ReadString(peer, 1024)
	require.NoError(t, err)
	require.NoError(t, <-done)
	return reply
}

func (fx *fixture) dial(t *testing.T) net.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, fx.svc.ln.Addr().String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamSendsExtradataThenFrames(t *testing.T) {
	fx := newFixture(t, 0)
	fx.addMedia(t, "clip.h264")

	reply := fx.request(t, "clip.h264")
	port, name, err := wire.ParseStreamAnnouncement(reply)
	require.NoError(t, err)
	assert.Equal(t, fx.svc.Port(), port)
	assert.Equal(t, "clip.h264", name)

	conn := fx.dial(t)
	require.NoError(t, transport.WriteBytes(conn, []byte{wire.StreamConfirm}))

	var got []string
	for {
		frame, err := transport.ReadFrame(conn)
		if errors.Is(err, transport.ErrClosed) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(frame))
	}

	assert.Equal(t, []string{"extradata", "one", "two", "three"}, got)

	select {
	case <-fx.source.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("source was not closed")
	}
	require.Eventually(t, func() bool { return fx.svc.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestStreamRefusesBadRequests(t *testing.T) {
	fx := newFixture(t, 0)
	fx.addMedia(t, "broken.bad")
	require.NoError(t, os.Mkdir(filepath.Join(fx.media, "dir"), 0o755))

	tests := []struct {
		name     string
		filename string
	}{
		{name: "missing", filename: "nope.h264"},
		{name: "escapes media dir", filename: "../secret.h264"},
		{name: "absolute", filename: "/etc/passwd"},
		{name: "empty", filename: ""},
		{name: "directory", filename: "dir"},
		{name: "opener failure", filename: "broken.bad"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, wire.FileFail, fx.request(t, tt.filename))
		})
	}
	assert.Equal(t, 0, fx.svc.Active())
}

func TestStreamWrongConfirmation(t *testing.T) {
	fx := newFixture(t, 0)
	fx.addMedia(t, "clip.h264")
	fx.request(t, "clip.h264")

	conn := fx.dial(t)
	require.NoError(t, transport.WriteBytes(conn, []byte{'N'}))

	_, err := transport.ReadFrame(conn)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStreamShutdownStopsPacedStream(t *testing.T) {
	fx := newFixture(t, time.Hour)
	fx.addMedia(t, "clip.h264")
	fx.request(t, "clip.h264")

	conn := fx.dial(t)
	require.NoError(t, transport.WriteBytes(conn, []byte{wire.StreamConfirm}))

	_, err := transport.ReadFrame(conn)
	require.NoError(t, err)
	_, err = transport.ReadFrame(conn)
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		fx.svc.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not interrupt the paced stream")
	}
	assert.Equal(t, 0, fx.svc.Active())
}
