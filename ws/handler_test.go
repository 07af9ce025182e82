package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chattest"
	pb "github.com/mqy/minichat/proto"
)

const testKey = "alice__bob"

type recorder struct {
	sync.Mutex
	frames []*pb.Frame
	causes []CloseCause
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnFrame: func(f *pb.Frame) {
			r.Lock()
			r.frames = append(r.frames, f)
			r.Unlock()
		},
		OnClose: func(c CloseCause) {
			r.Lock()
			r.causes = append(r.causes, c)
			r.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]*pb.Frame, []CloseCause) {
	r.Lock()
	defer r.Unlock()
	return append([]*pb.Frame(nil), r.frames...), append([]CloseCause(nil), r.causes...)
}

func startServer(t *testing.T) (*chattest.Server, *httptest.Server) {
	srv := chattest.NewServer(chattest.Users{"tok-a": "alice", "tok-b": "bob"})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func dialConf(ts *httptest.Server, token string) DialConfig {
	return DialConfig{
		URL:     chattest.SocketBase(ts.URL) + "/" + testKey + "/" + token + "/",
		Channel: "conversation",
		Key:     testKey,
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	srv, ts := startServer(t)
	hs := NewHandlerStore(NewMetrics(prometheus.NewRegistry()))
	defer hs.Close()

	rec := &recorder{}
	h1, opened, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)
	assert.True(t, opened)
	assert.Equal(t, Open, h1.State())

	h2, opened, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Same(t, h1, h2)

	assert.Eventually(t, func() bool { return srv.Connected(testKey) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Dials(testKey))
	assert.Equal(t, 1, hs.Len())
}

func TestFramesDispatchedInOrder(t *testing.T) {
	srv, ts := startServer(t)
	hs := NewHandlerStore(nil)
	defer hs.Close()

	rec := &recorder{}
	_, _, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Connected(testKey) == 1 }, time.Second, 10*time.Millisecond)

	srv.PushRaw(testKey, []byte(`{"message": {"status": "msg", "message": {"id": 1, "content": "one"}}}`))
	srv.PushRaw(testKey, []byte(`not json`))
	srv.PushRaw(testKey, []byte(`{"message": {"result": "online"}}`))
	srv.PushRaw(testKey, []byte(`{"message": {"status": "msg", "message": {"id": 2, "content": "two"}}}`))

	assert.Eventually(t, func() bool {
		frames, _ := rec.snapshot()
		var ids []int64
		for _, f := range frames {
			if f.Status == pb.StatusMsg {
				ids = append(ids, f.Message.Id)
			}
		}
		return assert.ObjectsAreEqual([]int64{1, 2}, ids)
	}, time.Second, 10*time.Millisecond)
}

func TestPeerDropIsUnexpected(t *testing.T) {
	srv, ts := startServer(t)
	hs := NewHandlerStore(nil)

	rec := &recorder{}
	h, _, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Connected(testKey) == 1 }, time.Second, 10*time.Millisecond)

	srv.Drop(testKey)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler not done")
	}
	_, causes := rec.snapshot()
	require.Len(t, causes, 1)
	assert.True(t, causes[0].Unexpected())
	assert.Equal(t, Closed, h.State())
	assert.Nil(t, hs.Get(testKey))
	assert.ErrorIs(t, h.Send(pb.NewTextFrame("alice", "bob", "hi")), ErrNotOpen)

	// the handle was dropped, so a new Open dials again.
	_, opened, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)
	assert.True(t, opened)
	hs.Close()
}

func TestLocalCloseRunsOnce(t *testing.T) {
	srv, ts := startServer(t)
	hs := NewHandlerStore(nil)

	rec := &recorder{}
	h, _, err := hs.Open(context.Background(), dialConf(ts, "tok-a"), rec.callbacks())
	require.NoError(t, err)

	require.NoError(t, h.Send(pb.NewTextFrame("alice", "bob", "hello")))
	assert.Eventually(t, func() bool { return len(srv.Received(testKey)) == 1 }, time.Second, 10*time.Millisecond)

	h.Close()
	h.Close()
	<-h.Done()

	_, causes := rec.snapshot()
	assert.Equal(t, []CloseCause{LocalClose}, causes)
	assert.Equal(t, 0, hs.Len())
}

func TestDialUnauthorized(t *testing.T) {
	_, ts := startServer(t)
	hs := NewHandlerStore(nil)

	_, opened, err := hs.Open(context.Background(), dialConf(ts, "bad-token"), Callbacks{})
	require.Error(t, err)
	assert.False(t, opened)

	var dialErr *DialError
	require.True(t, errors.As(err, &dialErr))
	assert.True(t, dialErr.Unauthorized())
	assert.Equal(t, 0, hs.Len())
}
