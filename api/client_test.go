package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chattest"
	pb "github.com/mqy/minichat/proto"
)

const testKey = "alice__bob"

func newTestClient(t *testing.T, token string) (*Client, *auth.Session, *auth.StaticClient, *chattest.Server) {
	srv := chattest.NewServer(chattest.Users{"tok-a": "alice", "tok-b": "bob"})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	creds := auth.NewStaticClient("alice", token)
	session, err := auth.Resume(context.Background(), creds)
	require.NoError(t, err)
	return NewClient(Config{BaseURL: ts.URL + "/"}, session), session, creds, srv
}

func TestFetchMessages(t *testing.T) {
	c, _, _, srv := newTestClient(t, "tok-a")
	srv.Seed(testKey, pb.Sections{
		{Label: "Yesterday", Messages: []*pb.Message{{Id: 3, Sender: "bob", Receiver: "alice", MsgType: pb.MsgTypeText, Content: "hi"}}},
		{Label: "Today", Messages: []*pb.Message{{Id: 7, Sender: "alice", Receiver: "bob", MsgType: pb.MsgTypeText, Content: "yo"}}},
	})
	srv.SetBlocked("bob", "alice", true)

	resp, err := c.FetchMessages(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "Yesterday", resp.Messages[0].Label)
	assert.Equal(t, []int64{3, 7}, resp.Messages.Ids())
	assert.Equal(t, "bob", resp.Profile.Username)
	assert.True(t, resp.Profile.Blocked)
	assert.False(t, resp.Profile.OtherBlocked)
}

func TestUnauthorizedInvalidatesSession(t *testing.T) {
	c, session, creds, _ := newTestClient(t, "expired")

	_, err := c.FetchChats(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, session.Err(), auth.ErrSessionExpired)

	_, err = creds.Credentials(context.Background())
	assert.ErrorIs(t, err, auth.ErrNoCredentials)

	// no request leaves once the session is gone.
	err = c.ClearChat(context.Background(), testKey)
	assert.ErrorIs(t, err, auth.ErrSessionExpired)
}

func TestSendMedia(t *testing.T) {
	c, _, _, srv := newTestClient(t, "tok-a")

	path := filepath.Join(t.TempDir(), "cat.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0600))

	msg, err := c.SendMedia(context.Background(), testKey, MediaItem{Path: path, Kind: pb.MediaImage, Size: 10})
	require.NoError(t, err)
	assert.Equal(t, pb.MsgTypeImage, msg.MsgType)
	assert.Equal(t, "/media/images/cat.jpg", msg.MediaRef())
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "bob", msg.Receiver)
	assert.Equal(t, 1, srv.Uploads())

	srv.FailUpload("dog.jpg")
	path = filepath.Join(t.TempDir(), "dog.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg bytes"), 0600))
	_, err = c.SendMedia(context.Background(), testKey, MediaItem{Path: path, Kind: pb.MediaImage})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
	assert.Equal(t, "storage unavailable", statusErr.Detail)
}

func TestDeleteAndClear(t *testing.T) {
	c, _, _, srv := newTestClient(t, "tok-a")
	srv.Seed(testKey, pb.Sections{
		{Label: "Today", Messages: []*pb.Message{{Id: 41}, {Id: 42}, {Id: 43}}},
	})

	after, err := c.DeleteMessage(context.Background(), testKey, 42)
	require.NoError(t, err)
	assert.Equal(t, []int64{41, 43}, after.Ids())

	_, err = c.DeleteMessage(context.Background(), testKey, 42)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	require.NoError(t, c.ClearChat(context.Background(), testKey))
	assert.Empty(t, srv.Messages(testKey).Ids())
}

func TestBlockUser(t *testing.T) {
	c, _, _, srv := newTestClient(t, "tok-a")

	require.NoError(t, c.BlockUser(context.Background(), "bob", true))
	assert.True(t, srv.Blocked("alice", "bob"))

	require.NoError(t, c.BlockUser(context.Background(), "bob", false))
	assert.False(t, srv.Blocked("alice", "bob"))
}
