package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/auth"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/ws"
)

func (e *env) openGlobal(t *testing.T, deps Deps) *Global {
	g, err := NewGlobal(e.conf(), deps)
	require.NoError(t, err)
	require.NoError(t, g.Open(context.Background()))
	t.Cleanup(g.Close)
	require.Eventually(t, func() bool { return e.srv.GlobalConnected(deps.Session.Username()) > 0 }, waitFor, tick)
	return g
}

func TestGlobalMembersExcludeSelf(t *testing.T) {
	e := newEnv(t)
	alice := e.openGlobal(t, e.deps(t, "alice", "tok-a"))
	e.openGlobal(t, e.deps(t, "bob", "tok-b"))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"bob"}, alice.Members())
	}, waitFor, tick)

	// reopening an open channel does not dial.
	require.NoError(t, alice.Open(context.Background()))
	assert.Equal(t, 1, e.srv.GlobalDials("alice"))
}

func TestGlobalChatListAndTyping(t *testing.T) {
	e := newEnv(t)
	aliceDeps := e.deps(t, "alice", "tok-a")
	g := e.openGlobal(t, aliceDeps)

	bob := e.open(t, e.deps(t, "bob", "tok-b"), "alice")
	require.NoError(t, bob.SendText("are you there?"))

	// the list is replaced wholesale on every msg frame.
	assert.Eventually(t, func() bool {
		chats := g.Chats()
		return len(chats) == 1 && chats[0].LastMessage == "are you there?"
	}, waitFor, tick)
	assert.Equal(t, "bob", g.Chats()[0].Username)
	assert.EqualValues(t, 1, g.Chats()[0].UnseenMsgs)

	bob.SetDraft("typ")
	assert.Eventually(t, func() bool {
		chats := g.Chats()
		return len(chats) == 1 && chats[0].IsTyping
	}, waitFor, tick)

	// a msg frame without a list is dropped, not applied as empty.
	e.srv.PushGlobal("alice", &pb.Frame{Status: pb.StatusMsg})

	// typing of someone not in the list changes nothing.
	e.srv.PushGlobal("alice", &pb.Frame{Status: pb.StatusTyping, Sender: "carol", IsTyping: pb.Bool(true)})
	e.srv.PushGlobal("alice", &pb.Frame{Status: pb.StatusTyping, Sender: "bob", IsTyping: pb.Bool(false)})
	assert.Eventually(t, func() bool {
		chats := g.Chats()
		return len(chats) == 1 && !chats[0].IsTyping
	}, waitFor, tick)
}

func TestGlobalLoadAndOnlineChats(t *testing.T) {
	e := newEnv(t)
	e.srv.Seed("alice__bob", pb.Sections{{Label: "Today", Messages: []*pb.Message{{Id: 1, Sender: "bob", Receiver: "alice", Content: "hi"}}}})
	e.srv.Seed("alice__carol", pb.Sections{{Label: "Today", Messages: []*pb.Message{{Id: 2, Sender: "alice", Receiver: "carol", Content: "yo"}}}})

	g, err := NewGlobal(e.conf(), e.deps(t, "alice", "tok-a"))
	require.NoError(t, err)
	require.NoError(t, g.Load(context.Background()))

	chats := g.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "carol", chats[0].Username)
	assert.Equal(t, "bob", chats[1].Username)
	assert.Empty(t, g.OnlineChats())

	require.NoError(t, g.Open(context.Background()))
	defer g.Close()
	e.openGlobal(t, e.deps(t, "carol", "tok-c"))

	assert.Eventually(t, func() bool {
		online := g.OnlineChats()
		return len(online) == 1 && online[0].Username == "carol"
	}, waitFor, tick)
}

func TestGlobalCloseWhileDialing(t *testing.T) {
	e := newEnv(t)
	conf := e.conf()
	conf.Dialer = slowDialer(200 * time.Millisecond)
	deps := e.deps(t, "alice", "tok-a")
	g, err := NewGlobal(conf, deps)
	require.NoError(t, err)

	opened := make(chan error, 1)
	go func() { opened <- g.Open(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	// a second open during the handshake is a no-op.
	assert.NoError(t, g.Open(context.Background()))
	time.Sleep(30 * time.Millisecond)
	g.Close()

	assert.ErrorIs(t, <-opened, ErrClosed)
	assert.Equal(t, ws.Closed, g.ConnState())
	assert.Eventually(t, func() bool { return e.srv.GlobalConnected("alice") == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return deps.Handlers.Len() == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool { return e.srv.GlobalDials("alice") == 1 }, waitFor, tick)
}

func TestGlobalClosedOnLogout(t *testing.T) {
	e := newEnv(t)
	deps := e.deps(t, "alice", "tok-a")
	g := e.openGlobal(t, deps)

	deps.Session.Logout()
	assert.Eventually(t, func() bool { return g.ConnState() == ws.Closed }, waitFor, tick)
	assert.Eventually(t, func() bool { return e.srv.GlobalConnected("alice") == 0 }, waitFor, tick)

	assert.ErrorIs(t, g.Open(context.Background()), auth.ErrLoggedOut)
	assert.Equal(t, 1, e.srv.GlobalDials("alice"))
}
