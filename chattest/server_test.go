package chattest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeerOf(t *testing.T) {
	p, ok := peerOf("alice__bob", "alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", p)

	p, ok = peerOf("alice__bob", "bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", p)

	_, ok = peerOf("alice__bob", "carol")
	assert.False(t, ok)
	_, ok = peerOf("alice", "alice")
	assert.False(t, ok)
}

func TestSayStoresAndRespectsBlocks(t *testing.T) {
	s := NewServer(Users{"tok-a": "alice", "tok-b": "bob"})

	s.Say("bob", "alice", "hi")
	sections := s.Messages("alice__bob")
	assert.Len(t, sections.Ids(), 1)
	assert.Equal(t, "Today", sections[0].Label)

	chats := s.chatsOf("alice")
	assert.Len(t, chats, 1)
	assert.Equal(t, "bob", chats[0].Username)
	assert.EqualValues(t, 1, chats[0].UnseenMsgs)

	s.SetBlocked("alice", "bob", true)
	s.Say("bob", "alice", "still there?")
	assert.Len(t, s.Messages("alice__bob").Ids(), 1)
}

func TestBases(t *testing.T) {
	assert.Equal(t, "ws://127.0.0.1:8000/ws/chat", SocketBase("http://127.0.0.1:8000"))
	assert.Equal(t, "wss://example.com/ws/global", GlobalBase("https://example.com"))
}
