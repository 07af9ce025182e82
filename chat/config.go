package chat

import (
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/api"
	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

const (
	DefaultTypingIdle = 2000 * time.Millisecond

	// DefaultMaxMediaBytes is the largest file the server accepts.
	DefaultMaxMediaBytes = 20 << 20

	defaultEventBuffer = 64
)

type Config struct {
	// SocketBase is the conversation socket root, e.g. ws://host/ws/chat.
	SocketBase string
	// GlobalBase is the global socket root, e.g. ws://host/ws/global.
	GlobalBase string

	TypingIdle    time.Duration
	MaxMediaBytes int64
	EventBuffer   int

	// LiveSection is the section live messages are filed under.
	LiveSection string

	PingPeriod time.Duration
	PongWait   time.Duration
	Dialer     *websocket.Dialer
}

func (c *Config) setDefaults() {
	c.SocketBase = strings.TrimRight(c.SocketBase, "/")
	c.GlobalBase = strings.TrimRight(c.GlobalBase, "/")
	if c.TypingIdle <= 0 {
		c.TypingIdle = DefaultTypingIdle
	}
	if c.MaxMediaBytes <= 0 {
		c.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.LiveSection == "" {
		c.LiveSection = chatstore.TodaySection
	}
}

// Deps are the collaborators shared by every channel of one session.
type Deps struct {
	Session  *auth.Session
	Client   api.IClient
	Handlers *ws.HandlerStore

	// Cache is optional.
	Cache store.ISnapshotStore
}

func (d *Deps) validate() error {
	if d.Session == nil {
		return errors.New("chat: session is required")
	}
	if d.Client == nil {
		return errors.New("chat: api client is required")
	}
	if d.Handlers == nil {
		d.Handlers = ws.NewHandlerStore(nil)
	}
	return nil
}
