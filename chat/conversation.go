package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/minichat/api"
	"github.com/mqy/minichat/chatstore"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

const conversationChannel = "conversation"

// Conversation is the live session between the current user and one peer.
// It owns the conversation socket, the message store and the typing window.
//
// Lock order: never call into the TypingCoordinator while holding mu.
type Conversation struct {
	emitter

	conf Config
	deps Deps

	self string
	peer string
	key  string

	store  chatstore.IStore
	typing *TypingCoordinator

	mu         sync.Mutex
	handler    *ws.Handler
	dialing    bool
	state      BlockState
	profile    *pb.Profile
	peerTyping bool
	draft      string
	media      []api.MediaItem
	// epoch changes on Close; REST results of an older epoch are discarded.
	epoch uint64
}

func NewConversation(conf Config, deps Deps, peer string) (*Conversation, error) {
	conf.setDefaults()
	if err := deps.validate(); err != nil {
		return nil, err
	}
	self := deps.Session.Username()
	if peer == "" || peer == self {
		return nil, fmt.Errorf("chat: invalid peer `%s`", peer)
	}

	key := pb.ConversationKey(self, peer)
	c := &Conversation{
		emitter: newEmitter("conversation "+key, conf.EventBuffer),
		conf:    conf,
		deps:    deps,
		self:    self,
		peer:    peer,
		key:     key,
		store:   chatstore.New(),
	}
	c.typing = NewTypingCoordinator(conf.TypingIdle, c.sendTyping)
	return c, nil
}

func (c *Conversation) Key() string  { return c.key }
func (c *Conversation) Peer() string { return c.peer }

// Events delivers change notifications until the process ends; it is never closed.
func (c *Conversation) Events() <-chan Event {
	return c.events
}

func (c *Conversation) Sections() pb.Sections {
	return c.store.Sections()
}

func (c *Conversation) Store() chatstore.IStore {
	return c.store
}

func (c *Conversation) BlockState() BlockState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerTyping
}

func (c *Conversation) ConnState() ws.ConnState {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return ws.Closed
	}
	return h.State()
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Conversation) QueuedMedia() []api.MediaItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.MediaItem(nil), c.media...)
}

// Open connects the conversation socket. It is a no-op while the socket is
// connecting or open, and refused once the peer blocked the current user.
func (c *Conversation) Open(ctx context.Context) error {
	identity, ok := c.deps.Session.Identity()
	if !ok {
		return c.deps.Session.Err()
	}

	c.mu.Lock()
	if !c.state.ChatEnabled() {
		c.mu.Unlock()
		return ErrChatDisabled
	}
	if c.dialing {
		c.mu.Unlock()
		return nil
	}
	if c.handler != nil {
		switch c.handler.State() {
		case ws.Connecting, ws.Open:
			c.mu.Unlock()
			return nil
		}
	}
	c.dialing = true
	epoch := c.epoch
	c.mu.Unlock()

	conf := ws.DialConfig{
		URL:        fmt.Sprintf("%s/%s/%s/", c.conf.SocketBase, url.PathEscape(c.key), url.PathEscape(identity.Token)),
		Channel:    conversationChannel,
		Key:        c.key,
		PingPeriod: c.conf.PingPeriod,
		PongWait:   c.conf.PongWait,
		Dialer:     c.conf.Dialer,
	}
	h, opened, err := c.deps.Handlers.Open(ctx, conf, ws.Callbacks{
		OnFrame: c.dispatch,
		OnClose: c.onClose,
	})

	c.mu.Lock()
	c.dialing = false
	stale := c.epoch != epoch
	if err == nil && opened && !stale {
		c.handler = h
	}
	enabled := c.state.ChatEnabled()
	c.mu.Unlock()

	if err != nil {
		var dialErr *ws.DialError
		if errors.As(err, &dialErr) && dialErr.Unauthorized() {
			c.authExpired(err)
		}
		return err
	}
	if !opened {
		return ErrOpenElsewhere
	}
	if stale {
		// closed while dialing.
		h.Close()
		return ErrClosed
	}

	glog.V(5).Infof("conversation %s: socket open %s", c.key, h)
	c.emit(ConnChanged)

	if !enabled {
		// blocked while dialing.
		h.Close()
		return ErrChatDisabled
	}

	go c.watchSession(h)
	return nil
}

func (c *Conversation) watchSession(h *ws.Handler) {
	select {
	case <-c.deps.Session.Done():
		glog.V(5).Infof("conversation %s: session ended, closing", c.key)
		c.Close()
	case <-h.Done():
	}
}

// Close closes the socket and cancels the typing window. It is idempotent.
func (c *Conversation) Close() {
	c.typing.Stop()

	c.mu.Lock()
	h := c.handler
	c.handler = nil
	c.peerTyping = false
	c.epoch++
	c.mu.Unlock()

	if h != nil {
		h.Close()
	}
}

// closeSocket closes the socket but keeps pending REST results.
func (c *Conversation) closeSocket() {
	c.typing.Stop()
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (c *Conversation) dispatch(f *pb.Frame) {
	switch f.Status {
	case pb.StatusMsg, pb.StatusMediaUpdate:
		if f.Message == nil {
			glog.V(2).Infof("conversation %s: drop %s frame without message", c.key, f.Status)
			return
		}
		c.store.Upsert(c.conf.LiveSection, f.Message)
		c.persist()
		c.emit(MessagesChanged)

	case pb.StatusPresence:
		online := f.Result == pb.PresenceOnline
		c.mu.Lock()
		changed := c.state.PeerOnline != online
		c.state.PeerOnline = online
		c.mu.Unlock()
		if changed {
			c.emit(PresenceChanged)
		}
		if f.HasSnapshot() {
			c.store.ReplaceAll(*f.Messages)
			c.persist()
			c.emit(MessagesChanged)
		}

	case pb.StatusTyping:
		if f.Sender != c.peer {
			glog.V(5).Infof("conversation %s: ignore typing from `%s`", c.key, f.Sender)
			return
		}
		c.mu.Lock()
		c.peerTyping = f.GetIsTyping()
		c.mu.Unlock()
		c.emit(TypingChanged)

	case pb.StatusBlock:
		if f.Sender == c.self {
			return
		}
		c.mu.Lock()
		c.state.PeerBlockedSelf = f.GetIsBlocked()
		enabled := c.state.ChatEnabled()
		c.mu.Unlock()
		c.emit(BlockChanged)
		if !enabled {
			glog.Infof("conversation %s: blocked by `%s`, closing socket", c.key, c.peer)
			c.closeSocket()
		}

	default:
		glog.V(2).Infof("conversation %s: drop frame with unknown status `%s`", c.key, f.Status)
	}
}

func (c *Conversation) onClose(cause ws.CloseCause) {
	c.typing.Stop()

	c.mu.Lock()
	// a newer handler may already be registered after a reopen.
	if c.handler != nil && c.handler.State() == ws.Closed {
		c.handler = nil
	}
	pending := strings.TrimSpace(c.draft) != "" || len(c.media) > 0
	c.peerTyping = false
	c.mu.Unlock()

	c.emit(ConnChanged)
	if !cause.Unexpected() {
		return
	}
	err := fmt.Errorf("socket %s", cause)
	if pending {
		c.notice(&Notice{Kind: SendInterrupted, Err: err})
	} else {
		c.notice(&Notice{Kind: Disconnected, Err: err})
	}
}

// SetDraft records the input text and drives the typing window.
func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	live := c.handler != nil && c.state.ChatEnabled()
	c.mu.Unlock()

	if live {
		c.typing.InputChanged(text)
	}
}

func (c *Conversation) sendTyping(typing bool) {
	if err := c.send(pb.NewTypingFrame(c.self, c.peer, typing)); err != nil {
		glog.V(5).Infof("conversation %s: typing %v not sent: %v", c.key, typing, err)
	}
}

func (c *Conversation) send(f *pb.Frame) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return ErrNotOpen
	}
	return h.Send(f)
}

// Block blocks or unblocks the peer and tells the peer over the socket.
func (c *Conversation) Block(ctx context.Context, block bool) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.deps.Client.BlockUser(ctx, c.peer, block); err != nil {
		return c.restFailed(err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state.SelfBlockedPeer = block
	if c.profile != nil {
		c.profile.OtherBlocked = block
	}
	c.mu.Unlock()
	c.emit(BlockChanged)

	if err := c.send(pb.NewBlockFrame(c.self, c.peer, block)); err != nil {
		glog.Warningf("conversation %s: block frame not sent: %v", c.key, err)
	}
	return nil
}

// Load fetches the history and block state. With a cache, the cached copy is
// installed first.
func (c *Conversation) Load(ctx context.Context) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	if c.deps.Cache != nil {
		snap, err := c.deps.Cache.Load(ctx, c.self, c.key)
		switch {
		case err == nil:
			c.install(snap.Sections, snap.Profile)
		case errors.Is(err, store.ErrNotFound):
		default:
			glog.Errorf("conversation %s: load cache: %v", c.key, err)
		}
	}

	resp, err := c.deps.Client.FetchMessages(ctx, c.key)
	if err != nil {
		return c.restFailed(err)
	}

	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		return ErrClosed
	}

	c.install(resp.Messages, &resp.Profile)
	c.persist()
	return nil
}

func (c *Conversation) install(sections pb.Sections, profile *pb.Profile) {
	c.store.ReplaceAll(sections)
	c.emit(MessagesChanged)

	if profile == nil {
		return
	}
	p := *profile
	c.mu.Lock()
	c.profile = &p
	c.state.applyProfile(&p)
	enabled := c.state.ChatEnabled()
	c.mu.Unlock()
	c.emit(BlockChanged)

	if !enabled {
		c.closeSocket()
	}
}

// Delete deletes message `id` on the server and installs what remains.
func (c *Conversation) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	after, err := c.deps.Client.DeleteMessage(ctx, c.key, id)
	if err != nil {
		return c.restFailed(err)
	}

	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		return ErrClosed
	}

	c.store.Remove(id, after)
	c.persist()
	c.emit(MessagesChanged)
	return nil
}

// Clear deletes the whole conversation. An empty store is a no-op.
func (c *Conversation) Clear(ctx context.Context) error {
	if c.store.Len() == 0 {
		c.notice(&Notice{Kind: NothingToClear})
		return nil
	}

	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()

	if err := c.deps.Client.ClearChat(ctx, c.key); err != nil {
		return c.restFailed(err)
	}

	c.mu.Lock()
	stale := c.epoch != epoch
	c.mu.Unlock()
	if stale {
		return ErrClosed
	}

	c.store.ReplaceAll(pb.Sections{})
	c.persist()
	c.emit(MessagesChanged)
	return nil
}

func (c *Conversation) restFailed(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		c.authExpired(err)
	}
	return err
}

// authExpired runs after the session was invalidated.
func (c *Conversation) authExpired(err error) {
	c.deps.Session.Invalidate()
	c.notice(&Notice{Kind: AuthExpired, Err: err})
	c.Close()
}

func (c *Conversation) persist() {
	if c.deps.Cache == nil {
		return
	}
	c.mu.Lock()
	var profile *pb.Profile
	if c.profile != nil {
		p := *c.profile
		profile = &p
	}
	c.mu.Unlock()

	snap := &store.Snapshot{
		Key:      c.key,
		Sections: c.store.Sections(),
		Profile:  profile,
	}
	if err := c.deps.Cache.Save(context.Background(), c.self, snap); err != nil {
		glog.Errorf("conversation %s: save cache: %v", c.key, err)
	}
}
