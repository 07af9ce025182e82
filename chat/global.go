package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/minichat/api"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/ws"
)

const globalChannel = "global"

// Global is the per-login channel that keeps the conversation list and the
// online members current. A new login needs a new Global.
type Global struct {
	emitter

	conf Config
	deps Deps
	self string

	mu      sync.Mutex
	handler *ws.Handler
	dialing bool
	// epoch changes on Close; a dial that finishes after it is closed again.
	epoch   uint64
	chats   []*pb.ChatPreview
	members []string
}

func NewGlobal(conf Config, deps Deps) (*Global, error) {
	conf.setDefaults()
	if err := deps.validate(); err != nil {
		return nil, err
	}
	self := deps.Session.Username()
	return &Global{
		emitter: newEmitter("global "+self, conf.EventBuffer),
		conf:    conf,
		deps:    deps,
		self:    self,
	}, nil
}

func (g *Global) Events() <-chan Event {
	return g.events
}

func (g *Global) key() string {
	return globalChannel + ":" + g.self
}

// Open connects the global socket unless the current handle is live. It is
// refused once the session ended.
func (g *Global) Open(ctx context.Context) error {
	identity, ok := g.deps.Session.Identity()
	if !ok {
		return g.deps.Session.Err()
	}

	g.mu.Lock()
	if g.dialing {
		g.mu.Unlock()
		return nil
	}
	if g.handler != nil {
		switch g.handler.State() {
		case ws.Connecting, ws.Open:
			g.mu.Unlock()
			return nil
		}
	}
	g.dialing = true
	epoch := g.epoch
	g.mu.Unlock()

	conf := ws.DialConfig{
		URL:        fmt.Sprintf("%s/%s/", g.conf.GlobalBase, url.PathEscape(identity.Token)),
		Channel:    globalChannel,
		Key:        g.key(),
		PingPeriod: g.conf.PingPeriod,
		PongWait:   g.conf.PongWait,
		Dialer:     g.conf.Dialer,
	}
	h, opened, err := g.deps.Handlers.Open(ctx, conf, ws.Callbacks{
		OnFrame: g.dispatch,
		OnClose: g.onClose,
	})

	g.mu.Lock()
	g.dialing = false
	stale := g.epoch != epoch
	if err == nil && opened && !stale {
		g.handler = h
	}
	g.mu.Unlock()

	if err != nil {
		var dialErr *ws.DialError
		if errors.As(err, &dialErr) && dialErr.Unauthorized() {
			g.authExpired(err)
		}
		return err
	}
	if !opened {
		return ErrOpenElsewhere
	}
	if stale {
		h.Close()
		return ErrClosed
	}

	g.emit(ConnChanged)

	go func() {
		select {
		case <-g.deps.Session.Done():
			glog.V(5).Infof("global %s: session ended, closing", g.self)
			g.Close()
		case <-h.Done():
		}
	}()
	return nil
}

func (g *Global) Close() {
	g.mu.Lock()
	h := g.handler
	g.handler = nil
	g.epoch++
	g.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

func (g *Global) ConnState() ws.ConnState {
	g.mu.Lock()
	h := g.handler
	g.mu.Unlock()
	if h == nil {
		return ws.Closed
	}
	return h.State()
}

// Load fetches the conversation list over REST.
func (g *Global) Load(ctx context.Context) error {
	chats, err := g.deps.Client.FetchChats(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			g.authExpired(err)
		}
		return err
	}
	g.setChats(chats)
	return nil
}

// Chats returns a copy of the conversation list.
func (g *Global) Chats() []*pb.ChatPreview {
	g.mu.Lock()
	defer g.mu.Unlock()
	return cloneChats(g.chats)
}

// Members returns the online usernames, self excluded.
func (g *Global) Members() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.members...)
}

// OnlineChats returns the conversations whose peer is online.
func (g *Global) OnlineChats() []*pb.ChatPreview {
	g.mu.Lock()
	defer g.mu.Unlock()

	online := make(map[string]bool, len(g.members))
	for _, m := range g.members {
		online[m] = true
	}
	var out []*pb.ChatPreview
	for _, c := range g.chats {
		if online[c.Username] {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

func (g *Global) dispatch(f *pb.Frame) {
	switch f.Status {
	case pb.StatusMsg:
		if f.Chats == nil {
			glog.V(2).Infof("global %s: msg frame without chats dropped", g.self)
			return
		}
		g.setChats(f.Chats)

	case pb.StatusPresence:
		members := make([]string, 0, len(f.Members))
		for _, m := range f.Members {
			if m != g.self {
				members = append(members, m)
			}
		}
		sort.Strings(members)
		g.mu.Lock()
		g.members = members
		g.mu.Unlock()
		g.emit(MembersChanged)

	case pb.StatusTyping:
		typing := f.GetIsTyping()
		g.mu.Lock()
		var found bool
		for _, c := range g.chats {
			if c.Username == f.Sender {
				c.IsTyping = typing
				found = true
			}
		}
		g.mu.Unlock()
		if found {
			g.emit(ChatsChanged)
		} else {
			glog.V(5).Infof("global %s: typing from `%s` not in chat list", g.self, f.Sender)
		}

	default:
		glog.V(2).Infof("global %s: drop frame with unknown status `%s`", g.self, f.Status)
	}
}

func (g *Global) setChats(chats []*pb.ChatPreview) {
	cp := cloneChats(chats)
	if cp == nil {
		cp = []*pb.ChatPreview{}
	}
	g.mu.Lock()
	g.chats = cp
	g.mu.Unlock()
	g.emit(ChatsChanged)
}

func (g *Global) onClose(cause ws.CloseCause) {
	g.mu.Lock()
	if g.handler != nil && g.handler.State() == ws.Closed {
		g.handler = nil
	}
	g.mu.Unlock()

	g.emit(ConnChanged)
	if cause.Unexpected() {
		g.notice(&Notice{Kind: Disconnected, Err: fmt.Errorf("socket %s", cause)})
	}
}

func (g *Global) authExpired(err error) {
	g.deps.Session.Invalidate()
	g.notice(&Notice{Kind: AuthExpired, Err: err})
	g.Close()
}

func cloneChats(in []*pb.ChatPreview) []*pb.ChatPreview {
	if in == nil {
		return nil
	}
	out := make([]*pb.ChatPreview, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out
}
