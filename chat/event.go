package chat

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/mqy/minichat/ws"
)

var (
	ErrChatDisabled     = errors.New("chat: the peer has blocked you")
	ErrEmptyText        = errors.New("chat: empty message")
	ErrMediaPending     = errors.New("chat: media is queued, send it first")
	ErrDraftPending     = errors.New("chat: clear the text before attaching media")
	ErrMediaTooLarge    = errors.New("chat: media exceeds the size limit")
	ErrUnsupportedMedia = errors.New("chat: only image and video can be sent")
	ErrOpenElsewhere    = errors.New("chat: socket is owned by another channel")
	ErrClosed           = errors.New("chat: channel closed")

	ErrNotOpen       = ws.ErrNotOpen
	ErrSendQueueFull = ws.ErrSendQueueFull
)

type NoticeKind int

const (
	SendInterrupted NoticeKind = iota + 1
	Disconnected
	UploadFailed
	AuthExpired
	NothingToClear
)

func (k NoticeKind) String() string {
	switch k {
	case SendInterrupted:
		return "send interrupted"
	case Disconnected:
		return "disconnected"
	case UploadFailed:
		return "upload failed"
	case AuthExpired:
		return "session expired"
	case NothingToClear:
		return "nothing to clear"
	}
	return fmt.Sprintf("notice(%d)", int(k))
}

// Notice is a user facing failure report. Nothing it reports is fatal.
type Notice struct {
	Kind NoticeKind
	Err  error
	// Name of the media item for UploadFailed.
	Name string
}

func (n *Notice) String() string {
	switch {
	case n.Name != "" && n.Err != nil:
		return fmt.Sprintf("%s: %s: %v", n.Kind, n.Name, n.Err)
	case n.Err != nil:
		return fmt.Sprintf("%s: %v", n.Kind, n.Err)
	}
	return n.Kind.String()
}

type EventKind int

const (
	MessagesChanged EventKind = iota + 1
	TypingChanged
	BlockChanged
	PresenceChanged
	ConnChanged
	MediaQueueChanged
	NoticeRaised
	ChatsChanged
	MembersChanged
)

// Event tells the renderer which part of the state changed; read the state
// with the channel's getters.
type Event struct {
	Kind   EventKind
	Notice *Notice
}

type emitter struct {
	name   string
	events chan Event
}

func newEmitter(name string, size int) emitter {
	return emitter{name: name, events: make(chan Event, size)}
}

// emit never blocks; a reader that falls behind loses events, not state.
func (e emitter) emit(kind EventKind) {
	select {
	case e.events <- Event{Kind: kind}:
	default:
		glog.V(2).Infof("%s: event %d dropped, reader is slow", e.name, kind)
	}
}

func (e emitter) notice(n *Notice) {
	glog.Infof("%s: %s", e.name, n)
	select {
	case e.events <- Event{Kind: NoticeRaised, Notice: n}:
	default:
		glog.Warningf("%s: notice dropped, reader is slow: %s", e.name, n)
	}
}
