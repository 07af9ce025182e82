package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/pborman/uuid"

	pb "github.com/mqy/minichat/proto"
)

var (
	ErrNotOpen       = errors.New("ws: socket is not open")
	ErrSendQueueFull = errors.New("ws: send queue is full")
)

// CloseCause tells why a socket ended.
type CloseCause int

const (
	ReadError  CloseCause = 1
	WriteError CloseCause = 2
	PingError  CloseCause = 3
	PeerClose  CloseCause = 4
	LocalClose CloseCause = 5
)

func (c CloseCause) String() string {
	switch c {
	case ReadError:
		return "read error"
	case WriteError:
		return "write error"
	case PingError:
		return "ping error"
	case PeerClose:
		return "closed by peer"
	case LocalClose:
		return "closed locally"
	}
	return fmt.Sprintf("cause(%d)", int(c))
}

// Unexpected is true for every cause but a local Close.
func (c CloseCause) Unexpected() bool {
	return c != LocalClose
}

type ConnState int32

const (
	Closed ConnState = iota
	Connecting
	Open
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return "unknown"
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	defaultPingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 25 * time.Second

	// websocket max message size to read; status frames may carry a whole conversation.
	defaultReadLimit = 1 << 20

	defaultSendQueue    = 16
	defaultInboundQueue = 64
	defaultHandshake    = 10 * time.Second
)

// DialConfig describes one socket.
type DialConfig struct {
	// URL is the full ws:// or wss:// address, credentials included.
	URL string

	// Channel labels metrics and logs, e.g. "conversation" or "global".
	Channel string

	// Key identifies the socket in its HandlerStore.
	Key string

	SendQueue    int
	InboundQueue int
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration

	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (c *DialConfig) setDefaults() {
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.InboundQueue <= 0 {
		c.InboundQueue = defaultInboundQueue
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.PingPeriod <= 0 {
		c.PingPeriod = defaultPingPeriod
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 4 / 5
	}
	if c.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = defaultHandshake
		c.Dialer = &d
	}
}

// Callbacks are invoked from the handler's single dispatch goroutine, in arrival order.
// OnClose runs once, after the last OnFrame.
type Callbacks struct {
	OnFrame func(f *pb.Frame)
	OnClose func(cause CloseCause)
}

// Handler manages one client socket: a recvLoop feeding the inbound queue, a
// dispatchLoop consuming it, and a sendLoop draining dataChan.
type Handler struct {
	sync.Mutex

	sid     string
	conf    DialConfig
	cb      Callbacks
	metrics *Metrics
	hstore  *HandlerStore

	conn  *websocket.Conn
	state ConnState
	cause CloseCause

	dataChan chan []byte
	inbound  chan *pb.Frame
	stopChan chan struct{}
	done     chan struct{}

	closing bool
}

func newHandler(conf DialConfig, cb Callbacks, metrics *Metrics, hstore *HandlerStore) *Handler {
	conf.setDefaults()
	return &Handler{
		sid:      strings.ReplaceAll(uuid.New(), "-", ""),
		conf:     conf,
		cb:       cb,
		metrics:  metrics,
		hstore:   hstore,
		state:    Connecting,
		dataChan: make(chan []byte, conf.SendQueue),
		inbound:  make(chan *pb.Frame, conf.InboundQueue),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *Handler) String() string {
	return fmt.Sprintf("{sid: %s, channel: %s, key: %s}", h.sid, h.conf.Channel, h.conf.Key)
}

func (h *Handler) Key() string {
	return h.conf.Key
}

func (h *Handler) State() ConnState {
	h.Lock()
	defer h.Unlock()
	return h.state
}

// Done is closed after OnClose returned, or when the dial failed.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// dial connects and starts the loops. On failure, or when closed while connecting,
// the handler ends Closed without invoking any callback.
func (h *Handler) dial(ctx context.Context) error {
	conn, res, err := h.conf.Dialer.DialContext(ctx, h.conf.URL, nil)
	if err != nil {
		h.metrics.dialFailed(h.conf.Channel)
		h.Lock()
		h.closing = true
		h.state = Closed
		h.Unlock()
		close(h.done)
		if res != nil {
			// the handshake got an HTTP answer, e.g. 401 or 404.
			return &DialError{Status: res.StatusCode, Err: err}
		}
		return &DialError{Err: err}
	}

	h.Lock()
	if h.closing {
		// closed while connecting.
		h.Unlock()
		conn.Close()
		close(h.done)
		return ErrNotOpen
	}
	h.conn = conn
	h.state = Open
	h.Unlock()

	h.metrics.opened(h.conf.Channel)
	glog.V(5).Infof("socket open: %s", h)

	go h.recvLoop()
	go h.sendLoop()
	go h.dispatchLoop()
	return nil
}

// DialError is returned when the socket could not be opened.
type DialError struct {
	// Status is the HTTP status of a refused handshake, 0 for network errors.
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ws: dial refused with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("ws: dial: %v", e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Unauthorized reports whether the server rejected the credentials in the URL.
func (e *DialError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Send encodes and enqueues `f` without blocking.
func (h *Handler) Send(f *pb.Frame) error {
	data, err := pb.Encode(f)
	if err != nil {
		return err
	}

	h.Lock()
	defer h.Unlock()
	if h.closing || h.state != Open {
		return ErrNotOpen
	}
	select {
	case h.dataChan <- data:
		h.metrics.frameSent(h.conf.Channel, f.Status)
		return nil
	default:
		h.metrics.frameDropped(h.conf.Channel, "send_queue_full")
		return ErrSendQueueFull
	}
}

// Close closes the socket; it is idempotent and safe from any goroutine,
// callbacks included.
func (h *Handler) Close() {
	h.close(LocalClose)
}

func (h *Handler) close(cause CloseCause) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true
	h.cause = cause
	connected := h.conn != nil
	if connected {
		h.state = Closing
		// WriteControl may run concurrently with sendLoop's writes.
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		h.conn.Close()
		close(h.stopChan)
	}
	h.state = Closed
	h.Unlock()

	if connected {
		h.metrics.closed(h.conf.Channel)
	}
	if h.hstore != nil {
		h.hstore.del(h)
	}
	glog.V(5).Infof("socket closed, cause: %s, %s", cause, h)
}

func (h *Handler) recvLoop() {
	defer func() {
		close(h.inbound)
		glog.V(5).Infof("recvLoop(): exited, %s", h)
	}()

	h.conn.SetReadLimit(h.conf.ReadLimit)
	h.conn.SetReadDeadline(time.Now().Add(h.conf.PongWait))
	h.conn.SetPongHandler(func(string) error {
		h.conn.SetReadDeadline(time.Now().Add(h.conf.PongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			cause := ReadError
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = PeerClose
			} else if !h.isClosing() {
				glog.Errorf("recvLoop(): read error: %v, %s", err, h)
			}
			h.close(cause)
			return
		}
		// any traffic proves the peer alive.
		h.conn.SetReadDeadline(time.Now().Add(h.conf.PongWait))

		if msgType != websocket.TextMessage {
			glog.V(2).Infof("recvLoop(): drop non-text message, type: %d, %s", msgType, h)
			h.metrics.frameDropped(h.conf.Channel, "binary")
			continue
		}

		f, err := pb.Decode(msg)
		if err != nil {
			glog.V(2).Infof("recvLoop(): drop malformed frame: %v, %s", err, h)
			h.metrics.frameDropped(h.conf.Channel, "malformed")
			continue
		}

		if glog.V(5) {
			logValue := string(msg)
			if len(logValue) > 100 {
				logValue = logValue[:100] + " ..."
			}
			glog.Infof("recvLoop(): incoming frame: %s, %s", logValue, h)
		}

		h.metrics.frameReceived(h.conf.Channel, f.Status)
		h.inbound <- f
	}
}

func (h *Handler) dispatchLoop() {
	defer close(h.done)

	for f := range h.inbound {
		if h.cb.OnFrame != nil {
			h.cb.OnFrame(f)
		}
	}

	h.Lock()
	cause := h.cause
	h.Unlock()
	if h.cb.OnClose != nil {
		h.cb.OnClose(cause)
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(h.conf.PingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, %s", h)
	}()

	for {
		select {
		case <-h.stopChan:
			if n := len(h.dataChan); n > 0 {
				glog.V(2).Infof("sendLoop(): %d queued frames discarded, %s", n, h)
				h.metrics.framesDiscarded(h.conf.Channel, n)
			}
			return
		case data := <-h.dataChan:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !h.isClosing() {
					glog.Errorf("sendLoop(): write error: %v, %s", err, h)
				}
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !h.isClosing() {
					glog.Errorf("sendLoop(): write ping error: %v, %s", err, h)
				}
				h.close(PingError)
				return
			}
		}
	}
}

func (h *Handler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}
