package ws

import (
	"context"
	"sync"

	"github.com/golang/glog"
)

// HandlerStore is the registry of live sockets, at most one per key.
type HandlerStore struct {
	sync.RWMutex
	handlers map[string]*Handler
	metrics  *Metrics
}

// NewHandlerStore creates a store; `metrics` may be nil.
func NewHandlerStore(metrics *Metrics) *HandlerStore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &HandlerStore{
		handlers: make(map[string]*Handler),
		metrics:  metrics,
	}
}

// Open dials conf.URL unless a socket for conf.Key is already Connecting or
// Open, in which case that handler is returned with opened == false and no
// dial happens.
func (hs *HandlerStore) Open(ctx context.Context, conf DialConfig, cb Callbacks) (h *Handler, opened bool, err error) {
	hs.Lock()
	if cur := hs.handlers[conf.Key]; cur != nil {
		switch cur.State() {
		case Connecting, Open:
			hs.Unlock()
			glog.V(5).Infof("open: socket already live, %s", cur)
			return cur, false, nil
		}
	}
	h = newHandler(conf, cb, hs.metrics, hs)
	hs.handlers[conf.Key] = h
	hs.Unlock()

	if err := h.dial(ctx); err != nil {
		hs.del(h)
		return nil, false, err
	}
	return h, true, nil
}

func (hs *HandlerStore) Get(key string) *Handler {
	hs.RLock()
	h := hs.handlers[key]
	hs.RUnlock()
	return h
}

// del removes `handler` if it is still the one registered under its key.
func (hs *HandlerStore) del(handler *Handler) bool {
	hs.Lock()
	defer hs.Unlock()
	if cur, ok := hs.handlers[handler.Key()]; ok && cur == handler {
		delete(hs.handlers, handler.Key())
		return true
	}
	return false
}

func (hs *HandlerStore) Len() int {
	hs.RLock()
	defer hs.RUnlock()
	return len(hs.handlers)
}

// Close closes every registered socket.
func (hs *HandlerStore) Close() {
	hs.RLock()
	handlers := make([]*Handler, 0, len(hs.handlers))
	for _, h := range hs.handlers {
		handlers = append(handlers, h)
	}
	hs.RUnlock()

	// close() calls back into del(), so never hold the lock here.
	for _, h := range handlers {
		h.Close()
	}
}
