package chat

import (
	"strings"
	"sync"
	"time"
)

// TypingCoordinator turns keystrokes into at most one "typing start" per
// typing window and one "typing stop" after `idle` without input.
type TypingCoordinator struct {
	sync.Mutex

	idle time.Duration
	emit func(typing bool)

	timer    *time.Timer
	signaled bool
	// gen invalidates timers that fired while being replaced.
	gen uint64
}

// NewTypingCoordinator creates a coordinator; `emit` is called with the
// coordinator locked, so it must not call back into it.
func NewTypingCoordinator(idle time.Duration, emit func(typing bool)) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingCoordinator{idle: idle, emit: emit}
}

// InputChanged restarts the idle window. Blank input emits nothing.
func (t *TypingCoordinator) InputChanged(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	t.Lock()
	defer t.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.idle, func() { t.fire(gen) })

	if !t.signaled {
		t.signaled = true
		t.emit(true)
	}
}

func (t *TypingCoordinator) fire(gen uint64) {
	t.Lock()
	defer t.Unlock()
	if gen != t.gen || !t.signaled {
		return
	}
	t.timer = nil
	t.signaled = false
	t.emit(false)
}

// Flush ends the window now, emitting "typing stop" if a start was sent.
func (t *TypingCoordinator) Flush() {
	t.Lock()
	defer t.Unlock()
	signaled := t.reset()
	if signaled {
		t.emit(false)
	}
}

// Stop cancels the pending timer without emitting.
func (t *TypingCoordinator) Stop() {
	t.Lock()
	defer t.Unlock()
	t.reset()
}

// Active reports whether a start was sent and its stop is still pending.
func (t *TypingCoordinator) Active() bool {
	t.Lock()
	defer t.Unlock()
	return t.signaled
}

// reset requires the lock.
func (t *TypingCoordinator) reset() bool {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	signaled := t.signaled
	t.signaled = false
	return signaled
}
