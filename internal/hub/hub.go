// Package hub fans catalog change notifications out to every live stream session.
package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/listenupapp/bookstream/internal/protocol"
)

// Listener receives published envelopes. A returned error is logged; it never
// affects delivery to other listeners.
type Listener func(protocol.Response) error

// Token identifies a registration. The zero Token is never issued.
type Token uint64

type entry struct {
	token    Token
	listener Listener
}

// Hub is an in-process broadcast registry. It is safe for concurrent use,
// including registering and deregistering from inside a listener.
type Hub struct {
	mu        sync.RWMutex
	listeners []entry
	next      Token
	logger    *slog.Logger
}

// New creates an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{logger: logger}
}

// Register adds a listener and returns its token. It never fails.
func (h *Hub) Register(l Listener) Token {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	// Copy-on-write so in-flight publishes keep their snapshot.
	next := make([]entry, len(h.listeners), len(h.listeners)+1)
	copy(next, h.listeners)
	h.listeners = append(next, entry{token: h.next, listener: l})

	h.logger.Debug("listener registered", "token", h.next, "listeners", len(h.listeners))
	return h.next
}

// Deregister removes a listener. Unknown or already removed tokens are ignored.
func (h *Hub) Deregister(t Token) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, e := range h.listeners {
		if e.token != t {
			continue
		}
		next := make([]entry, 0, len(h.listeners)-1)
		next = append(next, h.listeners[:i]...)
		next = append(next, h.listeners[i+1:]...)
		h.listeners = next
		h.logger.Debug("listener deregistered", "token", t, "listeners", len(h.listeners))
		return
	}
}

// Publish delivers resp synchronously to every listener registered when the
// call started. Listeners run outside the lock.
func (h *Hub) Publish(resp protocol.Response) {
	h.mu.RLock()
	snapshot := h.listeners
	h.mu.RUnlock()

	for _, e := range snapshot {
		if err := h.deliver(e, resp); err != nil {
			h.logger.Warn("listener failed",
				"token", e.token,
				"action", resp.Action.String(),
				"error", err,
			)
		}
	}
}

func (h *Hub) deliver(e entry, resp protocol.Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return e.listener(resp)
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close drops every listener.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = nil
}
