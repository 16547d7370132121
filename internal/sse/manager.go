package sse

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// ErrShutdown is returned by Connect once the manager has shut down.
var ErrShutdown = errors.New("sse manager is shut down")

// Stream is the connection manager the bridge relays. *client.Manager
// implements it.
type Stream interface {
	Connect()
	Disconnect()
	Send(protocol.Request) error
	State() client.State
	OnEnvelope(func(protocol.Response)) (unsubscribe func())
	OnError(func(error)) (unsubscribe func())
}

// Client represents a connected SSE client.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string
}

// Manager manages SSE connections and broadcasts stream envelopes to them.
// The stream is opened when the first client connects and closed when the
// last one leaves.
type Manager struct {
	stream  Stream
	clients map[string]*Client
	logger  *slog.Logger
	mu      sync.RWMutex

	shutdown    bool
	unsubscribe []func()
}

// NewManager creates a new SSE Manager relaying stream.
func NewManager(stream Stream, logger *slog.Logger) *Manager {
	m := &Manager{
		stream:  stream,
		clients: make(map[string]*Client),
		logger:  logger,
	}
	m.unsubscribe = []func(){
		stream.OnEnvelope(func(resp protocol.Response) {
			m.broadcast(NewEnvelopeEvent(resp))
		}),
		stream.OnError(func(err error) {
			m.broadcast(NewConnectionEvent(err))
		}),
	}
	return m
}

// broadcast sends an event to every connected client.
func (m *Manager) broadcast(event Event) {
	var delivered, dropped int

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.clients {
		// Non-blocking send (drop if client is slow/stuck).
		select {
		case c.EventChan <- event:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow client",
				slog.String("client_id", c.ID),
				slog.String("event_type", string(event.Type)))
		}
	}

	m.logger.Debug("event broadcast",
		slog.String("event_type", string(event.Type)),
		slog.Group("stats",
			slog.Int("delivered", delivered),
			slog.Int("dropped", dropped)))
}

// Connect registers a new SSE client and returns the client object. The
// first client opens the stream.
func (m *Manager) Connect() (*Client, error) {
	clientID, err := id.Generate(id.PrefixBridge)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ID:          clientID,
		EventChan:   make(chan Event, 100), // Buffer 100 events per client
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, ErrShutdown
	}
	m.clients[c.ID] = c
	totalClients := len(m.clients)
	if totalClients == 1 {
		m.stream.Connect()
	}
	m.mu.Unlock()

	m.logger.Info("SSE client connected",
		slog.String("client_id", clientID),
		slog.Int("total_clients", totalClients))
	return c, nil
}

// Disconnect removes a client and closes its channels. The last client to
// leave closes the stream.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, clientID)
	totalClients := len(m.clients)
	if totalClients == 0 {
		m.stream.Disconnect()
	}
	m.mu.Unlock()

	close(c.Done)

	m.logger.Info("SSE client disconnected",
		slog.String("client_id", clientID),
		slog.Duration("duration", time.Since(c.ConnectedAt)),
		slog.Int("total_clients", totalClients))
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Shutdown closes every client and the stream. Later Connect calls fail.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	for _, c := range m.clients {
		close(c.Done)
	}
	m.clients = make(map[string]*Client) // Clear the map
	m.mu.Unlock()

	for _, fn := range m.unsubscribe {
		fn()
	}
	m.stream.Disconnect()

	m.logger.Info("SSE manager shut down")
}
