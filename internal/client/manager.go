// Package client keeps one logical stream open to a book stream server. It
// gates writes until the stream is ready, queues what is sent before that,
// and reconnects after the stream is lost.
package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// DefaultReconnectDelay is used when Options.ReconnectDelay is unset.
const DefaultReconnectDelay = 5 * time.Second

// SubscribeRequestID is the request id of the SUBSCRIBE that opens every stream.
const SubscribeRequestID = "init"

var (
	// ErrPendingQueueFull is returned by Send when the pending bound is reached.
	ErrPendingQueueFull = domainerrors.Unavailable("pending request queue is full")

	// ErrStreamEnded is reported to error observers when the server closes the stream.
	ErrStreamEnded = errors.New("stream ended by server")
)

// Channel is one open stream to the server. Send is called from one goroutine
// at a time; Recv runs concurrently with it.
type Channel interface {
	Send(protocol.Request) error
	// Recv returns io.EOF when the server closed the stream normally and an
	// error wrapping protocol.ErrMalformed for an undecodable frame.
	Recv() (protocol.Response, error)
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// State is the connection state.
type State int

// Connection states.
const (
	StateIdle State = iota
	StateConnecting
	StateOpen // open, not yet ready
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Options tune a Manager.
type Options struct {
	// ReconnectDelay is the wait between losing the stream and dialing again.
	ReconnectDelay time.Duration
	// ReadyFallback marks a stream ready this long after it opens even if
	// nothing has been received. Zero means as soon as the timer can fire.
	ReadyFallback time.Duration
	// MaxPending bounds the pending queue. Zero means unbounded.
	MaxPending int
	Logger     *slog.Logger
}

// Manager owns the client's single stream.
type Manager struct {
	dialer Dialer
	opts   Options
	logger *slog.Logger

	envelopes *Fanout[protocol.Response]
	failures  *Fanout[error]

	mu         sync.Mutex
	wake       *sync.Cond // signals the writer; uses mu
	state      State
	gen        uint64 // bumped for every new stream and on Disconnect
	ch         Channel
	pending    []protocol.Request // gated until ready
	outbox     []protocol.Request // cleared for the writer
	cancelDial context.CancelFunc
	reconnect  *time.Timer
	fallback   *time.Timer
}

// NewManager creates an idle manager. Nothing is dialed until Connect or Send.
func NewManager(dialer Dialer, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		dialer:    dialer,
		opts:      opts,
		logger:    opts.Logger,
		envelopes: NewFanout[protocol.Response](opts.Logger),
		failures:  NewFanout[error](opts.Logger),
	}
	m.wake = sync.NewCond(&m.mu)
	return m
}

// OnEnvelope registers an observer for every inbound envelope.
func (m *Manager) OnEnvelope(fn func(protocol.Response)) (unsubscribe func()) {
	return m.envelopes.Subscribe(fn)
}

// OnError registers an observer for connectivity failures.
func (m *Manager) OnError(fn func(error)) (unsubscribe func()) {
	return m.failures.Subscribe(fn)
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts opening a stream. It is a no-op while a stream is open or
// being dialed. A scheduled reconnect is replaced by an immediate attempt.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	if m.state == StateConnecting || m.ch != nil {
		return
	}
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}

	m.gen++
	gen := m.gen
	m.state = StateConnecting

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel

	m.logger.Debug("connecting", "generation", gen)
	go m.dial(ctx, cancel, gen)
}

// dial opens stream gen. The context bounds the dial only.
func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	ch, err := m.dialer.Dial(ctx)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		// Disconnected while dialing.
		m.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		return
	}
	if err != nil {
		m.mu.Unlock()
		m.lose(gen, err)
		return
	}

	m.ch = ch
	m.state = StateOpen
	m.cancelDial = nil
	// SUBSCRIBE goes out first, ahead of the readiness gate.
	m.outbox = append(m.outbox[:0], protocol.Request{
		Action:    protocol.ActionSubscribe,
		RequestID: SubscribeRequestID,
	})
	m.fallback = time.AfterFunc(m.opts.ReadyFallback, func() { m.markReady(gen) })
	m.mu.Unlock()

	m.logger.Info("stream opened", "generation", gen)
	go m.writeLoop(gen, ch)
	go m.readLoop(gen, ch)
}

func (m *Manager) readLoop(gen uint64, ch Channel) {
	for {
		resp, err := ch.Recv()
		if errors.Is(err, protocol.ErrMalformed) {
			m.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		if err != nil {
			m.lose(gen, err)
			return
		}

		m.markReady(gen)
		m.envelopes.Emit(resp)
	}
}

func (m *Manager) writeLoop(gen uint64, ch Channel) {
	for {
		m.mu.Lock()
		for len(m.outbox) == 0 && gen == m.gen {
			m.wake.Wait()
		}
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		req := m.outbox[0]
		m.outbox = m.outbox[1:]
		m.mu.Unlock()

		if err := ch.Send(req); err != nil {
			m.lose(gen, err)
			return
		}
	}
}

// markReady opens the gate for stream gen and moves the pending queue, in
// order, to the writer. Only the first call per stream has an effect.
func (m *Manager) markReady(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateOpen {
		return
	}
	if m.fallback != nil {
		m.fallback.Stop()
		m.fallback = nil
	}
	m.state = StateReady
	flushed := len(m.pending)
	m.outbox = append(m.outbox, m.pending...)
	m.pending = nil
	m.wake.Broadcast()

	m.logger.Debug("stream ready", "generation", gen, "flushed", flushed)
}

// lose handles the failure of stream gen: it drops what was queued for that
// stream, notifies error observers and schedules a single reconnect.
// Requests sent afterwards wait in the pending queue for the next stream.
func (m *Manager) lose(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateReconnecting || m.state == StateIdle {
		m.mu.Unlock()
		return
	}

	ch := m.ch
	m.ch = nil
	m.state = StateReconnecting
	// Requests queued for a stream that opened are dropped with it. After a
	// failed dial nothing was bound to a stream, so the queue is kept.
	if ch != nil {
		m.pending = nil
	}
	m.outbox = nil
	if m.fallback != nil {
		m.fallback.Stop()
		m.fallback = nil
	}
	m.cancelDial = nil
	// Stale goroutines of this stream see a new generation and exit.
	m.gen++
	m.wake.Broadcast()

	if m.reconnect == nil {
		m.reconnect = time.AfterFunc(m.opts.ReconnectDelay, m.reconnectNow)
	}
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}

	if errors.Is(cause, io.EOF) {
		cause = ErrStreamEnded
	}
	err := domainerrors.Transport(cause, "stream connection lost")
	m.logger.Warn("stream lost, reconnect scheduled",
		"error", cause,
		"delay", m.opts.ReconnectDelay,
	)
	m.failures.Emit(err)
}

func (m *Manager) reconnectNow() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateReconnecting {
		return
	}
	m.reconnect = nil
	m.state = StateIdle
	m.connectLocked()
}

// Send issues a request. Before the stream is ready the request is queued
// and flushed, in order, when it becomes ready; if no stream exists one is
// opened. Send never waits for the network.
func (m *Manager) Send(req protocol.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateIdle {
		m.connectLocked()
	}

	if m.state == StateReady {
		m.outbox = append(m.outbox, req)
		m.wake.Broadcast()
		return nil
	}

	if m.opts.MaxPending > 0 && len(m.pending) >= m.opts.MaxPending {
		return ErrPendingQueueFull
	}
	m.pending = append(m.pending, req)
	return nil
}

// Disconnect closes the stream for good: the scheduled reconnect is
// cancelled, queued requests are dropped and no reconnect follows. A later
// Connect or Send starts over.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	ch := m.ch
	m.ch = nil
	m.gen++
	m.state = StateIdle
	m.pending = nil
	m.outbox = nil
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.fallback != nil {
		m.fallback.Stop()
		m.fallback = nil
	}
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.wake.Broadcast()
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
		m.logger.Info("stream closed")
	}
}
