// Package session serves one bidirectional book stream: it answers requests
// in arrival order and forwards hub broadcasts onto the same channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// DefaultSendBuffer is the outbound queue length used when Runtime.SendBuffer is unset.
const DefaultSendBuffer = 256

// ErrSlowConsumer is reported when a broadcast finds the outbound queue full.
// The session is closed rather than let the hub block.
var ErrSlowConsumer = errors.New("session send buffer full")

// Catalog is the set of book operations a session dispatches to.
type Catalog interface {
	ListBooks(ctx context.Context, query string) ([]domain.Book, error)
	GetBook(ctx context.Context, bookID string) (domain.Book, error)
	CreateBook(ctx context.Context, in domain.BookInput) (domain.Book, int, error)
	UpdateBook(ctx context.Context, bookID string, in domain.BookInput) (domain.Book, error)
	DeleteBook(ctx context.Context, bookID string) (domain.Book, int, error)
}

// Stream is one open channel. Recv returns io.EOF when the peer finished
// sending and protocol.ErrMalformed for an undecodable message that leaves the
// channel usable. Send is only called from one goroutine at a time.
type Stream interface {
	Recv() (protocol.Request, error)
	Send(protocol.Response) error
	// CloseSend ends the outbound side after a graceful finish.
	CloseSend() error
	// Close releases the channel and unblocks a pending Recv.
	Close() error
}

// Runtime is what every session shares. It is built once by the server.
type Runtime struct {
	Catalog    Catalog
	Hub        *hub.Hub
	Logger     *slog.Logger
	SendBuffer int
}

// Session is the server side of one stream.
type Session struct {
	id      string
	rt      Runtime
	stream  Stream
	logger  *slog.Logger
	out     chan protocol.Response
	token   hub.Token
	revoke  sync.Once
	stop    sync.Once
	drain   sync.Once
	done    chan struct{} // writer must stop now
	drained chan struct{} // writer flushes the queue, then half-closes
	wg      sync.WaitGroup

	mu    sync.Mutex
	alive bool
}

// New creates a session for stream. Nothing happens until Serve.
func New(rt Runtime, stream Stream) *Session {
	if rt.SendBuffer <= 0 {
		rt.SendBuffer = DefaultSendBuffer
	}
	sessionID := id.MustGenerate(id.PrefixSession)
	return &Session{
		id:      sessionID,
		rt:      rt,
		stream:  stream,
		logger:  rt.Logger.With("session_id", sessionID),
		out:     make(chan protocol.Response, rt.SendBuffer),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Serve runs the session until the stream ends or ctx is done. It returns nil
// when the peer finished normally.
func (s *Session) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()

	s.token = s.rt.Hub.Register(s.broadcast)
	s.logger.Info("session opened", "listeners", s.rt.Hub.Len())

	s.wg.Add(1)
	go s.writeLoop()

	// Closing the stream is the only way to interrupt a blocked Recv.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.stream.Close()
		case <-watchDone:
		}
	}()

	err := s.readLoop(ctx)

	if errors.Is(err, io.EOF) {
		s.finish()
		s.wg.Wait()
		s.stream.Close()
		s.logger.Info("session ended by peer")
		return nil
	}

	s.abort()
	s.wg.Wait()
	s.stream.Close()
	if ctx.Err() != nil {
		s.logger.Info("session closed", "reason", ctx.Err())
		return nil
	}
	s.logger.Warn("session failed", "error", err)
	return err
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		req, err := s.stream.Recv()
		if errors.Is(err, protocol.ErrMalformed) {
			s.logger.Warn("malformed message", "error", err)
			if !s.reply(protocol.NewResponse(protocol.ActionUnknown, protocol.StatusError, msgMalformed, "")) {
				return errSessionClosed
			}
			continue
		}
		if err != nil {
			return err
		}

		if !s.reply(s.handle(ctx, req)) {
			return errSessionClosed
		}
	}
}

var errSessionClosed = errors.New("session closed")

// reply queues a direct response. It waits for room in the queue and reports
// false once the session can no longer write.
func (s *Session) reply(resp protocol.Response) bool {
	if !s.isAlive() {
		return false
	}
	select {
	case s.out <- resp:
		return true
	case <-s.done:
		return false
	}
}

// broadcast is the hub listener. It never blocks the hub: a session whose
// queue is full is closed.
func (s *Session) broadcast(resp protocol.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return nil
	}
	select {
	case s.out <- resp:
		return nil
	default:
	}

	s.alive = false
	go s.abort()
	go s.stream.Close()
	return fmt.Errorf("session %s: %w", s.id, ErrSlowConsumer)
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case resp := <-s.out:
			if !s.write(resp) {
				return
			}
		case <-s.drained:
			for {
				select {
				case resp := <-s.out:
					if !s.write(resp) {
						return
					}
				default:
					if err := s.stream.CloseSend(); err != nil {
						s.logger.Debug("close send failed", "error", err)
					}
					return
				}
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) write(resp protocol.Response) bool {
	if err := s.stream.Send(resp); err != nil {
		s.logger.Warn("send failed", "action", resp.Action.String(), "error", err)
		s.abort()
		s.stream.Close()
		return false
	}
	return true
}

func (s *Session) isAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// kill marks the session dead and revokes the hub registration exactly once.
func (s *Session) kill() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()

	s.revoke.Do(func() { s.rt.Hub.Deregister(s.token) })
}

// finish is the end-of-input path: flush what is queued, then half-close.
func (s *Session) finish() {
	s.kill()
	s.drain.Do(func() { close(s.drained) })
}

// abort is the error path: stop writing immediately.
func (s *Session) abort() {
	s.kill()
	s.stop.Do(func() { close(s.done) })
}

// logPanic records a recovered dispatch panic.
func (s *Session) logPanic(req protocol.Request, r any) {
	s.logger.Error("panic in dispatch",
		"action", req.Action.String(),
		"request_id", req.RequestID,
		"panic", r,
		"stack", string(debug.Stack()),
	)
}
