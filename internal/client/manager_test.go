package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/bookstream/internal/domain"
	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/protocol"
)

const waitFor = 2 * time.Second

var errChannelClosed = errors.New("channel closed")

type received struct {
	resp protocol.Response
	err  error
}

// fakeChannel is an in-memory Channel. Closing in ends the stream with io.EOF.
type fakeChannel struct {
	in     chan received
	sent   chan protocol.Request
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan received, 16),
		sent:   make(chan protocol.Request, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) Send(req protocol.Request) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}
	c.sent <- req
	return nil
}

func (c *fakeChannel) Recv() (protocol.Response, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return protocol.Response{}, io.EOF
		}
		return m.resp, m.err
	case <-c.closed:
		return protocol.Response{}, errChannelClosed
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a response to the manager as if the server sent it.
func (c *fakeChannel) push(resp protocol.Response) {
	c.in <- received{resp: resp}
}

func (c *fakeChannel) next(t *testing.T) protocol.Request {
	t.Helper()
	select {
	case req := <-c.sent:
		return req
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a request")
		return protocol.Request{}
	}
}

func (c *fakeChannel) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case req := <-c.sent:
		t.Fatalf("unexpected request %s %q", req.Action, req.RequestID)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeDialer hands out a new fakeChannel per dial. Queued failures are
// returned first.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failures []error
	opened   chan *fakeChannel
}

func newFakeDialer(failures ...error) *fakeDialer {
	return &fakeDialer{failures: failures, opened: make(chan *fakeChannel, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Channel, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.failures) > 0 {
		err = d.failures[0]
		d.failures = d.failures[1:]
	}
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	ch := newFakeChannel()
	d.opened <- ch
	return ch, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) next(t *testing.T) *fakeChannel {
	t.Helper()
	select {
	case ch := <-d.opened:
		return ch
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func newTestManager(t *testing.T, d Dialer, opts Options) *Manager {
	t.Helper()
	if opts.ReadyFallback == 0 {
		// Readiness comes from the first inbound envelope unless a test says otherwise.
		opts.ReadyFallback = time.Hour
	}
	m := NewManager(d, opts)
	t.Cleanup(m.Disconnect)
	return m
}

func subscribeAck() protocol.Response {
	return protocol.NewResponse(protocol.ActionSubscribe, protocol.StatusSuccess, "Subscribed to book updates", SubscribeRequestID)
}

func TestManager_SubscribeGoesFirst(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "list-1"}))

	ch := d.next(t)
	first := ch.next(t)
	assert.Equal(t, protocol.ActionSubscribe, first.Action)
	assert.Equal(t, SubscribeRequestID, first.RequestID)

	// The list request waits for readiness.
	ch.assertQuiet(t)
	assert.Equal(t, StateOpen, m.State())

	ch.push(subscribeAck())
	assert.Equal(t, "list-1", ch.next(t).RequestID)
	assert.Equal(t, StateReady, m.State())
}

func TestManager_PendingFlushedInOrder(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	m.Connect()
	ch := d.next(t)
	ch.next(t) // SUBSCRIBE

	for _, rid := range []string{"a", "b", "c"} {
		require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionGet, RequestID: rid, BookID: "book-1"}))
	}
	ch.assertQuiet(t)

	ch.push(subscribeAck())
	assert.Equal(t, "a", ch.next(t).RequestID)
	assert.Equal(t, "b", ch.next(t).RequestID)
	assert.Equal(t, "c", ch.next(t).RequestID)

	// Once ready, sends go straight out.
	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionGet, RequestID: "d", BookID: "book-1"}))
	assert.Equal(t, "d", ch.next(t).RequestID)
}

func TestManager_ReadyFallback(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{ReadyFallback: 20 * time.Millisecond})

	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "list-1"}))

	ch := d.next(t)
	assert.Equal(t, protocol.ActionSubscribe, ch.next(t).Action)
	// Nothing is received, the timer opens the gate.
	assert.Equal(t, "list-1", ch.next(t).RequestID)
	assert.Equal(t, StateReady, m.State())
}

func TestManager_EnvelopesReachObservers(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	got := make(chan protocol.Response, 4)
	m.OnEnvelope(func(resp protocol.Response) { got <- resp })
	m.OnEnvelope(func(protocol.Response) { panic("observer bug") })

	m.Connect()
	ch := d.next(t)

	book := domain.Book{ID: "book-1", Title: "Dune", Author: "Frank Herbert"}
	ch.push(protocol.NewResponse(protocol.ActionCreate, protocol.StatusSuccess, "Book created via realtime", "").WithBook(book))

	select {
	case resp := <-got:
		assert.True(t, resp.IsBroadcast())
		require.NotNil(t, resp.Book)
		assert.Equal(t, "Dune", resp.Book.Title)
	case <-time.After(waitFor):
		t.Fatal("envelope not delivered")
	}
}

func TestManager_MalformedEnvelopeIsSkipped(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	got := make(chan protocol.Response, 4)
	m.OnEnvelope(func(resp protocol.Response) { got <- resp })

	m.Connect()
	ch := d.next(t)
	ch.in <- received{err: errors.Join(protocol.ErrMalformed, errors.New("bad frame"))}
	ch.push(subscribeAck())

	select {
	case resp := <-got:
		assert.Equal(t, protocol.ActionSubscribe, resp.Action)
	case <-time.After(waitFor):
		t.Fatal("stream did not survive a malformed envelope")
	}
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_LossReconnectsOnce(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{ReconnectDelay: 50 * time.Millisecond})

	failures := make(chan error, 4)
	m.OnError(func(err error) { failures <- err })

	m.Connect()
	first := d.next(t)
	first.next(t)
	first.push(subscribeAck())
	require.Eventually(t, func() bool { return m.State() == StateReady }, waitFor, 5*time.Millisecond)

	// Server ends the stream.
	close(first.in)

	select {
	case err := <-failures:
		assert.True(t, errors.Is(err, ErrStreamEnded))
		assert.True(t, errors.Is(err, domainerrors.ErrTransport))
	case <-time.After(waitFor):
		t.Fatal("error observers not notified")
	}
	assert.Equal(t, StateReconnecting, m.State())
	assert.True(t, first.isClosed())

	// Sent while reconnecting: held for the next stream, not dialed early.
	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "after-loss"}))

	second := d.next(t)
	assert.Equal(t, protocol.ActionSubscribe, second.next(t).Action)
	second.push(subscribeAck())
	assert.Equal(t, "after-loss", second.next(t).RequestID)
	second.assertQuiet(t)

	assert.Equal(t, 2, d.dialCount())
	assert.Len(t, failures, 0)
}

func TestManager_QueueDroppedWithLostStream(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{ReconnectDelay: 20 * time.Millisecond})

	m.Connect()
	first := d.next(t)
	first.next(t)

	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "stale"}))
	first.in <- received{err: errors.New("connection reset")}

	second := d.next(t)
	second.next(t)
	second.push(subscribeAck())
	second.assertQuiet(t)
}

func TestManager_DialFailureKeepsQueue(t *testing.T) {
	d := newFakeDialer(errors.New("connection refused"))
	m := newTestManager(t, d, Options{ReconnectDelay: 20 * time.Millisecond})

	failures := make(chan error, 4)
	m.OnError(func(err error) { failures <- err })

	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "list-1"}))

	select {
	case err := <-failures:
		assert.Contains(t, err.Error(), "connection refused")
	case <-time.After(waitFor):
		t.Fatal("dial failure not reported")
	}

	ch := d.next(t)
	ch.next(t)
	ch.push(subscribeAck())
	assert.Equal(t, "list-1", ch.next(t).RequestID)
	assert.Equal(t, 2, d.dialCount())
}

func TestManager_DisconnectStopsReconnect(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{ReconnectDelay: 30 * time.Millisecond})

	m.Connect()
	ch := d.next(t)
	ch.next(t)
	close(ch.in)
	require.Eventually(t, func() bool { return m.State() == StateReconnecting }, waitFor, 5*time.Millisecond)

	m.Disconnect()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_DisconnectClosesStream(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	failures := make(chan error, 4)
	m.OnError(func(err error) { failures <- err })

	m.Connect()
	ch := d.next(t)
	ch.next(t)
	ch.push(subscribeAck())
	require.Eventually(t, func() bool { return m.State() == StateReady }, waitFor, 5*time.Millisecond)

	m.Disconnect()
	assert.True(t, ch.isClosed())
	assert.Equal(t, StateIdle, m.State())

	// A deliberate close is not a failure.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, failures, 0)

	// Sending again starts a fresh stream.
	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "again"}))
	fresh := d.next(t)
	assert.Equal(t, protocol.ActionSubscribe, fresh.next(t).Action)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	m.Connect()
	m.Connect()
	d.next(t)
	m.Connect()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, d.dialCount())
}

func TestManager_MaxPending(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{MaxPending: 2})

	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "1"}))
	require.NoError(t, m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "2"}))

	err := m.Send(protocol.Request{Action: protocol.ActionList, RequestID: "3"})
	assert.ErrorIs(t, err, ErrPendingQueueFull)
	assert.True(t, errors.Is(err, domainerrors.ErrUnavailable))
}

// answer replies to every request on ch with the response built by reply.
func answer(ch *fakeChannel, reply func(protocol.Request) protocol.Response) {
	go func() {
		for {
			select {
			case req := <-ch.sent:
				ch.push(reply(req))
			case <-ch.closed:
				return
			}
		}
	}()
}

func TestManager_Do(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	go func() {
		ch := <-d.opened
		answer(ch, func(req protocol.Request) protocol.Response {
			switch req.Action {
			case protocol.ActionGet:
				if req.BookID == "book-missing" {
					return protocol.NewResponse(req.Action, protocol.StatusNotFound, "Book not found", req.RequestID)
				}
				return protocol.NewResponse(req.Action, protocol.StatusSuccess, "Book retrieved successfully", req.RequestID).
					WithBook(domain.Book{ID: req.BookID, Title: "Dune", Author: "Frank Herbert"})
			case protocol.ActionCreate:
				return protocol.NewResponse(req.Action, protocol.StatusInvalidInput, "Invalid book data", req.RequestID)
			case protocol.ActionList:
				return protocol.NewResponse(req.Action, protocol.StatusSuccess, "Retrieved 1 books", req.RequestID).
					WithBooks([]domain.Book{{ID: "book-1"}}).WithCount(1)
			default:
				return protocol.NewResponse(req.Action, protocol.StatusSuccess, "Subscribed to book updates", req.RequestID)
			}
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	book, err := m.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, "book-1", book.ID)

	_, err = m.GetBook(ctx, "book-missing")
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	_, err = m.CreateBook(ctx, domain.BookInput{})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	books, err := m.ListBooks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestManager_DoHonoursContext(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(t, d, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// Nothing ever answers.
	_, err := m.Do(ctx, protocol.Request{Action: protocol.ActionList})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status protocol.Status
		want   error
	}{
		{protocol.StatusSuccess, nil},
		{protocol.StatusNotFound, domainerrors.ErrNotFound},
		{protocol.StatusInvalidInput, domainerrors.ErrValidation},
		{protocol.StatusError, domainerrors.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := StatusError(protocol.NewResponse(protocol.ActionGet, tt.status, "msg", "r"))
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, "msg", err.Error())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(99).String())
}
