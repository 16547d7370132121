package session

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
	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/service"
	"github.com/listenupapp/bookstream/internal/store"
	"github.com/listenupapp/bookstream/internal/validation"
)

var errStreamClosed = errors.New("stream closed")

type inbound struct {
	req protocol.Request
	err error
}

// fakeStream is an in-memory Stream. Closing in ends the input with io.EOF.
type fakeStream struct {
	in     chan inbound
	sent   chan protocol.Response
	closed chan struct{}
	block  chan struct{} // when non-nil, Send waits on it

	closeOnce sync.Once
	mu        sync.Mutex
	halfClose bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:     make(chan inbound, 16),
		sent:   make(chan protocol.Response, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Recv() (protocol.Request, error) {
	select {
	case m, ok := <-f.in:
		if !ok {
			return protocol.Request{}, io.EOF
		}
		return m.req, m.err
	case <-f.closed:
		return protocol.Request{}, errStreamClosed
	}
}

func (f *fakeStream) Send(resp protocol.Response) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-f.closed:
			return errStreamClosed
		}
	}
	select {
	case <-f.closed:
		return errStreamClosed
	default:
	}
	f.sent <- resp
	return nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halfClose = true
	return nil
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) halfClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halfClose
}

func (f *fakeStream) send(req protocol.Request) {
	f.in <- inbound{req: req}
}

func (f *fakeStream) next(t *testing.T) protocol.Response {
	t.Helper()
	select {
	case resp := <-f.sent:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response")
		return protocol.Response{}
	}
}

// nextDirect skips broadcasts until the response to requestID arrives.
func (f *fakeStream) nextDirect(t *testing.T, requestID string) protocol.Response {
	t.Helper()
	for {
		resp := f.next(t)
		if resp.RequestID == requestID {
			return resp
		}
	}
}

func (f *fakeStream) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case resp := <-f.sent:
		t.Fatalf("unexpected response: %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}
}

type testEnv struct {
	rt  Runtime
	hub *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Discard().Logger
	h := hub.New(log)
	backend, err := store.NewSeededMemoryStore(store.DefaultSeed())
	require.NoError(t, err)
	svc := service.NewBookService(backend, h, validation.New(), log)
	return &testEnv{
		rt:  Runtime{Catalog: svc, Hub: h, Logger: log},
		hub: h,
	}
}

// open starts a session and returns its stream plus a channel with Serve's result.
func (e *testEnv) open(t *testing.T, ctx context.Context) (*fakeStream, <-chan error) {
	t.Helper()
	stream := newFakeStream()
	s := New(e.rt, stream)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() { stream.Close() })
	return stream, done
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestSession_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.ActionSubscribe, RequestID: "init"})
	resp := stream.next(t)

	assert.Equal(t, protocol.ActionSubscribe, resp.Action)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, "init", resp.RequestID)
	assert.Len(t, resp.Books, 3)
	assert.Equal(t, 3, resp.Count())
}

func TestSession_ListAndSearch(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "r1"})
	first := stream.next(t)
	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "r2"})
	second := stream.next(t)

	assert.Equal(t, "Retrieved 3 books", first.Message)
	assert.Equal(t, first.Books, second.Books, "LIST is stable without mutations")

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "r3", SearchQuery: "great"})
	found := stream.next(t)
	require.Len(t, found.Books, 1)
	assert.Equal(t, "The Great Gatsby", found.Books[0].Title)
	assert.Equal(t, 1, found.Count())
}

func TestSession_CreateThenGet(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	in := domain.NewBookInput("Dune", "Frank Herbert").WithDescription("Spice").WithPublishedYear(1965)
	stream.send(protocol.Request{Action: protocol.ActionCreate, RequestID: "c1", Book: &in})
	created := stream.nextDirect(t, "c1")
	require.Equal(t, protocol.StatusSuccess, created.Status)
	require.NotNil(t, created.Book)
	assert.Equal(t, 4, created.Count())

	stream.send(protocol.Request{Action: protocol.ActionGet, RequestID: "g1", BookID: created.Book.ID})
	got := stream.nextDirect(t, "g1")
	require.Equal(t, protocol.StatusSuccess, got.Status)
	assert.Equal(t, "Dune", got.Book.Title)
	assert.Equal(t, "Frank Herbert", got.Book.Author)
	assert.Equal(t, "Spice", got.Book.Description)
	assert.Equal(t, int32(1965), got.Book.PublishedYear)
}

func TestSession_CreateBroadcastsToEverySession(t *testing.T) {
	env := newTestEnv(t)
	s1, _ := env.open(t, context.Background())
	s2, _ := env.open(t, context.Background())
	require.Eventually(t, func() bool { return env.hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	in := domain.NewBookInput("Dune", "Frank Herbert")
	s1.send(protocol.Request{Action: protocol.ActionCreate, RequestID: "c1", Book: &in})

	// The issuer sees the broadcast and its direct answer.
	var direct, echoed int
	for direct+echoed < 2 {
		resp := s1.next(t)
		switch resp.RequestID {
		case "c1":
			direct++
		case "":
			echoed++
			assert.Equal(t, protocol.ActionCreate, resp.Action)
		}
	}
	assert.Equal(t, 1, direct)
	assert.Equal(t, 1, echoed)

	other := s2.next(t)
	assert.True(t, other.IsBroadcast())
	assert.Equal(t, protocol.StatusSuccess, other.Status)
	assert.Equal(t, "Dune", other.Book.Title)
}

func TestSession_DeleteMissingIsNotFoundWithoutBroadcast(t *testing.T) {
	env := newTestEnv(t)
	s1, _ := env.open(t, context.Background())
	s2, _ := env.open(t, context.Background())

	s1.send(protocol.Request{Action: protocol.ActionDelete, RequestID: "d1", BookID: "book-missing"})
	resp := s1.next(t)
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
	assert.Equal(t, "d1", resp.RequestID)

	s2.assertQuiet(t)
}

func TestSession_DeleteReturnsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "l"})
	list := stream.next(t)
	victim := list.Books[0]

	stream.send(protocol.Request{Action: protocol.ActionDelete, RequestID: "d1", BookID: victim.ID})
	resp := stream.nextDirect(t, "d1")
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, victim.Title, resp.Book.Title)
	assert.Equal(t, 2, resp.Count())
}

func TestSession_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	empty := domain.BookInput{}
	tooLong := domain.NewBookInput(string(make([]byte, 201)), "A")
	badYear := domain.NewBookInput("T", "A").WithPublishedYear(999)

	tests := []struct {
		name string
		req  protocol.Request
		msg  string
	}{
		{"get without id", protocol.Request{Action: protocol.ActionGet}, msgInvalidID},
		{"update empty payload", protocol.Request{Action: protocol.ActionUpdate, BookID: "book-missing", Book: &empty}, msgNoChanges},
		{"update without payload or id", protocol.Request{Action: protocol.ActionUpdate}, msgNoChanges},
		{"update without id", protocol.Request{Action: protocol.ActionUpdate, Book: &badYear}, msgInvalidID},
		{"create without payload", protocol.Request{Action: protocol.ActionCreate}, msgInvalidCreate},
		{"create title too long", protocol.Request{Action: protocol.ActionCreate, Book: &tooLong}, msgInvalidCreate},
		{"create year too early", protocol.Request{Action: protocol.ActionCreate, Book: &badYear}, msgInvalidCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.RequestID = tt.name
			stream.send(tt.req)
			resp := stream.next(t)
			assert.Equal(t, protocol.StatusInvalidInput, resp.Status)
			assert.Equal(t, tt.msg, resp.Message)
			assert.Equal(t, tt.name, resp.RequestID)
		})
	}
}

func TestSession_UpdateUnknownID(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	in := domain.BookInput{}.WithDescription("x")
	stream.send(protocol.Request{Action: protocol.ActionUpdate, RequestID: "u1", BookID: "book-missing", Book: &in})
	resp := stream.next(t)
	assert.Equal(t, protocol.StatusNotFound, resp.Status)
}

func TestSession_UnknownAction(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.Action(42), RequestID: "x"})
	resp := stream.next(t)
	assert.Equal(t, protocol.ActionUnknown, resp.Action)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "x", resp.RequestID)
}

func TestSession_MalformedMessageKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	stream.in <- inbound{err: protocol.ErrMalformed}
	resp := stream.next(t)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, msgMalformed, resp.Message)

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "after"})
	assert.Equal(t, "after", stream.next(t).RequestID)
}

type panicCatalog struct{ Catalog }

func (panicCatalog) ListBooks(context.Context, string) ([]domain.Book, error) {
	panic("boom")
}

func TestSession_PanicBecomesInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.rt.Catalog = panicCatalog{Catalog: env.rt.Catalog}
	stream, _ := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "p"})
	resp := stream.next(t)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, msgInternal, resp.Message)

	stream.send(protocol.Request{Action: protocol.ActionGet, RequestID: "g"})
	assert.Equal(t, "g", stream.next(t).RequestID, "session survives the panic")
}

func TestSession_RepliesInArrivalOrder(t *testing.T) {
	env := newTestEnv(t)
	stream, _ := env.open(t, context.Background())

	ids := []string{"a", "b", "c", "d", "e"}
	for _, reqID := range ids {
		stream.send(protocol.Request{Action: protocol.ActionList, RequestID: reqID})
	}
	for _, reqID := range ids {
		assert.Equal(t, reqID, stream.next(t).RequestID)
	}
}

func TestSession_EndOfInput(t *testing.T) {
	env := newTestEnv(t)
	stream, done := env.open(t, context.Background())

	stream.send(protocol.Request{Action: protocol.ActionList, RequestID: "last"})
	close(stream.in)

	require.NoError(t, waitServe(t, done))
	assert.Equal(t, "last", stream.next(t).RequestID, "queued replies are flushed")
	assert.True(t, stream.halfClosed())
	assert.Equal(t, 0, env.hub.Len())

	// Broadcasts after close are dropped silently.
	env.hub.Publish(protocol.NewResponse(protocol.ActionCreate, protocol.StatusSuccess, "late", ""))
	stream.assertQuiet(t)
}

func TestSession_ChannelError(t *testing.T) {
	env := newTestEnv(t)
	stream, done := env.open(t, context.Background())
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	stream.in <- inbound{err: errors.New("connection reset")}

	assert.Error(t, waitServe(t, done))
	assert.False(t, stream.halfClosed())
	assert.Equal(t, 0, env.hub.Len())
}

func TestSession_ContextCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	_, done := env.open(t, ctx)
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitServe(t, done))
	assert.Equal(t, 0, env.hub.Len())
}

func TestSession_SlowConsumerIsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.rt.SendBuffer = 1

	stream := newFakeStream()
	stream.block = make(chan struct{})
	s := New(env.rt, stream)
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background()) }()
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	// One in flight in Send, one queued, the rest overflow.
	for range 4 {
		env.hub.Publish(protocol.NewResponse(protocol.ActionUpdate, protocol.StatusSuccess, "tick", ""))
	}

	waitServe(t, done)
	assert.Equal(t, 0, env.hub.Len())
}
