package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/domain"
	"github.com/listenupapp/bookstream/internal/hub"
	"github.com/listenupapp/bookstream/internal/logger"
	"github.com/listenupapp/bookstream/internal/protocol"
	"github.com/listenupapp/bookstream/internal/ratelimit"
	"github.com/listenupapp/bookstream/internal/service"
	"github.com/listenupapp/bookstream/internal/store"
	"github.com/listenupapp/bookstream/internal/transport"
	"github.com/listenupapp/bookstream/internal/validation"
)

type testServer struct {
	server *Server
	http   *httptest.Server
	hub    *hub.Hub
}

// setupTestServer creates a test server backed by the seeded memory store.
func setupTestServer(t *testing.T, rps float64, burst int) *testServer {
	t.Helper()

	log := logger.Discard().Logger
	h := hub.New(log)
	backend, err := store.NewSeededMemoryStore(store.DefaultSeed())
	require.NoError(t, err)
	svc := service.NewBookService(backend, h, validation.New(), log)

	limiter := ratelimit.New(rps, burst)
	t.Cleanup(limiter.Stop)

	srv := NewServer(Config{
		Name:           "Test Server",
		AllowedOrigins: []string{"http://localhost:3000"},
	}, svc, h, limiter, log)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.CloseSessions()
	})

	return &testServer{server: srv, http: ts, hub: h}
}

func (ts *testServer) streamURL() string {
	return "ws" + strings.TrimPrefix(ts.http.URL, "http") + StreamPath
}

func (ts *testServer) manager(t *testing.T, codec protocol.Codec) *client.Manager {
	t.Helper()
	m := client.NewManager(&transport.Dialer{URL: ts.streamURL(), Codec: codec}, client.Options{
		ReconnectDelay: 50 * time.Millisecond,
	})
	t.Cleanup(m.Disconnect)
	return m
}

func TestHealthCheck(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	resp, err := http.Get(ts.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 3, health.Books)
	assert.Equal(t, 0, health.Sessions)
	assert.Equal(t, "no connected clients", health.Components["sessions"].Message)
}

func TestStream_EndToEnd(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSONCodec{}, protocol.ProtoCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			ts := setupTestServer(t, 100, 100)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			writer := ts.manager(t, codec)
			watcher := ts.manager(t, codec)

			broadcasts := make(chan protocol.Response, 8)
			watcher.OnEnvelope(func(resp protocol.Response) {
				if resp.IsBroadcast() {
					broadcasts <- resp
				}
			})

			books, err := watcher.ListBooks(ctx, "orwell")
			require.NoError(t, err)
			require.Len(t, books, 1)
			assert.Equal(t, "1984", books[0].Title)

			created, err := writer.CreateBook(ctx, domain.NewBookInput("Dune", "Frank Herbert").WithPublishedYear(1965))
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)

			select {
			case resp := <-broadcasts:
				assert.Equal(t, protocol.ActionCreate, resp.Action)
				assert.Equal(t, "Book created successfully", resp.Message)
				require.NotNil(t, resp.Book)
				assert.Equal(t, created.ID, resp.Book.ID)
				assert.Equal(t, 4, resp.Count())
			case <-time.After(2 * time.Second):
				t.Fatal("watcher did not see the broadcast")
			}

			got, err := watcher.GetBook(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, int32(1965), got.PublishedYear)

			_, err = writer.GetBook(ctx, "book-missing")
			assert.ErrorContains(t, err, "Book not found")

			assert.Eventually(t, func() bool { return ts.hub.Len() == 2 }, time.Second, 10*time.Millisecond)
		})
	}
}

func TestStream_RateLimited(t *testing.T) {
	ts := setupTestServer(t, 0.01, 1)

	first, _, err := websocket.DefaultDialer.Dial(ts.streamURL(), nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(ts.streamURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestStream_OriginRejected(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	_, resp, err := websocket.DefaultDialer.Dial(ts.streamURL(), http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCloseSessions(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	conn, _, err := websocket.DefaultDialer.Dial(ts.streamURL(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	ts.server.CloseSessions()
	assert.Equal(t, 0, ts.hub.Len())

	// The connection is torn down.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)

	// New streams are refused.
	_, resp, err := websocket.DefaultDialer.Dial(ts.streamURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStream_PlainGetRejected(t *testing.T) {
	ts := setupTestServer(t, 100, 100)

	resp, err := http.Get(ts.http.URL + StreamPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Expected a WebSocket upgrade", body["error"])
	assert.Equal(t, false, body["success"])
}
