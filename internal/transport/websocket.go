// Package transport carries book stream envelopes over WebSocket connections.
// The negotiated subprotocol selects the codec.
package transport

import (
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/listenupapp/bookstream/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound request size. Requests carry at most one book.
	maxRequestSize = 64 << 10
)

// isEOF reports whether a read error is a normal close by the peer.
func isEOF(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func frameType(c protocol.Codec) int {
	if c.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Upgrader accepts stream connections on the server.
type Upgrader struct {
	upgrader websocket.Upgrader
}

// NewUpgrader creates an upgrader that admits browser origins from
// allowedOrigins. "*" admits every origin; requests without an Origin header
// (non-browser clients) are always admitted.
func NewUpgrader(allowedOrigins []string) *Upgrader {
	allowAll := slices.Contains(allowedOrigins, "*")
	return &Upgrader{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    protocol.Subprotocols(),
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				return slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Accept upgrades the request. On failure the upgrader has already written
// an HTTP error response.
func (u *Upgrader) Accept(w http.ResponseWriter, r *http.Request) (*ServerStream, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newServerStream(conn), nil
}

// ServerStream is the server end of one connection. It satisfies the
// session stream contract: Recv and Send may run concurrently with each
// other, each from a single goroutine.
type ServerStream struct {
	conn  *websocket.Conn
	codec protocol.Codec

	closeOnce sync.Once
	stop      chan struct{}
}

func newServerStream(conn *websocket.Conn) *ServerStream {
	s := &ServerStream{
		conn:  conn,
		codec: protocol.CodecFor(conn.Subprotocol()),
		stop:  make(chan struct{}),
	}

	conn.SetReadLimit(maxRequestSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.pingLoop()
	return s
}

// Codec returns the codec negotiated for this connection.
func (s *ServerStream) Codec() protocol.Codec {
	return s.codec
}

// RemoteAddr returns the peer address.
func (s *ServerStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *ServerStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl may run concurrently with Send.
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Recv reads the next request. A normal close by the peer yields io.EOF; an
// undecodable frame yields an error wrapping protocol.ErrMalformed.
func (s *ServerStream) Recv() (protocol.Request, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if isEOF(err) {
			return protocol.Request{}, io.EOF
		}
		return protocol.Request{}, err
	}
	return s.codec.DecodeRequest(data)
}

// Send writes one response.
func (s *ServerStream) Send(resp protocol.Response) error {
	data, err := s.codec.EncodeResponse(resp)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(frameType(s.codec), data)
}

// CloseSend sends a normal close frame.
func (s *ServerStream) CloseSend() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close tears the connection down. It is safe to call more than once.
func (s *ServerStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.conn.Close()
	})
	return err
}
