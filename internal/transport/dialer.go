package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/listenupapp/bookstream/internal/client"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// ErrSubprotocol is returned by Dial when the server did not accept the
// requested codec.
var ErrSubprotocol = errors.New("server did not accept the requested subprotocol")

// Dialer opens client streams to a server endpoint such as
// ws://host:8080/api/v1/books/stream.
type Dialer struct {
	URL    string
	Codec  protocol.Codec
	Header http.Header

	// HandshakeTimeout bounds the opening handshake. Zero means 10 seconds.
	HandshakeTimeout time.Duration
}

// Dial implements client.Dialer.
func (d *Dialer) Dial(ctx context.Context) (client.Channel, error) {
	conn, err := d.DialConn(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DialConn opens one connection and negotiates the codec.
func (d *Dialer) DialConn(ctx context.Context) (*ClientConn, error) {
	codec := d.Codec
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{codec.Name()},
	}
	conn, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if conn.Subprotocol() != codec.Name() {
		conn.Close()
		return nil, fmt.Errorf("dial %s: %w: %s", d.URL, ErrSubprotocol, codec.Name())
	}
	return newClientConn(conn, codec), nil
}

// ClientConn is the client end of one connection. It implements
// client.Channel.
type ClientConn struct {
	conn  *websocket.Conn
	codec protocol.Codec

	closeOnce sync.Once
}

func newClientConn(conn *websocket.Conn, codec protocol.Codec) *ClientConn {
	c := &ClientConn{conn: conn, codec: codec}

	// The server pings; each ping extends the read deadline.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return c
}

// Send writes one request.
func (c *ClientConn) Send(req protocol.Request) error {
	data, err := c.codec.EncodeRequest(req)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(frameType(c.codec), data)
}

// Recv reads the next response. A normal close by the server yields io.EOF.
func (c *ClientConn) Recv() (protocol.Response, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if isEOF(err) {
			return protocol.Response{}, io.EOF
		}
		return protocol.Response{}, err
	}
	return c.codec.DecodeResponse(data)
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.conn.Close()
	})
	return err
}
