package wire

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsReadLimit = 1 << 20

// WSConn is a client WebSocket carrying JSON text frames.
type WSConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// WSDialOptions controls DialWS.
type WSDialOptions struct {
	// InsecureTLS accepts self-signed certificates, which TVs always present.
	InsecureTLS bool
	Timeout     time.Duration
}

// DialWS opens a WebSocket to rawURL (ws:// or wss://).
func DialWS(ctx context.Context, rawURL string, opts WSDialOptions) (*WSConn, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	dialOpts := &websocket.DialOptions{}
	if opts.InsecureTLS {
		dialOpts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // TVs use self-signed certs
			},
		}
	}

	conn, resp, err := websocket.Dial(ctx, rawURL, dialOpts)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)
	return &WSConn{conn: conn}, nil
}

// WriteJSON sends v as a text frame.
func (c *WSConn) WriteJSON(ctx context.Context, v any) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Read blocks for the next data frame.
func (c *WSConn) Read(ctx context.Context) (json.RawMessage, error) {
	if c.isClosed() {
		return nil, ErrNotConnected
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Ping round-trips a ping frame. A concurrent Read must be running for the
// pong to be observed.
func (c *WSConn) Ping(ctx context.Context) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	return c.conn.Ping(ctx)
}

// Close sends a normal close frame and releases the connection. Safe to call
// more than once.
func (c *WSConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Don't wait on an unresponsive TV for the close handshake.
	go c.conn.Close(websocket.StatusNormalClosure, "")
	time.AfterFunc(time.Second, func() { _ = c.conn.CloseNow() })
	return nil
}

func (c *WSConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
