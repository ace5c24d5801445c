package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

// StreamConn is a raw TCP connection carrying text lines or a stream of
// JSON values. Writes are serialized; reads must come from one goroutine.
type StreamConn struct {
	conn net.Conn
	dec  *json.Decoder

	mu           sync.Mutex
	closed       bool
	WriteTimeout time.Duration
}

// DialStream connects to addr ("host:port"), bounded by timeout and ctx.
func DialStream(ctx context.Context, addr string, timeout time.Duration) (*StreamConn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewStreamConn(conn), nil
}

// NewStreamConn wraps an established connection.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{
		conn:         conn,
		dec:          json.NewDecoder(conn),
		WriteTimeout: defaultWriteTimeout,
	}
}

// Write sends b as-is.
func (c *StreamConn) Write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	if c.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("write %s: %w", c.conn.RemoteAddr(), err)
	}
	return nil
}

// WriteLine sends line followed by '\n'.
func (c *StreamConn) WriteLine(line string) error {
	return c.Write([]byte(line + "\n"))
}

// WriteJSON encodes v as one newline-terminated JSON value.
func (c *StreamConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.Write(append(b, '\n'))
}

// ReadJSON decodes the next JSON value from the stream into a raw message.
// Values may be newline-delimited or simply concatenated.
func (c *StreamConn) ReadJSON() (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Drain reads and discards until the connection fails or is closed, and
// returns the terminating error.
func (c *StreamConn) Drain() error {
	_, err := io.Copy(io.Discard, c.conn)
	if err == nil {
		err = io.EOF
	}
	return err
}

// Close releases the connection. Safe to call more than once; it unblocks
// any pending ReadJSON.
func (c *StreamConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
