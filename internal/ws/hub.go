package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// sendBuffer is how many discovery messages may wait per client before
// new ones are dropped. Status messages are never dropped: a newer status
// replaces a queued one.
const sendBuffer = 64

// Client is one connected stream consumer.
type Client struct {
	conn   *websocket.Conn
	remote string
	topics map[Topic]bool // nil means every topic
	logger *zap.Logger

	mu      sync.Mutex
	pending []Message
	closed  bool
	wake    chan struct{}
}

func newClient(conn *websocket.Conn, remote string, topics map[Topic]bool, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		remote: remote,
		topics: topics,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

func (c *Client) wants(t MessageType) bool {
	return c.topics == nil || c.topics[t.Topic()]
}

// enqueue queues msg for the write pump and reports whether it was kept.
func (c *Client) enqueue(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if msg.Type == MessageStatusChanged {
		c.pending = slices.DeleteFunc(c.pending, func(m Message) bool {
			return m.Type == MessageStatusChanged
		})
	} else if len(c.pending) >= sendBuffer {
		return false
	}
	c.pending = append(c.pending, msg)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// take returns and clears everything queued.
func (c *Client) take() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	close(c.wake)
}

// Hub tracks stream clients and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("stream client connected", zap.String("remote", c.remote), zap.Int("topics", len(c.topics)))
}

// Unregister removes c and stops its write pump. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
		h.logger.Debug("stream client disconnected", zap.String("remote", c.remote))
	}
}

// Broadcast queues msg for every client subscribed to its topic.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(msg.Type) {
			continue
		}
		if !c.enqueue(msg) {
			h.logger.Warn("stream client lagging, dropping message",
				zap.String("remote", c.remote),
				zap.String("type", string(msg.Type)))
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump writes queued messages in order until the client is closed.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-c.wake:
			if !ok {
				return
			}
			for _, msg := range c.take() {
				writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, c.conn, msg)
				cancel()
				if err != nil {
					c.logger.Debug("stream write failed", zap.String("remote", c.remote), zap.Error(err))
					return
				}
			}
		}
	}
}

// readPump returns when the client goes away. Clients send nothing.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
