// Package ws streams connection status and discovery events to WebSocket
// clients.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/HerbHall/tvremote/internal/event"
	"github.com/HerbHall/tvremote/pkg/models"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// StatusSource supplies the snapshot sent to a client when it connects.
type StatusSource interface {
	Status() models.ConnectionStatus
	ConnectorState() models.ConnectorState
	ActiveDevice() (models.TVDevice, bool)
}

// Handler serves the event stream at /ws.
type Handler struct {
	hub     *Hub
	status  StatusSource
	origins []string
	logger  *zap.Logger
	unsubs  []func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a handler that forwards bus events to clients.
// origins lists the accepted Origin host patterns; same-origin requests
// are always accepted.
func NewHandler(bus *event.Bus, status StatusSource, origins []string, logger *zap.Logger) *Handler {
	logger = logger.Named("ws")
	h := &Handler{
		hub:     NewHub(logger),
		status:  status,
		origins: origins,
		logger:  logger,
	}
	if bus != nil {
		h.subscribe(bus)
	}
	return h
}

// RegisterRoutes registers the stream endpoint on the server mux.
// Clients may pass ?topics=status,discovery to narrow what they receive.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleStream)
}

// Close detaches from the bus.
func (h *Handler) Close() {
	for _, u := range h.unsubs {
		u()
	}
	h.unsubs = nil
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int { return h.hub.ClientCount() }

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	topics, err := ParseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, r.RemoteAddr, topics, h.logger)
	h.hub.Register(client)
	if h.status != nil && client.wants(MessageStatusChanged) {
		client.enqueue(h.snapshot())
	}

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until client disconnects.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (h *Handler) snapshot() Message {
	var device *models.TVDevice
	if d, ok := h.status.ActiveDevice(); ok {
		device = &d
	}
	data := newStatusData(h.status.Status(), h.status.ConnectorState(), "", device)
	return Message{Type: MessageStatusChanged, Timestamp: time.Now(), Data: data}
}

func (h *Handler) subscribe(bus *event.Bus) {
	h.unsubs = append(h.unsubs,
		bus.Subscribe(event.TopicStatusChanged, func(_ context.Context, e event.Event) {
			p, ok := e.Payload.(event.StatusChangedPayload)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageStatusChanged,
				Timestamp: e.Timestamp,
				Data:      newStatusData(p.Status, p.State, p.Platform, p.Device),
			})
		}),
		bus.Subscribe(event.TopicDiscoveryStarted, func(_ context.Context, e event.Event) {
			h.hub.Broadcast(Message{Type: MessageSearchStarted, Timestamp: e.Timestamp})
		}),
		bus.Subscribe(event.TopicDeviceFound, func(_ context.Context, e event.Event) {
			p, ok := e.Payload.(event.DeviceFoundPayload)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageDeviceFound,
				Timestamp: e.Timestamp,
				Data:      DeviceFoundData{Device: p.Device},
			})
		}),
		bus.Subscribe(event.TopicDiscoveryFinished, func(_ context.Context, e event.Event) {
			p, ok := e.Payload.(event.DiscoveryFinishedPayload)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageSearchFinished,
				Timestamp: e.Timestamp,
				Data:      SearchFinishedData{Total: len(p.Devices), Devices: p.Devices},
			})
		}),
	)
}
