package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kehao95/hook-pulse/internal/message"
	"github.com/kehao95/hook-pulse/internal/metrics"
	"github.com/kehao95/hook-pulse/internal/webhook"
)

const (
	broadcastBuffer = 16
	clientBuffer    = 16
	writeWait       = 10 * time.Second
)

// Hub fans verified events out to WebSocket subscribers. It is the
// webhook.Dispatcher used by the server.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type broadcastMessage struct {
	event string
	data  []byte
}

func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMessage, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Run owns the subscriber set until ctx is cancelled, then disconnects
// every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for client := range h.clients {
			h.drop(client)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
			h.setSubscribers()
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.subscribedTo(msg.event) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					h.logger.Warn("disconnecting slow subscriber", "remote", client.remote)
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setSubscribers()
}

func (h *Hub) setSubscribers() {
	if h.metrics != nil {
		h.metrics.Subscribers.Set(float64(len(h.clients)))
	}
}

// Dispatch wraps ev in an EventMessage and queues it for broadcast without
// blocking. When the queue is full the event is dropped.
func (h *Hub) Dispatch(ev webhook.Event) {
	payload, truncated, err := truncatePayload(ev.Payload)
	if err != nil {
		h.logger.Warn("payload truncation failed", "event", ev.Type, "error", err)
	}
	if len(truncated) > 0 {
		h.logger.Info("payload truncated", "event", ev.Type, "bytes", len(ev.Payload), "fields", strings.Join(truncated, ","))
	}

	msg := message.EventMessage{
		Type:       message.TypeEvent,
		Event:      ev.Type,
		DeliveryID: uuid.NewString(),
		ReceivedAt: h.now().UTC(),
		Truncated:  len(truncated) > 0,
		Payload:    payload,
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event message", "event", ev.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- broadcastMessage{event: ev.Type, data: encoded}:
		if h.metrics != nil {
			h.metrics.DispatchedTotal.WithLabelValues(ev.Type).Inc()
		}
	default:
		h.logger.Warn("broadcast dropped", "event", ev.Type, "delivery_id", msg.DeliveryID)
		if h.metrics != nil {
			h.metrics.DispatchDroppedTotal.Inc()
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client is one WebSocket subscriber.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	remote   string
	events   []string
	eventsMu sync.RWMutex
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, clientBuffer),
		remote: conn.RemoteAddr().String(),
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg message.SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != message.TypeSubscribe {
			continue
		}
		c.setEvents(msg.Events)
		c.hub.logger.Info("ws subscribed", "remote", c.remote, "events", msg.Events)
	}
}

func (c *Client) writePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
}

func (c *Client) setEvents(events []string) {
	c.eventsMu.Lock()
	if len(events) == 0 {
		c.events = nil
	} else {
		c.events = append([]string(nil), events...)
	}
	c.eventsMu.Unlock()
}

func (c *Client) subscribedTo(event string) bool {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if len(c.events) == 0 {
		return true
	}
	for _, candidate := range c.events {
		if candidate == event {
			return true
		}
	}
	return false
}
