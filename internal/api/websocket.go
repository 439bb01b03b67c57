package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/tankwatch/internal/infrastructure/config"
	"github.com/nerrad567/tankwatch/internal/infrastructure/logging"
	"github.com/nerrad567/tankwatch/internal/notify"
)

// Message types on the UI event stream.
const (
	wsMsgSubscribe  = "subscribe"
	wsMsgSubscribed = "subscribed"
	wsMsgPing       = "ping"
	wsMsgPong       = "pong"
	wsMsgEvent      = "event"
	wsMsgError      = "error"

	// wsQueueSize bounds a client's undelivered messages. A client that
	// falls this far behind is disconnected.
	wsQueueSize = 64
)

// wsEventTypes are the events a client may filter on.
var wsEventTypes = map[string]bool{
	notify.EventDeviceListChanged:    true,
	notify.EventTelemetryUpdated:     true,
	notify.EventConnectionLost:       true,
	notify.EventRemoteAccessGranted:  true,
	notify.EventRemoteAccessFinished: true,
}

// wsRequest is a message from the UI. A subscribe replaces the client's
// filter; empty Events or Tanks match everything.
type wsRequest struct {
	Type   string   `json:"type"`
	ID     string   `json:"id,omitempty"`
	Events []string `json:"events,omitempty"`
	Tanks  []string `json:"tanks,omitempty"`
}

// wsMessage is a message to the UI.
type wsMessage struct {
	Type   string        `json:"type"`
	ID     string        `json:"id,omitempty"`
	Event  *notify.Event `json:"event,omitempty"`
	Events []string      `json:"events,omitempty"`
	Tanks  []string      `json:"tanks,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// wsFilter selects the events one client receives.
type wsFilter struct {
	events map[string]bool
	tanks  map[string]bool
}

func newWSFilter(events, tanks []string) (*wsFilter, error) {
	f := &wsFilter{
		events: make(map[string]bool, len(events)),
		tanks:  make(map[string]bool, len(tanks)),
	}
	for _, e := range events {
		if !wsEventTypes[e] {
			return nil, fmt.Errorf("unknown event %q", e)
		}
		f.events[e] = true
	}
	for _, t := range tanks {
		if t == "" {
			return nil, errors.New("empty tank id")
		}
		f.tanks[t] = true
	}
	return f, nil
}

// match reports whether ev passes the filter. Fleet events such as
// device-list-changed carry no tank id and pass any tank filter.
func (f *wsFilter) match(ev notify.Event) bool {
	if len(f.events) > 0 && !f.events[ev.Type] {
		return false
	}
	if len(f.tanks) > 0 && ev.TankID != "" && !f.tanks[ev.TankID] {
		return false
	}
	return true
}

// Hub pushes tank events to connected UI clients. It implements
// notify.Publisher.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

// wsClient is one UI connection. Clients receive nothing until they
// subscribe.
type wsClient struct {
	id      string
	subject string
	conn    *websocket.Conn
	queue   chan []byte
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	filter *wsFilter
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware and the ticket.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// NewHub creates a hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// Publish delivers ev to every client whose filter matches it.
func (h *Hub) Publish(ev notify.Event) {
	data, err := json.Marshal(wsMessage{Type: wsMsgEvent, Event: &ev})
	if err != nil {
		h.logger.Error("encoding websocket event", "event", ev.Type, "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(ev) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// deliver queues data for c, dropping the client when its queue is full.
func (h *Hub) deliver(c *wsClient, data []byte) {
	if c.enqueue(data) {
		return
	}
	h.logger.Warn("websocket client too slow, disconnecting", "client_id", c.id, "subject", c.subject)
	h.remove(c)
}

func (h *Hub) reply(c *wsClient, msg wsMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.deliver(c, data)
}

// handleWebSocket upgrades a ticket-authenticated request and serves the
// event stream until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.consume(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:      uuid.NewString(),
		subject: entry.subject,
		conn:    conn,
		queue:   make(chan []byte, wsQueueSize),
		done:    make(chan struct{}),
	}
	if !s.hub.add(c) {
		c.close()
		return
	}
	s.logger.Debug("websocket client connected", "client_id", c.id, "subject", c.subject)

	go s.hub.writeLoop(c)
	s.hub.readLoop(c)

	s.hub.remove(c)
	s.logger.Debug("websocket client disconnected", "client_id", c.id)
}

// readLoop handles requests from c until the connection fails.
func (h *Hub) readLoop(c *wsClient) {
	pingInterval := time.Duration(h.cfg.PingInterval) * time.Second
	pongWait := time.Duration(h.cfg.PongTimeout) * time.Second
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}

	c.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		h.handleRequest(c, data)
	}
}

func (h *Hub) handleRequest(c *wsClient, data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.reply(c, wsMessage{Type: wsMsgError, Error: "invalid JSON message"})
		return
	}

	switch req.Type {
	case wsMsgSubscribe:
		f, err := newWSFilter(req.Events, req.Tanks)
		if err != nil {
			h.reply(c, wsMessage{Type: wsMsgError, ID: req.ID, Error: err.Error()})
			return
		}
		c.mu.Lock()
		c.filter = f
		c.mu.Unlock()
		h.logger.Debug("websocket filter set", "client_id", c.id, "events", req.Events, "tanks", req.Tanks)
		h.reply(c, wsMessage{Type: wsMsgSubscribed, ID: req.ID, Events: req.Events, Tanks: req.Tanks})
	case wsMsgPing:
		h.reply(c, wsMessage{Type: wsMsgPong, ID: req.ID})
	default:
		h.reply(c, wsMessage{Type: wsMsgError, ID: req.ID, Error: "unknown message type: " + req.Type})
	}
}

// writeLoop is the only writer of data frames on c.conn.
func (h *Hub) writeLoop(c *wsClient) {
	pingInterval := time.Duration(h.cfg.PingInterval) * time.Second
	writeWait := time.Duration(h.cfg.PongTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if err := write(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *wsClient) wants(ev notify.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter != nil && c.filter.match(ev)
}

// enqueue reports false when the client's queue is full. A closed client
// accepts and discards.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
