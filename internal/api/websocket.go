package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/tierlist-core/internal/auth"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/config"
	"github.com/nerrad567/tierlist-core/internal/infrastructure/logging"
)

// Message types on the WebSocket.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// wsSendBufferSize bounds the per-client outbound queue. Events for a
// client whose queue is full are dropped.
const wsSendBufferSize = 256

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// knownChannels are the channels clients may subscribe to.
var knownChannels = map[string]struct{}{
	ChannelTierChanged: {},
	ChannelItemChanged: {},
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The single-use ticket authenticates the connection, not the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub tracks connected clients and fans change events out to them.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{cfg: cfg, logger: logger, clients: make(map[*WSClient]struct{})}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "user", c.principal.Subject, "clients", n)
}

// Unregister removes a client and closes its queue. Repeated calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.shutdown()
		h.logger.Debug("websocket client disconnected", "user", c.principal.Subject, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every subscriber of channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.fanOut(channel, payload, func(*WSClient) bool { return true })
}

// BroadcastScoped sends an event to the subscribers of channel allowed to
// see res: everyone when it is public, else its owner and admins.
func (h *Hub) BroadcastScoped(channel string, payload any, res auth.Resource) {
	h.fanOut(channel, payload, func(c *WSClient) bool {
		return res.Public || c.principal.Owns(res) || c.principal.IsAdmin()
	})
}

func (h *Hub) fanOut(channel string, payload any, allowed func(*WSClient) bool) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	// Hub and client locks are never held together.
	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.isSubscribed(channel) && allowed(c) && c.trySend(frame) {
			delivered++
		}
	}
	if delivered > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "recipients", delivered)
	}
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// handleWebSocket upgrades the connection after redeeming the ?ticket=
// issued by POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	principal, ok := s.tickets.redeem(ticket, time.Now())
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "user", principal.Subject, "error", err)
		return
	}

	c := newWSClient(s.hub, conn, principal)
	s.hub.Register(c)

	timing := newWSTiming(s.wsCfg)
	go c.writeLoop(timing)
	go c.readLoop(timing, int64(s.wsCfg.MaxMessageSize))
}

// Keep-alive timing, derived once per connection.
type wsTiming struct {
	ping     time.Duration
	deadline time.Duration // read silence tolerated before the client is dropped
	write    time.Duration
}

func newWSTiming(cfg config.WebSocketConfig) wsTiming {
	ping := time.Duration(cfg.PingInterval) * time.Second
	pong := time.Duration(cfg.PongTimeout) * time.Second
	return wsTiming{ping: ping, deadline: ping + pong, write: pong}
}

// WSClient is one authenticated connection.
type WSClient struct {
	hub       *Hub
	conn      *websocket.Conn
	principal auth.Principal

	mu            sync.RWMutex
	send          chan []byte
	closed        bool
	subscriptions map[string]struct{}
}

func newWSClient(h *Hub, conn *websocket.Conn, p auth.Principal) *WSClient {
	return &WSClient{
		hub:           h,
		conn:          conn,
		principal:     p,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
}

// trySend queues frame without blocking. It reports false when the client
// is gone or its queue is full.
func (c *WSClient) trySend(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the queue, which ends writeLoop.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) readLoop(t wsTiming, limit int64) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(t.deadline)) }
	c.conn.SetReadLimit(limit)
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "user", c.principal.Subject, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop(t wsTiming) {
	ticker := time.NewTicker(t.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.write)) //nolint:errcheck // the write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if write(websocket.TextMessage, frame) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

// wsRequest is an inbound frame; the payload is decoded per type.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscriptions(req)
	default:
		c.reply(req.ID, WSTypeError, errorPayload("unknown message type: "+req.Type))
	}
}

// changeSubscriptions applies a subscribe or unsubscribe request. A
// subscribe naming any unknown channel changes nothing.
func (c *WSClient) changeSubscriptions(req wsRequest) {
	var body WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &body) != nil {
		c.reply(req.ID, WSTypeError, errorPayload("invalid "+req.Type+" payload"))
		return
	}

	subscribe := req.Type == WSTypeSubscribe
	if subscribe {
		for _, ch := range body.Channels {
			if _, ok := knownChannels[ch]; !ok {
				c.reply(req.ID, WSTypeError, errorPayload("unknown channel: "+ch))
				return
			}
		}
	}

	c.mu.Lock()
	for _, ch := range body.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string][]string{key: body.Channels})
}

func (c *WSClient) reply(id, msgType string, payload any) {
	frame, err := json.Marshal(WSMessage{Type: msgType, ID: id, Timestamp: wsTimestamp(), Payload: payload})
	if err != nil {
		return
	}
	c.trySend(frame)
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}
