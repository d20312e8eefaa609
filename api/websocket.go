package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Dxboy266/The-Stoic-Leek/internal/prescription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST routes only
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 64
)

// Message types pushed to clients.
const (
	MsgPrescription = "prescription"
	MsgSubscribed   = "subscribed"
	MsgPong         = "pong"
)

// WSMessage is a message sent over WebSocket connections. A message with
// a target user is delivered only to that user's connections.
type WSMessage struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data,omitempty"`
	target string
}

// ============================================================
// Hub
// ============================================================

// WSHub fans broadcast messages out to every connected client.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	quit       chan struct{}
	closeOnce  sync.Once
	log        logrus.FieldLogger
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub    *WSHub
	userID string
	send   chan WSMessage
	mu     sync.Mutex
	closed bool
}

// NewWSHub creates a new WebSocket hub. Call Run to start it.
func NewWSHub(log logrus.FieldLogger) *WSHub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		quit:       make(chan struct{}),
		log:        log.WithField("component", "ws"),
	}
}

// NewClient creates a client for userID attached to h. It is not
// registered yet.
func (h *WSHub) NewClient(userID string) *WSClient {
	return &WSClient{hub: h, userID: userID, send: make(chan WSMessage, sendBuffer)}
}

// Run is the hub event loop. It returns after Close.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.drop(client)
		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*WSClient
			for client := range h.clients {
				if msg.target != "" && msg.target != client.userID {
					continue
				}
				if !client.trySend(msg) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.log.Debug("dropping slow websocket client")
				h.drop(c)
			}
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *WSHub) drop(client *WSClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()
}

// Close stops Run and disconnects every client. Safe to call twice.
func (h *WSHub) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

// Broadcast queues msg for all clients. Messages are dropped when the
// queue is full.
func (h *WSHub) Broadcast(msg WSMessage) {
	h.enqueue(msg)
}

// SendTo queues msg for the connections of userID only.
func (h *WSHub) SendTo(userID string, msg WSMessage) {
	msg.target = userID
	h.enqueue(msg)
}

func (h *WSHub) enqueue(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.WithField("type", msg.Type).Debug("broadcast queue full; message dropped")
	}
}

// Observer publishes prescription lifecycle events to the connections of
// the user who made the request. Events without a user are not published.
func (h *WSHub) Observer() prescription.Observer {
	return prescription.ObserverFunc(func(e prescription.Event) {
		if e.UserID == "" {
			return
		}
		h.SendTo(e.UserID, WSMessage{Type: MsgPrescription, Data: e})
	})
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.close()
	}
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// trySend queues msg without blocking. It reports false when the buffer
// is full; sends to a closed client are silently ignored.
func (c *WSClient) trySend(msg WSMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *WSClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ============================================================
// Connection pumps
// ============================================================

// handleWebSocket upgrades the connection and streams the caller's events
// to it. Browsers cannot set headers on a WebSocket handshake, so the user
// may also be given as the user_id query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		user = userID(r)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := s.wsHub.NewClient(user)
	s.wsHub.Register(client)

	go wsWritePump(conn, client)
	go wsReadPump(conn, client, s.log)
}

// wsReadPump handles client control messages until the connection drops.
func wsReadPump(conn *websocket.Conn, client *WSClient, log logrus.FieldLogger) {
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Debug("websocket read error")
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe":
			client.trySend(WSMessage{Type: MsgSubscribed, Data: msg.Data})
		case "ping":
			client.trySend(WSMessage{Type: MsgPong})
		}
	}
}

// wsWritePump writes queued messages and keeps the connection alive.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
