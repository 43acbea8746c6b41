package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/SimplyPrint/card-bridge/internal/core"
	"github.com/SimplyPrint/card-bridge/internal/logging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadLimit    = 64 * 1024
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second

	defaultStatusInterval = time.Second
	minStatusInterval     = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool, any page may connect
	},
}

// WSMessage is the envelope for every websocket frame in both directions.
type WSMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"` // echoed from the request; generated for pushes
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WSClient represents a connected WebSocket client
type WSClient struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *WSHub
	bridge core.CardBridge

	mu         sync.Mutex
	statusStop chan struct{} // non-nil while subscribed to reader status
}

// WSHub manages all WebSocket connections
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub's main loop
func (h *WSHub) Run() {
	// hub crash is fatal
	defer logging.RecoverAndLog("WebSocket hub", true)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for every connected client. It drops the event
// when the hub is backed up rather than blocking the caller.
func (h *WSHub) Broadcast(msgType string, payload interface{}) {
	data, err := encodeMessage(uuid.NewString(), msgType, payload)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Warn(logging.CatWebSocket, "Broadcast dropped, hub busy", map[string]any{
			"type": msgType,
		})
	}
}

// broadcastWrite tells every websocket client that a write finished.
func (s *Server) broadcastWrite(result core.TransactionResult) {
	if s.hub != nil {
		s.hub.Broadcast("card_written", result)
	}
}

// WebSocketHandler starts the hub and returns the /v1/ws handler.
func (s *Server) WebSocketHandler() http.HandlerFunc {
	s.hub = NewWSHub()
	go s.hub.Run()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Error(logging.CatWebSocket, "WebSocket upgrade failed", map[string]any{
				"error":      err.Error(),
				"remoteAddr": r.RemoteAddr,
			})
			return
		}

		logging.Info(logging.CatWebSocket, "Client connected", map[string]any{
			"remoteAddr": r.RemoteAddr,
		})

		client := &WSClient{
			conn:   conn,
			send:   make(chan []byte, 64),
			hub:    s.hub,
			bridge: s.bridge,
		}
		s.hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}

func (c *WSClient) readPump() {
	defer logging.RecoverAndLog("WebSocket readPump", false)
	defer func() {
		c.stopStatus()
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn(logging.CatWebSocket, "WebSocket unexpected close", map[string]any{
					"error": err.Error(),
				})
			} else {
				logging.Debug(logging.CatWebSocket, "Client disconnected", nil)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer logging.RecoverAndLog("WebSocket writePump", false)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(msg WSMessage) {
	logging.Debug(logging.CatWebSocket, "Received message", map[string]any{
		"type": msg.Type,
		"id":   msg.ID,
	})

	switch msg.Type {
	case "status":
		c.sendResponse(msg.ID, "status", c.bridge.ProbeStatus())
	case "write_card":
		c.handleWriteCard(msg.ID, msg.Payload)
	case "diagnose":
		c.handleDiagnose(msg.ID)
	case "subscribe_status":
		c.handleSubscribeStatus(msg.ID, msg.Payload)
	case "unsubscribe_status":
		c.stopStatus()
		c.sendResponse(msg.ID, "unsubscribed", nil)
	case "version":
		c.sendResponse(msg.ID, "version", map[string]string{
			"version":   Version,
			"buildTime": BuildTime,
			"gitCommit": GitCommit,
		})
	case "health":
		c.sendResponse(msg.ID, "health", healthReport(c.bridge))
	default:
		logging.Warn(logging.CatWebSocket, "Unknown message type", map[string]any{
			"type": msg.Type,
		})
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func encodeMessage(id, msgType string, payload interface{}) ([]byte, error) {
	msg := WSMessage{Type: msgType, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// sendResponse queues a message for the client. Pushes without a request
// ID get a fresh one so the front end can de-duplicate them.
func (c *WSClient) sendResponse(id string, msgType string, payload interface{}) {
	if id == "" {
		id = uuid.NewString()
	}
	data, err := encodeMessage(id, msgType, payload)
	if err != nil {
		c.sendError(id, "failed to encode response")
		return
	}
	c.queue(data)
}

func (c *WSClient) sendError(id string, errMsg string) {
	data, _ := json.Marshal(WSMessage{
		Type:  "error",
		ID:    id,
		Error: errMsg,
	})
	c.queue(data)
}

// queue never blocks: a client that stops reading loses messages, and the
// hub drops it on the next broadcast.
func (c *WSClient) queue(data []byte) {
	defer func() {
		// send is closed once the hub has unregistered the client
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		logging.Warn(logging.CatWebSocket, "Client send buffer full, message dropped", nil)
	}
}

func (c *WSClient) handleWriteCard(id string, payload json.RawMessage) {
	var req core.WriteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.sendError(id, "invalid payload")
		return
	}

	result := core.ResultOf(c.bridge.WriteCard(req))
	c.sendResponse(id, "write_result", result)
	c.hub.Broadcast("card_written", result)
}

func (c *WSClient) handleDiagnose(id string) {
	d, err := c.bridge.Diagnose()
	if err != nil {
		c.sendError(id, err.Error())
		return
	}
	c.sendResponse(id, "diagnosis", d)
}

func (c *WSClient) handleSubscribeStatus(id string, payload json.RawMessage) {
	var req struct {
		IntervalMs int `json:"intervalMs"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			c.sendError(id, "invalid payload")
			return
		}
	}

	interval := time.Duration(req.IntervalMs) * time.Millisecond
	if req.IntervalMs <= 0 {
		interval = defaultStatusInterval
	}
	interval = max(interval, minStatusInterval)

	c.stopStatus()
	stop := make(chan struct{})
	c.mu.Lock()
	c.statusStop = stop
	c.mu.Unlock()

	initial := c.bridge.ProbeStatus()
	c.sendResponse(id, "subscribed", map[string]interface{}{
		"intervalMs": interval.Milliseconds(),
		"status":     initial,
	})

	go c.pollStatus(stop, interval, initial)

	logging.Info(logging.CatWebSocket, "Client subscribed to reader status", map[string]any{
		"intervalMs": interval.Milliseconds(),
	})
}

// pollStatus pushes reader_status whenever the probe result changes, which
// is how the front end learns about hot-plugged readers.
func (c *WSClient) pollStatus(stop <-chan struct{}, interval time.Duration, last core.Status) {
	defer logging.RecoverAndLog("WebSocket status poll", false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st := c.bridge.ProbeStatus()
			if statusChanged(last, st) {
				logging.Info(logging.CatReader, "Reader status changed", map[string]any{
					"status": st.Status,
					"reader": st.ReaderName(),
					"ready":  st.Ready,
				})
				c.sendResponse("", "reader_status", st)
				last = st
			}
		}
	}
}

func statusChanged(a, b core.Status) bool {
	return a.Status != b.Status || a.Ready != b.Ready ||
		a.ReaderName() != b.ReaderName() || a.Message != b.Message
}

func (c *WSClient) stopStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusStop != nil {
		close(c.statusStop)
		c.statusStop = nil
	}
}
