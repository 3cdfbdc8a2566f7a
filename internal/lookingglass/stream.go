package lookingglass

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is read-only and carries no credentials of the viewer
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is a connected websocket subscriber
type Client struct {
	engine *Engine
	conn   *websocket.Conn
	send   chan []byte
	// flowID restricts the client to one flow when set
	flowID string
	paused bool
}

// Message is the websocket envelope
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// HandleWebSocket upgrades the request and streams events, starting with the
// recorded history. The optional flowId query parameter filters to one flow.
func (e *Engine) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		engine: e,
		conn:   conn,
		send:   make(chan []byte, 256),
		flowID: r.URL.Query().Get("flowId"),
	}

	e.register(client)

	go client.writePump()
	go client.readPump()

	client.sendHistory()
}

func (e *Engine) register(client *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[client] = true
}

func (e *Engine) unregister(client *Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.clients[client]; ok {
		delete(e.clients, client)
		close(client.send)
	}
}

func (e *Engine) broadcast(event Event) {
	data, err := json.Marshal(Message{Type: string(event.Type), Payload: event})
	if err != nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for client := range e.clients {
		if client.paused || (client.flowID != "" && client.flowID != event.FlowID) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

func (c *Client) sendHistory() {
	events := c.engine.History(c.flowID)

	info, _ := json.Marshal(Message{
		Type: "feed.info",
		Payload: map[string]interface{}{
			"flowId": c.flowID,
			"events": len(events),
		},
	})
	c.trySend(info)

	for _, event := range events {
		data, err := json.Marshal(Message{Type: string(event.Type), Payload: event})
		if err != nil {
			continue
		}
		c.trySend(data)
	}
}

// trySend queues data unless the client has already gone away
func (c *Client) trySend(data []byte) {
	c.engine.mu.RLock()
	defer c.engine.mu.RUnlock()
	if !c.engine.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.engine.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.engine.logger.Debug("WebSocket closed", zap.Error(err))
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current write
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	switch msg.Type {
	case "feed.pause":
		c.paused = true
	case "feed.resume":
		c.paused = false
	}
}
