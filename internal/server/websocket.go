package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

type (
	// Client is a WebSocket connection streaming node status notifications.
	// Nothing is streamed until the client sends a subscribe message
	Client struct {
		conn      *websocket.Conn
		subscribe SubscribeFunc
		sub       *engine.Subscription
		onClose   func(*Client)
		closeOnce sync.Once
	}

	// SubscribeFunc opens a notification stream, filtered to one plan
	// execution unless the id is empty
	SubscribeFunc func(api.PlanExecutionID) *engine.Subscription
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16

	messageSubscribe   = "subscribe"
	messageUnsubscribe = "unsubscribe"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and streams
// status notifications based on the client's subscription
func HandleWebSocket(
	w http.ResponseWriter, r *http.Request, subscribe SubscribeFunc,
) *Client {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return nil
	}

	return &Client{
		conn:      conn,
		subscribe: subscribe,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	client := HandleWebSocket(c.Writer, c.Request, s.engine.Subscribe)
	if client == nil {
		return
	}
	client.onClose = s.unregisterWebSocket
	s.registerWebSocket(client)
	go client.run()
}

// Close terminates the connection, which ends the client's run loop. It
// may be called from any goroutine
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
	})
}

func (c *Client) run() {
	defer func() {
		c.unsubscribe()
		c.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleMessage(message)

		case n, ok := <-c.notifications():
			if !ok {
				return
			}
			if !c.send(n) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

// notifications returns a nil channel while unsubscribed, which blocks
// that select case
func (c *Client) notifications() <-chan *api.StatusNotification {
	if c.sub == nil {
		return nil
	}
	return c.sub.Notifications()
}

func (c *Client) handleMessage(message []byte) {
	var req api.SubscribeRequest
	if err := json.Unmarshal(message, &req); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	switch req.Type {
	case messageSubscribe:
		c.unsubscribe()
		c.sub = c.subscribe(req.PlanExecutionID)
	case messageUnsubscribe:
		c.unsubscribe()
	}
}

func (c *Client) unsubscribe() {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
}

func (c *Client) send(n *api.StatusNotification) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(n); err != nil {
		slog.Error("WebSocket write failed",
			log.PlanExecutionID(n.PlanExecutionID),
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
