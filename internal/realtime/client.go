package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	maxFrame     = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the HTTP API; sockets carry no credentials
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection. Identity fields are guarded by the hub lock.
type Client struct {
	ID     string
	hub    *Hub
	svc    PollService
	conn   *websocket.Conn
	send   chan WSMessage
	done   chan struct{}
	logger *zap.Logger

	name     string
	role     string
	joinedAt time.Time
	kicked   bool
}

func newClient(hub *Hub, svc PollService, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:     uuid.New().String(),
		hub:    hub,
		svc:    svc,
		conn:   conn,
		send:   make(chan WSMessage, sendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Client) participant() Participant {
	return Participant{
		ConnectionID: c.ID,
		Name:         c.name,
		Role:         c.role,
		JoinedAt:     c.joinedAt,
		Kicked:       c.kicked,
	}
}

// enqueue hands msg to the write pump without blocking. A client that cannot keep up loses the message.
func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("client send buffer full, dropping", zap.String("client_id", c.ID), zap.String("event", msg.Event))
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, svc PollService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := newClient(hub, svc, conn, logger)
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
