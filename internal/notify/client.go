package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection in a broadcast. One
// connection equals one tab for presence accounting.
type Client struct {
	ID          string
	BroadcastID uuid.UUID
	ViewerID    uuid.UUID
	Role        string
	JoinedAt    time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		broadcastIDStr := c.Query("broadcast_id")
		token := c.Query("token")
		if broadcastIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "broadcast_id and token required"})
			return
		}
		broadcastID, err := uuid.Parse(broadcastIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid broadcast_id"})
			return
		}
		viewerIDStr, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		viewerID, _ := uuid.Parse(viewerIDStr)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:          uuid.New().String(),
			BroadcastID: broadcastID,
			ViewerID:    viewerID,
			Role:        role,
			JoinedAt:    time.Now(),
			hub:         hub,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "chat":
			if !c.hub.chatAllowed(c.BroadcastID, c.ViewerID) {
				continue
			}
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Message == "" {
				continue
			}
			out, _ := json.Marshal(map[string]string{
				"viewer_id": c.ViewerID.String(),
				"message":   payload.Message,
			})
			c.hub.NotifyAll(c.BroadcastID, "chat", json.RawMessage(out))
			c.hub.recordChat(c.BroadcastID, c.ViewerID)
		default:
			// ignore
		}
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
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
