package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one dashboard connection. It joins the hub only after a
// successful auth message.
type Client struct {
	id         string
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	registered bool
}

func (c *Client) readPump() {
	// writePump closes the connection once send is closed and drained
	defer func() {
		if c.registered {
			c.hub.leave(c)
		} else {
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		if !c.registered {
			if !c.authenticate(msg) {
				return
			}
			if !c.hub.join(c) {
				return
			}
			c.registered = true
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != MessageTypeAuth {
		c.sendDirect(NewMessage(MessageTypeAuthFailed, AuthData{Reason: "first message must be authentication"}))
		return false
	}
	if msg.Token == "" {
		c.sendDirect(NewMessage(MessageTypeAuthFailed, AuthData{Reason: "missing token in auth message"}))
		return false
	}

	claims, perms, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("websocket authentication failed", zap.Error(err))
		c.sendDirect(NewMessage(MessageTypeAuthFailed, AuthData{Reason: "invalid or expired token"}))
		return false
	}

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	c.sendDirect(NewMessage(MessageTypeAuthSuccess, AuthData{Username: claims.Username, Permissions: names}))
	c.logger.Info("websocket client authenticated", zap.String("username", claims.Username))
	return true
}

// sendDirect is only used before the client joins the hub.
func (c *Client) sendDirect(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	// any traffic proves the client is alive
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	switch msg.Type {
	case MessageTypeSubscribeStatus, MessageTypeRequestFullUpdate:
		go c.hub.sendSnapshot(context.Background(), c)
	case MessageTypePong:
	default:
		data, _ := json.Marshal(NewMessage(MessageTypeError, map[string]string{"reason": "unknown message type " + string(msg.Type)}))
		c.hub.sendTo(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and starts the client pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("websocket upgrade error", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}

	id := uuid.NewString()
	client := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger.With(zap.String("client_id", id), zap.String("remote_addr", conn.RemoteAddr().String())),
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go client.writePump()
	go client.readPump()
}
