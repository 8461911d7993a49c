package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/auth"
	"github.com/KevinKickass/OpenPadCore/internal/storage"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

// TokenValidator checks the token of the first client message.
type TokenValidator interface {
	ValidateToken(token string) (*auth.JWTClaims, []auth.Permission, error)
}

// SnapshotFunc lists all status records for a full update.
type SnapshotFunc func(ctx context.Context) ([]storage.PadStatus, error)

// Hub maintains authenticated dashboard clients and broadcasts status changes.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	logger    *zap.Logger
	auth      TokenValidator
	snapshot  SnapshotFunc
	heartbeat time.Duration
}

func NewHub(logger *zap.Logger, validator TokenValidator, snapshot SnapshotFunc) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger.With(zap.String("component", "websocket")),
		auth:       validator,
		snapshot:   snapshot,
		heartbeat:  heartbeatInterval,
	}
}

// Run is the hub's event loop. It returns when ctx is done, after closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client registered",
				zap.String("client_id", client.id),
				zap.Int("total_clients", total))
			go h.sendSnapshot(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("websocket client unregistered",
				zap.String("client_id", client.id),
				zap.Int("total_clients", total))

		case message := <-h.broadcast:
			h.fanOut(message)

		case <-ticker.C:
			if h.GetClientCount() > 0 {
				msg := NewMessage(MessageTypePing, nil)
				h.fanOut(msg)
			}
		}
	}
}

func (h *Hub) fanOut(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("client send buffer full, unregistering", zap.String("client_id", client.id))
		}
	}
}

// sendTo queues data for one registered client.
func (h *Hub) sendTo(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) sendSnapshot(ctx context.Context, client *Client) {
	if h.snapshot == nil {
		return
	}
	records, err := h.snapshot(ctx)
	if err != nil {
		h.logger.Error("failed to load status snapshot", zap.Error(err))
		return
	}
	data, err := json.Marshal(NewStatusUpdateMessage(records))
	if err != nil {
		h.logger.Error("failed to marshal status snapshot", zap.Error(err))
		return
	}
	if !h.sendTo(client, data) {
		h.logger.Debug("snapshot not delivered", zap.String("client_id", client.id))
	}
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// PublishStatus broadcasts a status change.
func (h *Hub) PublishStatus(rec storage.PadStatus) {
	h.Broadcast(NewSingleStatusMessage(rec))
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
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
