package relay

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/glucodata-handler/internal/models"
	"github.com/smartdevs17/glucodata-handler/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const defaultWriteWait = 10 * time.Second

// Frame is the message written to wearable sockets. Payload is base64
// encoded by encoding/json.
type Frame struct {
	Path    string `json:"path"`
	Payload []byte `json:"payload"`
}

type wsClient struct {
	conn       *websocket.Conn
	node       string
	name       string
	capability string
	connected  time.Time
	mu         sync.Mutex // serialises writes
}

func (c *wsClient) write(ctx context.Context, frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(defaultWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(frame)
}

// Hub accepts wearable websocket connections. A connected socket is a
// reachable endpoint until it disconnects.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	logger  *logrus.Entry
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		logger:  utils.GetLogger().WithField("component", "relay_websocket"),
	}
}

// Name implements Transport
func (h *Hub) Name() string { return TransportWebSocket }

// ServeHTTP upgrades the request. The node query parameter is required;
// capability defaults to the glucose data capability.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	node := q.Get("node")
	if node == "" {
		http.Error(w, "node is required", http.StatusBadRequest)
		return
	}
	capability := q.Get("capability")
	if capability == "" {
		capability = Capability
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:       ws,
		node:       node,
		name:       q.Get("name"),
		capability: capability,
		connected:  time.Now(),
	}
	h.register(client)
	h.reader(client)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	old := h.clients[c.node]
	h.clients[c.node] = c
	h.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	}
	h.logger.WithFields(logrus.Fields{"node": c.node, "capability": c.capability}).Info("Wearable connected")
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if h.clients[c.node] == c {
		delete(h.clients, c.node)
	}
	h.mu.Unlock()
	h.logger.WithField("node", c.node).Info("Wearable disconnected")
}

// reader drains incoming frames so control messages are processed and
// returns when the socket is gone.
func (h *Hub) reader(c *wsClient) {
	defer func() {
		h.unregister(c)
		if err := c.conn.Close(); err != nil {
			h.logger.WithError(err).Debug("Error closing websocket")
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.logger.WithError(err).WithField("node", c.node).Debug("WebSocket read error")
			return
		}
	}
}

// Count returns the number of connected wearables
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Reachable implements Discovery
func (h *Hub) Reachable(ctx context.Context, capability string) ([]models.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	eps := make([]models.Endpoint, 0, len(h.clients))
	for _, c := range h.clients {
		if c.capability != capability {
			continue
		}
		eps = append(eps, models.Endpoint{
			ID:         c.node,
			Name:       c.name,
			Transport:  TransportWebSocket,
			Capability: c.capability,
			LastSeen:   now,
		})
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].ID < eps[j].ID })
	return eps, nil
}

// Send implements Sender
func (h *Hub) Send(ctx context.Context, endpoint models.Endpoint, path string, payload []byte) error {
	h.mu.RLock()
	c, ok := h.clients[endpoint.ID]
	h.mu.RUnlock()
	if !ok {
		return utils.NewAppError(utils.ErrCodeRelay, "Endpoint not connected", endpoint.ID)
	}

	if err := c.write(ctx, Frame{Path: path, Payload: payload}); err != nil {
		return utils.WrapError(utils.ErrCodeRelay, "WebSocket write failed", err)
	}
	return nil
}

// Close disconnects every wearable
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
