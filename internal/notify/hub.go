// Package notify keeps the set of live authenticated WebSocket connections
// and pushes JSON payloads to every connection of a given user.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/teamtasks/teamtasks/internal/identity"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
)

// TokenVerifier resolves a bearer token to a caller identity.
type TokenVerifier interface {
	Verify(token string) (identity.Identity, error)
}

// Hub is the registry of live connections. The zero value is not usable;
// create one with NewHub and drive its heartbeat with Run.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	pingInterval time.Duration
	logger       *slog.Logger
}

type client struct {
	userKey string
	conn    *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return websocket.JSON.Send(c.conn, v)
}

// NewHub creates a Hub. If pingInterval is <= 0, it defaults to 30s.
func NewHub(pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		pingInterval: pingInterval,
		logger:       slog.Default(),
	}
}

// Handler returns an http.Handler that upgrades authenticated requests to
// WebSocket connections. The bearer token is taken from the "token" query
// parameter.
func (h *Hub) Handler(v TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			h.logger.Warn("websocket auth failed", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		srv := websocket.Server{
			// Browsers on other origins connect with a bearer token, so the
			// default Origin check is not applied.
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(conn *websocket.Conn) {
				h.serve(conn, id.Key())
			},
		}
		srv.ServeHTTP(w, r)
	})
}

// serve registers conn and blocks reading until the peer goes away.
func (h *Hub) serve(conn *websocket.Conn, userKey string) {
	c := &client{userKey: userKey, conn: conn}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.logger.Debug("websocket connected", "user", userKey)
	defer h.unregister(c)

	for {
		var msg map[string]any
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("websocket closed", "user", userKey, "error", err)
			return
		}
		if t, _ := msg["type"].(string); t == "pong" {
			continue
		}
		h.logger.Debug("websocket message received", "user", userKey, "message", msg)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (h *Hub) snapshot(match func(*client) bool) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*client
	for c := range h.clients {
		if match == nil || match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Notify sends payload to every live connection of userKey. Connections
// that fail to accept the write are dropped.
func (h *Hub) Notify(userKey string, payload any) {
	targets := h.snapshot(func(c *client) bool { return c.userKey == userKey })
	for _, c := range targets {
		if err := c.send(payload); err != nil {
			h.logger.Warn("websocket send failed", "user", userKey, "error", err)
			h.unregister(c)
		}
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run sends a heartbeat to every connection each ping interval. Clients
// need not answer it; a connection is dropped when the ping cannot be
// written or its read loop ends. Run returns when ctx is cancelled, after
// closing all connections.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

func (h *Hub) heartbeat() {
	for _, c := range h.snapshot(nil) {
		if err := c.send(map[string]string{"type": "ping"}); err != nil {
			h.logger.Debug("dropping dead websocket", "user", c.userKey, "error", err)
			h.unregister(c)
		}
	}
}

// Close disconnects every client and rejects new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.conn.Close()
	}
}
