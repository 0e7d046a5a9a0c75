package handlers

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/arnold/klibrarian-api/internal/middleware"
	"github.com/arnold/klibrarian-api/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// connection wraps a websocket connection with its admin session
type connection struct {
	conn      *websocket.Conn
	sessionID uuid.UUID
}

// Hub fans invite events out to connected admin clients
type Hub struct {
	mu    sync.Mutex
	conns map[*connection]bool
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*connection]bool)}
}

func (h *Hub) register(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
	slog.Debug("ws register", "session", conn.sessionID, "total", len(h.conns))
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
	slog.Debug("ws unregister", "session", conn.sessionID, "remaining", len(h.conns))
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast sends an event to every connected client. Writes happen under
// the hub lock since a websocket connection allows one writer at a time.
func (h *Hub) Broadcast(event models.InviteEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		slog.Error("ws broadcast marshal error", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.conns) == 0 {
		return
	}
	slog.Debug("ws broadcast", "type", event.Type, "connections", len(h.conns))

	for c := range h.conns {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			slog.Warn("ws write error", "session", c.sessionID, "err", err)
			delete(h.conns, c)
			c.conn.Close()
		}
	}
}

// Upgrade checks the upgrade request and the admin JWT, which browsers pass
// as ?token= and other clients as a bearer header.
func (h *Hub) Upgrade(auth *middleware.Auth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		tokenString := c.Query("token")
		if tokenString == "" {
			authHeader := c.Get("Authorization")
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				tokenString = ""
			}
		}
		if tokenString == "" {
			return fail(c, fiber.StatusUnauthorized, "unauthorized", "Missing authentication token")
		}

		claims, err := auth.Parse(tokenString)
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "unauthorized", "Invalid or expired token")
		}

		c.Locals("sessionId", claims.SessionID)
		return c.Next()
	}
}

// Handle keeps an admin connection registered until the client goes away
func (h *Hub) Handle(c *websocket.Conn) {
	sessionID, ok := c.Locals("sessionId").(uuid.UUID)
	if !ok {
		c.Close()
		return
	}

	conn := &connection{conn: c, sessionID: sessionID}
	h.register(conn)
	defer h.unregister(conn)

	// Clients only send keepalives.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			break
		}
	}
}
