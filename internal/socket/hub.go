package socket

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// Hub tracks open websocket sessions by user id. A user has at most one
// session; a new connection replaces the previous one.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *zap.Logger
}

type session struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// Register attaches a connection for the user, closing any previous one.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	previous := h.sessions[userID]
	h.sessions[userID] = &session{userID: userID, conn: conn}
	h.mu.Unlock()

	if previous != nil {
		_ = previous.conn.Close()
	}

	h.logger.Debug("socket session registered", zap.String("userId", userID))
}

// Unregister drops the user's session if it still owns the given connection.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	current, ok := h.sessions[userID]
	if ok && current.conn == conn {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()

	h.logger.Debug("socket session unregistered", zap.String("userId", userID))
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.RLock()
	_, ok := h.sessions[userID]
	h.mu.RUnlock()
	return ok
}

// Send pushes one JSON message to the user's session. A missing session is
// an error so callers can distinguish it from a write failure.
func (h *Hub) Send(userID string, message any) error {
	h.mu.RLock()
	current, ok := h.sessions[userID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no active session for user %s", userID)
	}

	current.writeMu.Lock()
	defer current.writeMu.Unlock()

	if err := current.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := current.conn.WriteJSON(message); err != nil {
		h.Unregister(userID, current.conn)
		return fmt.Errorf("failed to write socket message: %w", err)
	}

	return nil
}

// Close terminates every open session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
}
