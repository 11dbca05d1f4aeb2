package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Connection is one live transport session. Writes are serialized by an
// internal mutex so concurrent senders cannot interleave frames.
type Connection struct {
	ID             string
	UserID         string
	ConversationID string
	ConnectedAt    time.Time

	ws     *websocket.Conn
	cancel context.CancelFunc

	mu           sync.Mutex
	lastActivity time.Time
}

// Send marshals and writes one frame, preserving call order.
func (c *Connection) Send(ctx context.Context, frame Outbound) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Touch records activity on the connection.
func (c *Connection) Touch(at time.Time) {
	c.mu.Lock()
	c.lastActivity = at
	c.mu.Unlock()
}

// LastActivity returns the most recent activity time.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnRegistry maintains the single mapping connectionId → connection.
// One connectionId identifies exactly one conversation at a time.
type ConnRegistry struct {
	mu     sync.RWMutex
	active map[string]*Connection
}

// NewConnRegistry creates an empty registry.
func NewConnRegistry() *ConnRegistry {
	return &ConnRegistry{active: make(map[string]*Connection)}
}

// Register adds a connection. An existing connection under the same id
// is closed and replaced.
func (r *ConnRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.active[conn.ID]; ok && existing != conn {
		existing.cancel()
		_ = existing.ws.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	r.active[conn.ID] = conn
	slog.Info("connection registered", "connection_id", conn.ID, "user_id", conn.UserID)
}

// Unregister removes a connection and cancels its in-flight streaming.
// Stale unregisters (a different connection now owns the id) are no-ops.
func (r *ConnRegistry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.active[conn.ID]; ok && current == conn {
		delete(r.active, conn.ID)
		conn.cancel()
		slog.Info("connection removed", "connection_id", conn.ID, "user_id", conn.UserID)
	}
}

// Get returns the connection for an id, or nil.
func (r *ConnRegistry) Get(connectionID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[connectionID]
}

// Len returns the number of live connections.
func (r *ConnRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}
