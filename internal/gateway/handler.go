package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/dkrasnov/parley/internal/domain"
	"github.com/dkrasnov/parley/internal/identity"
	"github.com/dkrasnov/parley/internal/session"
	"github.com/google/uuid"
)

// Orchestrator is the session layer as the gateway sees it.
type Orchestrator interface {
	EnsureConversation(ctx context.Context, userID, connectionID string, fresh bool) (*domain.Conversation, error)
	DispatchMessage(ctx context.Context, conv *domain.Conversation, text string, sink session.Sink)
}

// Handler upgrades HTTP requests to WebSocket chat connections.
type Handler struct {
	orch          Orchestrator
	registry      *ConnRegistry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates the WebSocket chat handler.
func NewHandler(orch Orchestrator, registry *ConnRegistry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		orch:          orch,
		registry:      registry,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("chat connection request", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		ws:          ws,
		cancel:      cancel,
	}
	conn.Touch(conn.ConnectedAt)

	h.registry.Register(conn)
	defer h.registry.Unregister(conn)

	h.readLoop(ctx, conn)
	slog.Info("chat connection ended", "connection_id", conn.ID, "user_id", userID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, conn *Connection) {
	var conv *domain.Conversation

	for {
		_, raw, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by client", "connection_id", conn.ID)
			} else if ctx.Err() == nil {
				slog.Warn("websocket read error", "error", err, "connection_id", conn.ID)
			}
			return
		}

		var frame Inbound
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Debug("undecodable frame dropped", "connection_id", conn.ID, "error", err)
			continue
		}

		conn.Touch(time.Now())

		switch frame.Action {
		case ActionConnect:
			fresh := frame.Context != nil && frame.Context.NewSession
			c, err := h.attach(ctx, conn, fresh)
			if err != nil {
				slog.Error("conversation attach failed", "error", err, "connection_id", conn.ID)
				h.sendStoreError(ctx, conn)
				return
			}
			conv = c
		case ActionMessage:
			if conv == nil {
				// Implicit connect: a message before connect resumes
				// the user's conversation.
				c, err := h.attach(ctx, conn, false)
				if err != nil {
					slog.Error("conversation attach failed", "error", err, "connection_id", conn.ID)
					h.sendStoreError(ctx, conn)
					return
				}
				conv = c
			}
			sink := newConnSink(ctx, conn)
			// Dispatch returns once the message's processing slot is
			// reserved, so frames decoded here in receipt order are
			// processed in receipt order while the slow work runs on
			// its own goroutine and never blocks reads.
			h.orch.DispatchMessage(ctx, conv, frame.Message, sink)
		case ActionDisconnect:
			slog.Info("client requested disconnect", "connection_id", conn.ID)
			return
		default:
			slog.Debug("unknown action dropped", "action", frame.Action, "connection_id", conn.ID)
		}
	}
}

func (h *Handler) attach(ctx context.Context, conn *Connection, fresh bool) (*domain.Conversation, error) {
	conv, err := h.orch.EnsureConversation(ctx, conn.UserID, conn.ID, fresh)
	if err != nil {
		return nil, err
	}
	conn.ConversationID = conv.ID

	if err := conn.Send(ctx, Outbound{Type: TypeConnected, Content: conv.ID}); err != nil {
		slog.Debug("failed to send connected frame", "error", err, "connection_id", conn.ID)
	}
	return conv, nil
}

func (h *Handler) sendStoreError(ctx context.Context, conn *Connection) {
	frame := Outbound{
		Type: TypeError,
		Error: &session.AppError{
			Kind:          session.KindDependency,
			Message:       "We could not restore your conversation. Please try again.",
			Retryable:     true,
			CorrelationID: uuid.NewString(),
		},
	}
	if err := conn.Send(ctx, frame); err != nil {
		slog.Debug("failed to send error frame", "error", err, "connection_id", conn.ID)
	}
}
