// Package gateway terminates client connections: it owns the mapping of
// transport connection to user and active conversation, and relays
// frames between the transport and the session orchestrator.
package gateway

import (
	"github.com/dkrasnov/parley/internal/session"
)

// Inbound actions.
const (
	ActionConnect    = "connect"
	ActionMessage    = "message"
	ActionDisconnect = "disconnect"
)

// Outbound frame types. Streaming responses are a run of TypeMessage
// frames with incrementing Seq, closed by a single TypeComplete.
const (
	TypeConnected = "connected"
	TypeMessage   = "message"
	TypeNotice    = "notice"
	TypeError     = "error"
	TypeComplete  = "complete"
)

// Inbound is a client frame.
type Inbound struct {
	Action       string          `json:"action"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Message      string          `json:"message,omitempty"`
	Context      *InboundContext `json:"context,omitempty"`
}

// InboundContext carries optional connect-time hints.
type InboundContext struct {
	// NewSession requests a fresh conversation instead of resuming the
	// user's most recent one.
	NewSession bool `json:"newSession,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type     string            `json:"type"`
	Content  string            `json:"content,omitempty"`
	Seq      int               `json:"seq"`
	Metadata *session.Metadata `json:"metadata,omitempty"`
	Error    *session.AppError `json:"error,omitempty"`
}
