package gateway

import (
	"context"

	"github.com/dkrasnov/parley/internal/session"
)

// connSink adapts a live connection to the orchestrator's Sink. Its
// context is the connection's lifetime: a disconnect cancels in-flight
// streaming rather than letting it continue silently.
type connSink struct {
	ctx  context.Context
	conn *Connection
}

func newConnSink(ctx context.Context, conn *Connection) *connSink {
	return &connSink{ctx: ctx, conn: conn}
}

func (s *connSink) Context() context.Context {
	return s.ctx
}

func (s *connSink) SendFragment(seq int, content string) error {
	return s.conn.Send(s.ctx, Outbound{Type: TypeMessage, Seq: seq, Content: content})
}

func (s *connSink) SendNotice(content string) error {
	return s.conn.Send(s.ctx, Outbound{Type: TypeNotice, Content: content})
}

func (s *connSink) SendComplete(meta *session.Metadata) error {
	return s.conn.Send(s.ctx, Outbound{Type: TypeComplete, Metadata: meta})
}

func (s *connSink) SendError(e *session.AppError) error {
	return s.conn.Send(s.ctx, Outbound{Type: TypeError, Content: e.Message, Error: e})
}
