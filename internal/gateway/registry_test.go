package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkrasnov/parley/internal/session"
)

func testConn(id, userID string) (*Connection, *bool) {
	cancelled := false
	return &Connection{
		ID:          id,
		UserID:      userID,
		ConnectedAt: time.Now(),
		cancel:      func() { cancelled = true },
	}, &cancelled
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewConnRegistry()
	conn, _ := testConn("c1", "u1")

	r.Register(conn)

	if got := r.Get("c1"); got != conn {
		t.Errorf("Get returned %v, want the registered connection", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if r.Get("missing") != nil {
		t.Error("Get for unknown id should return nil")
	}
}

func TestRegistryUnregisterCancelsStreaming(t *testing.T) {
	r := NewConnRegistry()
	conn, cancelled := testConn("c1", "u1")

	r.Register(conn)
	r.Unregister(conn)

	if !*cancelled {
		t.Error("Unregister must cancel the connection context")
	}
	if r.Get("c1") != nil {
		t.Error("connection should be removed")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistryStaleUnregisterIsNoOp(t *testing.T) {
	r := NewConnRegistry()
	current, currentCancelled := testConn("c1", "u1")
	stale, _ := testConn("c1", "u1")

	r.Register(current)
	// A leftover defer from an earlier connection with the same id must
	// not tear down the live one.
	r.Unregister(stale)

	if r.Get("c1") != current {
		t.Error("stale unregister removed the live connection")
	}
	if *currentCancelled {
		t.Error("stale unregister cancelled the live connection")
	}
}

func TestOutboundFrameEncoding(t *testing.T) {
	frame := Outbound{
		Type:    TypeMessage,
		Content: "The supplier was added.",
		Seq:     3,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "message" {
		t.Errorf("type = %v", decoded["type"])
	}
	// Seq is always present so clients can detect gaps, including seq 0.
	if _, ok := decoded["seq"]; !ok {
		t.Error("seq must be encoded even when zero")
	}
	if _, ok := decoded["error"]; ok {
		t.Error("absent error must be omitted")
	}
}

func TestErrorFrameCarriesSanitizedShape(t *testing.T) {
	frame := Outbound{
		Type: TypeError,
		Error: &session.AppError{
			Kind:          session.KindRateLimited,
			Message:       "You are sending messages too quickly.",
			Retryable:     true,
			CorrelationID: "corr-1",
		},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Type  string `json:"type"`
		Error struct {
			Kind          string `json:"kind"`
			Message       string `json:"message"`
			Retryable     bool   `json:"retryable"`
			CorrelationID string `json:"correlation_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Error.Kind != "rate_limited" || !decoded.Error.Retryable {
		t.Errorf("decoded error = %+v", decoded.Error)
	}
	if decoded.Error.CorrelationID == "" {
		t.Error("correlation id must survive the wire")
	}
}

func TestInboundFrameDecoding(t *testing.T) {
	raw := `{"action":"connect","context":{"newSession":true}}`
	var frame Inbound
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if frame.Action != ActionConnect {
		t.Errorf("action = %q", frame.Action)
	}
	if frame.Context == nil || !frame.Context.NewSession {
		t.Error("newSession hint lost in decoding")
	}

	raw = `{"action":"message","message":"add a supplier"}`
	frame = Inbound{}
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if frame.Action != ActionMessage || frame.Message != "add a supplier" {
		t.Errorf("frame = %+v", frame)
	}
}

func TestConnSinkContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn, _ := testConn("c1", "u1")
	sink := newConnSink(ctx, conn)

	if sink.Context() != ctx {
		t.Error("sink must expose the connection context")
	}
	cancel()
	if sink.Context().Err() == nil {
		t.Error("cancelling the connection must cancel the sink context")
	}
}
