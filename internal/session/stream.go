package session

import (
	"context"
	"strings"
)

// Metadata annotates outbound frames.
type Metadata struct {
	Intent          string  `json:"intent,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	ExecutionTimeMs int64   `json:"execution_time_ms,omitempty"`
}

// Sink is where a response goes: one live connection. Context is
// cancelled when the connection closes, which stops streaming promptly.
// Implementations must deliver frames in call order.
type Sink interface {
	Context() context.Context
	SendFragment(seq int, content string) error
	SendNotice(content string) error
	SendComplete(meta *Metadata) error
	SendError(e *AppError) error
}

// pipeline delivers generated fragments to a sink in generation order
// with an incrementing sequence marker. It owns the sequence counter so
// a response can mix a clarification prefix with streamed generation
// without gaps or duplicates.
type pipeline struct {
	sink Sink
	seq  int
	full strings.Builder
}

func newPipeline(sink Sink) *pipeline {
	return &pipeline{sink: sink}
}

// push delivers one fragment.
func (p *pipeline) push(content string) error {
	if content == "" {
		return nil
	}
	if err := p.sink.SendFragment(p.seq, content); err != nil {
		return err
	}
	p.seq++
	p.full.WriteString(content)
	return nil
}

// drain consumes a generation stream until it ends, the sink
// disconnects, or the generator fails. Returns the text delivered so
// far and the first error encountered.
func (p *pipeline) drain(chunks <-chan string, errs <-chan error) error {
	ctx := p.sink.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				// Stream finished; surface a late generator error if any.
				if errs != nil {
					select {
					case err := <-errs:
						if err != nil {
							return err
						}
					default:
					}
				}
				return nil
			}
			if err := p.push(chunk); err != nil {
				return err
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			// Closed or nil error: stop selecting on this channel.
			errs = nil
		}
	}
}

// text returns everything delivered so far, in order.
func (p *pipeline) text() string {
	return p.full.String()
}
