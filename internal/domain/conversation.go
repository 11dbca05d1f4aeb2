// Package domain contains core domain types for the conversation engine.
package domain

import (
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message sent by the human on the connection.
	RoleUser Role = "user"
	// RoleAssistant marks a message generated by the engine.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation. Messages are immutable:
// an assistant reply is streamed to the connection first and enters the
// log only once complete.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// IsSummary marks a message that replaced older history during
	// compaction. At most the oldest retained message carries it.
	IsSummary bool `json:"is_summary,omitempty"`
}

// EstimateTokens returns a monotonic token estimate for the message.
// One token per four bytes of content plus a small framing overhead.
func (m Message) EstimateTokens() int {
	return len(m.Content)/4 + 4
}

// Conversation is one user's ongoing session: an append-only, strictly
// chronological message log plus rolling usage counters.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id,omitempty"`
	TokensUsed   int64     `json:"tokens_used"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EstimateHistoryTokens sums the token estimate over a message log.
func EstimateHistoryTokens(history []Message) int {
	total := 0
	for _, m := range history {
		total += m.EstimateTokens()
	}
	return total
}
