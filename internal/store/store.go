// Package store provides durable conversation persistence.
package store

import (
	"context"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
)

// ConversationStore is the durable owner of historical conversation
// state. Message logs are append-only and strictly chronological;
// summarization replaces a prefix of the log atomically.
type ConversationStore interface {
	// CreateConversation persists a new conversation record.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation retrieves a conversation by id. Returns nil, nil
	// when the conversation does not exist.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// FindActiveByUser returns the user's most recently active
	// conversation for reconnection, or nil, nil when none exists.
	FindActiveByUser(ctx context.Context, userID string) (*domain.Conversation, error)

	// AppendMessage appends a message strictly after the previous one
	// in the same conversation.
	AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error

	// History returns the full retained message log in chronological
	// order (a summary message, if any, comes first).
	History(ctx context.Context, conversationID string) ([]domain.Message, error)

	// ReplaceWithSummary atomically replaces the messages before
	// cutoffIndex (0-based position in the current log) with a single
	// summary message. Concurrent readers see either the old log or
	// the compacted one, never a partial state.
	ReplaceWithSummary(ctx context.Context, conversationID string, summary string, cutoffIndex int) error

	// AddTokenUsage adds to the conversation's token-usage counter.
	AddTokenUsage(ctx context.Context, conversationID string, n int) error

	// TouchActivity updates the conversation's last-activity timestamp.
	TouchActivity(ctx context.Context, conversationID string, at time.Time) error

	// CleanupExpired removes conversations idle longer than ttl,
	// including their messages. Returns the number removed.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
