package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements ConversationStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed conversation store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		connection_id TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		last_activity_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, last_activity_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		is_summary INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		UNIQUE(conversation_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateConversation persists a new conversation record.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now

	query := `
	INSERT INTO conversations (id, user_id, connection_id, tokens_used, last_activity_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	var connectionID any
	if conv.ConnectionID != "" {
		connectionID = conv.ConnectionID
	}

	_, err := s.db.ExecContext(ctx, query,
		conv.ID, conv.UserID, connectionID, conv.TokensUsed,
		now.Unix(), conv.CreatedAt.Unix(), conv.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, user_id, connection_id, tokens_used, created_at, updated_at
		FROM conversations WHERE id = ?`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// FindActiveByUser returns the user's most recently active conversation.
func (s *SQLiteStore) FindActiveByUser(ctx context.Context, userID string) (*domain.Conversation, error) {
	query := `
		SELECT id, user_id, connection_id, tokens_used, created_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY last_activity_at DESC LIMIT 1`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, userID))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*domain.Conversation, error) {
	var conv domain.Conversation
	var connectionID sql.NullString
	var createdAt, updatedAt int64

	err := row.Scan(&conv.ID, &conv.UserID, &connectionID, &conv.TokensUsed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	conv.ConnectionID = connectionID.String
	conv.CreatedAt = time.Unix(createdAt, 0)
	conv.UpdatedAt = time.Unix(updatedAt, 0)
	return &conv, nil
}

// AppendMessage appends a message with the next sequence number. The
// sequence assignment and insert happen in one transaction, so two
// appends to the same conversation can never interleave out of order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?`,
		conversationID,
	).Scan(&nextSeq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	isSummary := 0
	if msg.IsSummary {
		isSummary = 1
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, is_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, nextSeq, string(msg.Role), msg.Content, isSummary, msg.Timestamp.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ?, last_activity_at = ? WHERE id = ?`,
		time.Now().Unix(), time.Now().Unix(), conversationID,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	return tx.Commit()
}

// History returns the retained message log in chronological order.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, is_summary, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var isSummary int
		var createdAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &isSummary, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.IsSummary = isSummary != 0
		m.Timestamp = time.Unix(0, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ReplaceWithSummary replaces messages before cutoffIndex with a single
// summary message in one transaction.
func (s *SQLiteStore) ReplaceWithSummary(ctx context.Context, conversationID string, summary string, cutoffIndex int) error {
	if cutoffIndex <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary replace: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Sequence of the first retained message.
	var cutSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE conversation_id = ? ORDER BY seq ASC LIMIT 1 OFFSET ?`,
		conversationID, cutoffIndex,
	).Scan(&cutSeq)
	if errors.Is(err, sql.ErrNoRows) {
		// Fewer messages than the cutoff: nothing to compact.
		return nil
	}
	if err != nil {
		return fmt.Errorf("find cutoff: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND seq < ?`,
		conversationID, cutSeq,
	); err != nil {
		return fmt.Errorf("delete summarized messages: %w", err)
	}

	// The summary takes the sequence slot just before the first
	// retained message, keeping chronological order intact.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, is_summary, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		uuid.NewString(), conversationID, cutSeq-1, string(domain.RoleAssistant), summary, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	return tx.Commit()
}

// AddTokenUsage adds to the conversation's token-usage counter.
func (s *SQLiteStore) AddTokenUsage(ctx context.Context, conversationID string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET tokens_used = tokens_used + ?, updated_at = ? WHERE id = ?`,
		n, time.Now().Unix(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("add token usage: %w", err)
	}
	return nil
}

// TouchActivity updates the conversation's last-activity timestamp.
func (s *SQLiteStore) TouchActivity(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_activity_at = ?, updated_at = ? WHERE id = ?`,
		at.Unix(), at.Unix(), conversationID,
	)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// CleanupExpired removes conversations idle longer than ttl.
func (s *SQLiteStore) CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl).Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin cleanup: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id IN
		 (SELECT id FROM conversations WHERE last_activity_at < ?)`,
		cutoff,
	); err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM conversations WHERE last_activity_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}

	removed, _ := res.RowsAffected()
	return removed, tx.Commit()
}
