package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
	"github.com/dkrasnov/parley/internal/reasoning"
	"github.com/dkrasnov/parley/internal/store"
)

// SummarizerConfig bounds a conversation's representable context.
type SummarizerConfig struct {
	// TokenBudget is the estimated token footprint above which
	// compaction runs.
	TokenBudget int
	// KeepRecent is how many of the newest messages stay verbatim.
	KeepRecent int
}

// DefaultSummarizerConfig keeps the context under ~8000 estimated
// tokens, retaining the 10 most recent messages verbatim.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{TokenBudget: 8000, KeepRecent: 10}
}

// Summarizer compacts conversation history: the oldest messages beyond
// the most recent N are replaced by a single summary message. The
// replacement is atomic in the store; the single-writer guard keeps it
// from racing message processing on the same conversation.
type Summarizer struct {
	store     store.ConversationStore
	generator reasoning.Generator
	cfg       SummarizerConfig
	logger    *slog.Logger
}

// NewSummarizer creates a summarizer.
func NewSummarizer(s store.ConversationStore, g reasoning.Generator, cfg SummarizerConfig, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenBudget <= 0 || cfg.KeepRecent <= 0 {
		cfg = DefaultSummarizerConfig()
	}
	return &Summarizer{store: s, generator: g, cfg: cfg, logger: logger.With("component", "summarizer")}
}

// NeedsCompaction reports whether the history exceeds the budget.
func (s *Summarizer) NeedsCompaction(history []domain.Message) bool {
	return domain.EstimateHistoryTokens(history) > s.cfg.TokenBudget && len(history) > s.cfg.KeepRecent
}

// Compact replaces everything but the most recent KeepRecent messages
// with one summary. Safe to call when nothing needs compacting.
func (s *Summarizer) Compact(ctx context.Context, conversationID string) error {
	history, err := s.store.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load history for compaction: %w", err)
	}
	if !s.NeedsCompaction(history) {
		return nil
	}

	cutoff := len(history) - s.cfg.KeepRecent
	summary := s.summarize(ctx, history[:cutoff])

	if err := s.store.ReplaceWithSummary(ctx, conversationID, summary, cutoff); err != nil {
		return fmt.Errorf("replace with summary: %w", err)
	}

	s.logger.Info("conversation compacted",
		"conversation_id", conversationID,
		"replaced", cutoff,
		"kept", s.cfg.KeepRecent,
	)
	return nil
}

func (s *Summarizer) summarize(ctx context.Context, old []domain.Message) string {
	prompt := buildSummaryPrompt(old)

	genCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text, err := s.generator.Generate(genCtx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		s.logger.Warn("summary generation failed, using digest fallback", "error", err)
		return digest(old)
	}
	return "Conversation so far: " + strings.TrimSpace(text)
}

func buildSummaryPrompt(old []domain.Message) string {
	var b strings.Builder
	b.WriteString("Summarize this conversation excerpt in a few sentences, keeping ids, names and decisions:\n")
	for _, m := range old {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// digest is the degraded summary when generation is unavailable: a
// bounded head of each turn, so compaction still shrinks the context.
func digest(old []domain.Message) string {
	const perMessage = 80
	var b strings.Builder
	b.WriteString("Conversation so far (abridged): ")
	for i, m := range old {
		if i > 0 {
			b.WriteString(" | ")
		}
		line := strings.TrimSpace(m.Content)
		if len(line) > perMessage {
			line = line[:perMessage] + "…"
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(line)
	}
	return b.String()
}
