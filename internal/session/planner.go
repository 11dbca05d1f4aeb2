package session

import (
	"regexp"
	"strings"

	"github.com/dkrasnov/parley/internal/domain"
)

// Planner splits a single user message into an ordered list of
// sub-requests when it encodes more than one. Splitting is purely
// syntactic: explicit sequencing cues only, never guessing.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

var (
	// Numbered-list items: "1. do x", "2) do y", one per line or inline.
	numberedItem = regexp.MustCompile(`(?m)(?:^|\s)\d+[.)]\s+`)

	// Connective cues, checked in order; longer phrases first so
	// "and then" wins over "then".
	sequenceCues = []string{
		", and then ",
		" and then ",
		", after that ",
		" after that ",
		", then ",
		"; then ",
		" then ",
	}
)

// Plan returns the ordered sub-requests of a message. Length is always
// at least 1; ordinary single-intent messages come back unchanged.
func (p *Planner) Plan(text string) []domain.SubRequest {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []domain.SubRequest{{Index: 0, Text: ""}}
	}

	parts := p.split(trimmed)

	out := make([]domain.SubRequest, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.Trim(part, ",;"))
		if part == "" {
			continue
		}
		out = append(out, domain.SubRequest{Index: len(out), Text: part})
	}
	if len(out) == 0 {
		out = append(out, domain.SubRequest{Index: 0, Text: trimmed})
	}
	return out
}

func (p *Planner) split(text string) []string {
	// Numbered lists take priority: "1. add a supplier 2. connect it".
	if locs := numberedItem.FindAllStringIndex(text, -1); len(locs) >= 2 {
		var parts []string
		for i, loc := range locs {
			start := loc[1]
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			parts = append(parts, text[start:end])
		}
		return parts
	}

	parts := []string{text}
	for _, cue := range sequenceCues {
		var next []string
		for _, part := range parts {
			next = append(next, splitOnCue(part, cue)...)
		}
		parts = next
	}
	return parts
}

func splitOnCue(text, cue string) []string {
	lower := strings.ToLower(text)
	var parts []string
	for {
		i := strings.Index(lower, cue)
		if i < 0 {
			parts = append(parts, text)
			return parts
		}
		parts = append(parts, text[:i])
		text = text[i+len(cue):]
		lower = lower[i+len(cue):]
	}
}
