// Package session drives per-conversation message processing: planning,
// intent resolution, action dispatch, response streaming and context
// compaction.
package session

import (
	"fmt"
)

// ErrorKind classifies every error that crosses the orchestrator
// boundary. The kinds are part of the wire contract: a rate limit must
// be distinguishable from a system failure.
type ErrorKind string

const (
	// KindUserInput covers ambiguous intents and invalid parameters;
	// recovered with a clarifying question, never a failure.
	KindUserInput ErrorKind = "user_input"
	// KindRateLimited means the per-user budget is exhausted.
	KindRateLimited ErrorKind = "rate_limited"
	// KindDependency covers reasoning/store/backend unavailability.
	KindDependency ErrorKind = "dependency"
	// KindBusiness is a domain-invalid operation the backend rejected.
	KindBusiness ErrorKind = "business"
	// KindInternal is anything unexpected; details stay in the logs.
	KindInternal ErrorKind = "internal"
)

// AppError is the sanitized error shape sent to clients. It never
// carries stack traces, action internals or backend identifiers; those
// are logged against the correlation id only.
type AppError struct {
	Kind          ErrorKind `json:"kind"`
	Message       string    `json:"message"`
	Suggestions   []string  `json:"suggestions,omitempty"`
	Retryable     bool      `json:"retryable"`
	CorrelationID string    `json:"correlation_id"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func rateLimitError(correlationID string, waitHint string) *AppError {
	msg := "You are sending messages too quickly. Please wait a moment and try again."
	if waitHint != "" {
		msg = fmt.Sprintf("You are sending messages too quickly. Please wait about %s and try again.", waitHint)
	}
	return &AppError{
		Kind:          KindRateLimited,
		Message:       msg,
		Retryable:     true,
		CorrelationID: correlationID,
	}
}

func dependencyError(correlationID string) *AppError {
	return &AppError{
		Kind:          KindDependency,
		Message:       "Something went wrong on our side. Please try again in a moment.",
		Retryable:     true,
		CorrelationID: correlationID,
	}
}

func internalError(correlationID string) *AppError {
	return &AppError{
		Kind:          KindInternal,
		Message:       "An unexpected error occurred. Please try again.",
		Retryable:     true,
		CorrelationID: correlationID,
	}
}
