package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
)

// ErrReasoningUnavailable is returned once classify retries are
// exhausted. The orchestrator maps it to a user-facing "try again"
// message; it is never surfaced raw.
var ErrReasoningUnavailable = errors.New("reasoning service unavailable")

// ConfidenceFloor is the minimum classification confidence required to
// dispatch an action. Below it the resolver asks for clarification.
const ConfidenceFloor = 0.5

// ActionLookup reports whether a name exists in the action registry.
// An intent absent from the registry is treated as low confidence.
type ActionLookup interface {
	Has(name string) bool
}

// ResolverConfig tunes retry behaviour.
type ResolverConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     BackoffPolicy
}

// DefaultResolverConfig returns the standard policy: 3 attempts,
// exponential backoff from 2s, 10s per-attempt timeout.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		MaxAttempts: 3,
		Timeout:     10 * time.Second,
		Backoff:     DefaultBackoff(),
	}
}

// Resolver applies confidence thresholding, registry checks and
// retry/backoff on top of the raw classifier.
type Resolver struct {
	classifier Classifier
	actions    ActionLookup
	cfg        ResolverConfig
	logger     *slog.Logger

	// retryObserver is notified per retry; wired to metrics.
	retryObserver func()
}

// NewResolver creates a resolver over the given classifier.
func NewResolver(classifier Classifier, actions ActionLookup, cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultResolverConfig()
	}
	return &Resolver{
		classifier: classifier,
		actions:    actions,
		cfg:        cfg,
		logger:     logger.With("component", "resolver"),
	}
}

// OnRetry registers a callback invoked for each retried attempt.
func (r *Resolver) OnRetry(fn func()) { r.retryObserver = fn }

// Resolve classifies text into an intent, retrying transient backend
// failures. The returned intent has RequiresClarification set when the
// confidence is below the floor or the intent is unknown to the registry.
func (r *Resolver) Resolve(ctx context.Context, text string, history []domain.Message) (domain.Intent, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if r.retryObserver != nil {
				r.retryObserver()
			}
			if err := r.cfg.Backoff.sleep(ctx, attempt); err != nil {
				return domain.Intent{}, fmt.Errorf("%w: %v", ErrReasoningUnavailable, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		cls, err := r.classifier.Classify(attemptCtx, text, history)
		cancel()
		if err != nil {
			lastErr = err
			r.logger.Warn("classify attempt failed", "attempt", attempt, "error", err)
			continue
		}

		return r.applyPolicy(cls), nil
	}

	r.logger.Error("classify retries exhausted", "attempts", r.cfg.MaxAttempts, "error", lastErr)
	return domain.Intent{}, fmt.Errorf("%w: %v", ErrReasoningUnavailable, lastErr)
}

func (r *Resolver) applyPolicy(cls Classification) domain.Intent {
	intent := domain.Intent{
		Name:          cls.Intent,
		Confidence:    cls.Confidence,
		Params:        cls.Params,
		Clarification: cls.Clarification,
	}

	if cls.Confidence < ConfidenceFloor || cls.Intent == "" {
		intent.RequiresClarification = true
		return intent
	}

	if r.actions != nil && !r.actions.Has(cls.Intent) {
		// Unknown action: same handling as low confidence.
		r.logger.Debug("classified intent not registered", "intent", cls.Intent)
		intent.RequiresClarification = true
	}

	return intent
}
