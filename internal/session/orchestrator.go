package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dkrasnov/parley/internal/action"
	"github.com/dkrasnov/parley/internal/domain"
	"github.com/dkrasnov/parley/internal/ratelimit"
	"github.com/dkrasnov/parley/internal/reasoning"
	"github.com/dkrasnov/parley/internal/store"
	"github.com/google/uuid"
)

// State names the orchestrator's per-message processing stages. States
// are terminal for the current message only; the conversation always
// returns to idle.
type State string

const (
	StateReceived    State = "received"
	StateRateLimited State = "rate_limited"
	StateClassifying State = "classifying"
	StateClarifying  State = "clarifying"
	StateValidating  State = "validating"
	StateExecuting   State = "executing"
	StateResponding  State = "responding"
	StateComplete    State = "complete"
	StateErrored     State = "errored"
)

// IntentResolver is what the orchestrator needs from the resolver.
type IntentResolver interface {
	Resolve(ctx context.Context, text string, history []domain.Message) (domain.Intent, error)
}

// Metrics receives processing outcomes; nil-safe via noopMetrics.
type Metrics interface {
	MessageProcessed(outcome string, d time.Duration)
	RateLimited()
	ActionExecuted(action, status string)
}

type noopMetrics struct{}

func (noopMetrics) MessageProcessed(string, time.Duration) {}
func (noopMetrics) RateLimited()                           {}
func (noopMetrics) ActionExecuted(string, string)          {}

// Config tunes the orchestrator's timing behaviour.
type Config struct {
	// ExecTimeout bounds a single action execution.
	ExecTimeout time.Duration
	// SlowNotice is how long an execution may run before the caller
	// gets a "still working" notice instead of silence.
	SlowNotice time.Duration
}

// DefaultConfig returns the standard timing policy.
func DefaultConfig() Config {
	return Config{ExecTimeout: 60 * time.Second, SlowNotice: 10 * time.Second}
}

// Orchestrator drives the per-message state machine for every
// conversation: plan, classify, validate, execute, respond, compact.
type Orchestrator struct {
	store      store.ConversationStore
	limiter    ratelimit.Limiter
	resolver   IntentResolver
	registry   *action.Registry
	generator  reasoning.Generator
	planner    *Planner
	summarizer *Summarizer
	guard      *convGuard
	metrics    Metrics
	cfg        Config
	logger     *slog.Logger
}

// NewOrchestrator wires the orchestrator. All dependencies are required
// except metrics and logger.
func NewOrchestrator(
	s store.ConversationStore,
	limiter ratelimit.Limiter,
	resolver IntentResolver,
	registry *action.Registry,
	generator reasoning.Generator,
	summarizer *Summarizer,
	cfg Config,
	metrics Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.ExecTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		store:      s,
		limiter:    limiter,
		resolver:   resolver,
		registry:   registry,
		generator:  generator,
		planner:    NewPlanner(),
		summarizer: summarizer,
		guard:      newConvGuard(),
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// EnsureConversation returns the user's active conversation, creating a
// new one on first contact or when fresh is requested.
func (o *Orchestrator) EnsureConversation(ctx context.Context, userID, connectionID string, fresh bool) (*domain.Conversation, error) {
	if !fresh {
		conv, err := o.store.FindActiveByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			conv.ConnectionID = connectionID
			return conv, nil
		}
	}

	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		UserID:       userID,
		ConnectionID: connectionID,
		CreatedAt:    time.Now(),
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// HandleMessage processes one inbound user message end to end,
// returning when the message is fully handled. Messages for the same
// conversation are strictly serialized; calls for other conversations
// proceed in parallel.
func (o *Orchestrator) HandleMessage(ctx context.Context, conv *domain.Conversation, text string, sink Sink) {
	o.process(ctx, conv, text, sink, o.guard.Reserve(conv.ID))
}

// DispatchMessage reserves the conversation's processing slot and
// returns immediately; the message is handled on its own goroutine.
// Because the slot is taken before returning, a caller that dispatches
// in receipt order gets the log appended in receipt order no matter how
// the goroutines are later scheduled.
func (o *Orchestrator) DispatchMessage(ctx context.Context, conv *domain.Conversation, text string, sink Sink) {
	ticket := o.guard.Reserve(conv.ID)
	go o.process(ctx, conv, text, sink, ticket)
}

func (o *Orchestrator) process(ctx context.Context, conv *domain.Conversation, text string, sink Sink, ticket uint64) {
	started := time.Now()
	correlationID := uuid.NewString()
	log := o.logger.With(
		"correlation_id", correlationID,
		"conversation_id", conv.ID,
		"user_id", conv.UserID,
	)

	o.guard.Lock(conv.ID, ticket)
	defer o.guard.Unlock(conv.ID)

	state := StateReceived

	// Step 1: the incoming message enters the log before anything else,
	// preserving receipt order.
	userMsg := &domain.Message{Role: domain.RoleUser, Content: text}
	if err := o.store.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		log.Error("append user message failed", "error", err)
		o.fail(sink, internalError(correlationID), started, log)
		return
	}

	// Step 2: rate gate, before any reasoning-backend call is spent.
	decision, err := o.limiter.AllowMessage(ctx, conv.UserID)
	if err != nil {
		// A broken limiter backend must not take the product down.
		log.Warn("rate limiter unavailable, failing open", "error", err)
		decision = ratelimit.Decision{Allowed: true}
	}
	if !decision.Allowed {
		state = StateRateLimited
		o.metrics.RateLimited()
		log.Info("message rate limited", "state", state, "retry_after", decision.RetryAfter)
		hint := ""
		if decision.RetryAfter > 0 {
			hint = decision.RetryAfter.Round(time.Second).String()
		}
		if err := sink.SendError(rateLimitError(correlationID, hint)); err != nil {
			log.Debug("failed to deliver rate-limit error", "error", err)
		}
		o.metrics.MessageProcessed(string(StateRateLimited), time.Since(started))
		return
	}

	history, err := o.store.History(ctx, conv.ID)
	if err != nil {
		log.Error("load history failed", "error", err)
		o.fail(sink, internalError(correlationID), started, log)
		return
	}

	// Step 3: plan and run sub-requests in order, stop on first failure.
	steps := o.planner.Plan(text)
	reports, firstIntent, clarification, appErr := o.runPlan(ctx, conv, steps, history, correlationID, sink, log)
	if appErr != nil {
		o.fail(sink, appErr, started, log)
		return
	}
	state = StateResponding
	if clarification != "" {
		state = StateClarifying
	}

	// Disconnected mid-plan: the executed results are committed; log
	// them for audit and stop before generating a response.
	if sink.Context().Err() != nil {
		log.Info("connection closed mid-processing, results discarded",
			"steps_run", len(reports), "state", state)
		o.metrics.MessageProcessed("disconnected", time.Since(started))
		return
	}

	// Step 4: respond. Generation failure never fails the message; it
	// degrades to a templated summary of the raw results.
	pl := newPipeline(sink)
	var prompt string
	if clarification != "" {
		// Steps completed before the clarification stay committed; the
		// caller must see them before being asked to rephrase.
		msg := clarification
		if len(reports) > 0 {
			msg = "Here's what happened so far:\n" + renderReports(reports) + "\n" + clarification
		}
		if err := pl.push(msg); err != nil {
			log.Debug("clarification delivery failed", "error", err)
		}
	} else {
		prompt = buildResponsePrompt(text, reports)
		chunks, errs := o.generator.StreamGenerate(sink.Context(), prompt)
		if err := pl.drain(chunks, errs); err != nil {
			if sink.Context().Err() != nil {
				log.Info("stream cancelled by disconnect")
				o.metrics.MessageProcessed("disconnected", time.Since(started))
				return
			}
			log.Warn("response generation failed, sending templated summary", "error", err)
			if pushErr := pl.push(fallbackSummary(reports)); pushErr != nil {
				log.Debug("fallback delivery failed", "error", pushErr)
			}
		}
	}

	// Step 5: the finished assistant message joins the log.
	reply := pl.text()
	assistantMsg := &domain.Message{Role: domain.RoleAssistant, Content: reply}
	if err := o.store.AppendMessage(ctx, conv.ID, assistantMsg); err != nil {
		log.Error("append assistant message failed", "error", err)
	}

	o.accountTokens(ctx, conv, prompt, reply, log)

	meta := &Metadata{
		Intent:          firstIntent.Name,
		Confidence:      firstIntent.Confidence,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
	}
	if err := sink.SendComplete(meta); err != nil {
		log.Debug("complete frame delivery failed", "error", err)
	}

	if state == StateResponding {
		state = StateComplete
	}
	log.Info("message processed", "state", state, "steps", len(reports), "duration_ms", meta.ExecutionTimeMs)
	o.metrics.MessageProcessed(string(state), time.Since(started))

	o.compactAsync(conv.ID, log)
}

// runPlan executes each sub-request in order. A clarification
// short-circuits the whole message, even mid-plan. Returns a normalized
// AppError only for dependency/internal failures.
func (o *Orchestrator) runPlan(
	ctx context.Context,
	conv *domain.Conversation,
	steps []domain.SubRequest,
	history []domain.Message,
	correlationID string,
	sink Sink,
	log *slog.Logger,
) (reports []domain.StepReport, firstIntent domain.Intent, clarification string, appErr *AppError) {
	reports = make([]domain.StepReport, 0, len(steps))
	stopped := -1

	for i, step := range steps {
		intent, err := o.resolver.Resolve(ctx, step.Text, history)
		if err != nil {
			if errors.Is(err, reasoning.ErrReasoningUnavailable) {
				log.Error("intent resolution unavailable", "step", i, "error", err)
				return nil, firstIntent, "", dependencyError(correlationID)
			}
			log.Error("intent resolution failed", "step", i, "error", err)
			return nil, firstIntent, "", internalError(correlationID)
		}
		if i == 0 {
			firstIntent = intent
		}

		if intent.RequiresClarification {
			log.Info("clarification required", "step", i, "confidence", intent.Confidence)
			return reports, firstIntent, o.clarificationText(intent), nil
		}

		def, err := o.registry.Lookup(intent.Name)
		if err != nil {
			// Resolver already screens unknown names; treat a race as
			// a clarification rather than an error.
			log.Warn("resolved action missing from registry", "intent", intent.Name)
			return reports, firstIntent, o.clarificationText(domain.Intent{}), nil
		}

		params, err := action.Validate(def, intent.Params)
		if err != nil {
			ve, _ := action.AsValidationError(err)
			reason := "invalid parameters"
			if ve != nil {
				reason = ve.Error()
			}
			o.metrics.ActionExecuted(def.Name, "invalid")
			reports = append(reports, domain.StepReport{
				Step: step, Action: def.Name, Status: domain.StepFailed, Reason: reason,
			})
			stopped = i
			break
		}

		result, err := o.execute(ctx, def, params, action.ExecContext{
			UserID:         conv.UserID,
			ConversationID: conv.ID,
			CorrelationID:  correlationID,
		}, sink)
		if err != nil {
			log.Error("action execution failed", "action", def.Name, "step", i, "error", err)
			o.metrics.ActionExecuted(def.Name, "error")
			reports = append(reports, domain.StepReport{
				Step: step, Action: def.Name, Status: domain.StepFailed,
				Reason: "the operation could not be completed right now",
			})
			stopped = i
			break
		}

		status := domain.StepSucceeded
		reason := ""
		outcome := "success"
		if !result.Success {
			status = domain.StepFailed
			reason = result.Error
			outcome = "failed"
		}
		o.metrics.ActionExecuted(def.Name, outcome)
		reports = append(reports, domain.StepReport{
			Step: step, Action: def.Name, Status: status, Result: result, Reason: reason,
		})
		if !result.Success {
			stopped = i
			break
		}
	}

	// Steps after a failure are reported, never executed.
	if stopped >= 0 {
		for _, step := range steps[stopped+1:] {
			reports = append(reports, domain.StepReport{Step: step, Status: domain.StepNotAttempted})
		}
	}

	return reports, firstIntent, "", nil
}

// execute runs one action. A disconnect does not cancel an execution
// already committed: it completes and its result is discarded upstream,
// so the action context is detached from the connection.
func (o *Orchestrator) execute(
	parent context.Context,
	def *action.Definition,
	params action.ValidatedParams,
	ec action.ExecContext,
	sink Sink,
) (domain.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.cfg.ExecTimeout)
	defer cancel()

	notice := time.AfterFunc(o.cfg.SlowNotice, func() {
		_ = sink.SendNotice("Still working on it…")
	})
	defer notice.Stop()

	return def.Execute(ctx, params, ec)
}

func (o *Orchestrator) clarificationText(intent domain.Intent) string {
	if strings.TrimSpace(intent.Clarification) != "" {
		return intent.Clarification
	}

	names := make([]string, 0, o.registry.Len())
	for _, d := range o.registry.All() {
		names = append(names, d.Name)
	}
	return fmt.Sprintf(
		"I'm not sure what you'd like me to do. I can help with: %s. Could you rephrase?",
		strings.Join(names, ", "),
	)
}

func (o *Orchestrator) accountTokens(ctx context.Context, conv *domain.Conversation, prompt, reply string, log *slog.Logger) {
	used := (len(prompt) + len(reply)) / 4
	if used <= 0 {
		return
	}
	if err := o.store.AddTokenUsage(ctx, conv.ID, used); err != nil {
		log.Warn("token usage accounting failed", "error", err)
	}
	if err := o.limiter.AddTokens(ctx, conv.UserID, used); err != nil {
		log.Warn("token budget accounting failed", "error", err)
	}
}

func (o *Orchestrator) fail(sink Sink, appErr *AppError, started time.Time, log *slog.Logger) {
	if err := sink.SendError(appErr); err != nil {
		log.Debug("error frame delivery failed", "error", err)
	}
	log.Info("message errored", "state", StateErrored, "kind", appErr.Kind)
	o.metrics.MessageProcessed(string(StateErrored), time.Since(started))
}

// compactAsync runs summarization off the message path. It re-acquires
// the conversation guard so compaction never interleaves with the next
// message on the same conversation.
func (o *Orchestrator) compactAsync(conversationID string, log *slog.Logger) {
	if o.summarizer == nil {
		return
	}
	ticket := o.guard.Reserve(conversationID)
	go func() {
		o.guard.Lock(conversationID, ticket)
		defer o.guard.Unlock(conversationID)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := o.summarizer.Compact(ctx, conversationID); err != nil {
			log.Warn("context compaction failed", "error", err)
		}
	}()
}

// buildResponsePrompt turns the step reports into the generation prompt.
func buildResponsePrompt(userText string, reports []domain.StepReport) string {
	var b strings.Builder
	b.WriteString("The user asked: ")
	b.WriteString(userText)
	b.WriteString("\nOperations performed:\n")
	b.WriteString(renderReports(reports))
	b.WriteString("Write a short, friendly reply describing the outcome. Mention ids and names from the results. If a step failed, explain why and what was not attempted.")
	return b.String()
}

// fallbackSummary is the templated reply used when generation fails: a
// plain enumeration of what ran, what failed and what was skipped.
func fallbackSummary(reports []domain.StepReport) string {
	if len(reports) == 0 {
		return "Done."
	}
	return "Here's what happened:\n" + renderReports(reports)
}

func renderReports(reports []domain.StepReport) string {
	var b strings.Builder
	for i, r := range reports {
		fmt.Fprintf(&b, "Step %d", i+1)
		if r.Action != "" {
			fmt.Fprintf(&b, " (%s)", r.Action)
		}
		switch r.Status {
		case domain.StepSucceeded:
			b.WriteString(": succeeded")
			if len(r.Result.Data) > 0 {
				fmt.Fprintf(&b, " — %s", renderData(r.Result.Data))
			}
		case domain.StepFailed:
			fmt.Fprintf(&b, ": failed — %s", r.Reason)
			for _, s := range r.Result.Suggestions {
				fmt.Fprintf(&b, " (suggestion: %s)", s)
			}
		case domain.StepNotAttempted:
			b.WriteString(": not attempted")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderData(data map[string]any) string {
	// Stable, compact key order for prompts and fallback text.
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, ", ")
}
