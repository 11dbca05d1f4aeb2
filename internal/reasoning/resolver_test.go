package reasoning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkrasnov/parley/internal/domain"
)

type scriptedClassifier struct {
	mu      sync.Mutex
	results []Classification
	errs    []error
	calls   int
}

func (s *scriptedClassifier) Classify(_ context.Context, _ string, _ []domain.Message) (Classification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Classification{}, s.errs[i]
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

type lookupSet map[string]bool

func (l lookupSet) Has(name string) bool { return l[name] }

func fastConfig() ResolverConfig {
	return ResolverConfig{
		MaxAttempts: 3,
		Timeout:     time.Second,
		Backoff:     BackoffPolicy{Base: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond},
	}
}

func TestResolveConfidentIntent(t *testing.T) {
	cls := &scriptedClassifier{results: []Classification{
		{Intent: "add-supplier", Confidence: 0.87, Params: map[string]any{"name": "Oslo Parts"}},
	}}
	r := NewResolver(cls, lookupSet{"add-supplier": true}, fastConfig(), nil)

	intent, err := r.Resolve(context.Background(), "add a supplier", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.RequiresClarification {
		t.Error("confident registered intent must not require clarification")
	}
	if intent.Name != "add-supplier" || intent.Confidence != 0.87 {
		t.Errorf("intent = %+v", intent)
	}
}

func TestResolveBelowConfidenceFloor(t *testing.T) {
	cls := &scriptedClassifier{results: []Classification{
		{Intent: "add-supplier", Confidence: 0.49},
	}}
	r := NewResolver(cls, lookupSet{"add-supplier": true}, fastConfig(), nil)

	intent, err := r.Resolve(context.Background(), "maybe add something?", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !intent.RequiresClarification {
		t.Error("confidence below the floor must require clarification")
	}
}

func TestResolveExactlyAtFloor(t *testing.T) {
	cls := &scriptedClassifier{results: []Classification{
		{Intent: "add-supplier", Confidence: ConfidenceFloor},
	}}
	r := NewResolver(cls, lookupSet{"add-supplier": true}, fastConfig(), nil)

	intent, err := r.Resolve(context.Background(), "add a supplier", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.RequiresClarification {
		t.Error("confidence at the floor dispatches, floor is inclusive")
	}
}

func TestResolveUnregisteredIntent(t *testing.T) {
	cls := &scriptedClassifier{results: []Classification{
		{Intent: "teleport-cargo", Confidence: 0.95},
	}}
	r := NewResolver(cls, lookupSet{"add-supplier": true}, fastConfig(), nil)

	intent, err := r.Resolve(context.Background(), "teleport my cargo", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !intent.RequiresClarification {
		t.Error("intent missing from the registry must require clarification")
	}
}

func TestResolveEmptyIntent(t *testing.T) {
	cls := &scriptedClassifier{results: []Classification{
		{Intent: "", Confidence: 0.9},
	}}
	r := NewResolver(cls, lookupSet{}, fastConfig(), nil)

	intent, err := r.Resolve(context.Background(), "hmm", nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !intent.RequiresClarification {
		t.Error("empty intent must require clarification")
	}
}

func TestResolveRetriesTransientFailure(t *testing.T) {
	cls := &scriptedClassifier{
		errs: []error{errors.New("timeout"), errors.New("timeout")},
		results: []Classification{
			{}, {},
			{Intent: "add-supplier", Confidence: 0.8},
		},
	}
	r := NewResolver(cls, lookupSet{"add-supplier": true}, fastConfig(), nil)

	retries := 0
	r.OnRetry(func() { retries++ })

	intent, err := r.Resolve(context.Background(), "add a supplier", nil)
	if err != nil {
		t.Fatalf("Resolve failed after retries: %v", err)
	}
	if intent.Name != "add-supplier" {
		t.Errorf("intent = %+v", intent)
	}
	if retries != 2 {
		t.Errorf("retry observer fired %d times, want 2", retries)
	}
	if cls.calls != 3 {
		t.Errorf("classifier called %d times, want 3", cls.calls)
	}
}

func TestResolveExhaustsRetries(t *testing.T) {
	boom := errors.New("connection refused")
	cls := &scriptedClassifier{
		errs:    []error{boom, boom, boom},
		results: []Classification{{}},
	}
	r := NewResolver(cls, lookupSet{}, fastConfig(), nil)

	_, err := r.Resolve(context.Background(), "add a supplier", nil)
	if !errors.Is(err, ErrReasoningUnavailable) {
		t.Fatalf("expected ErrReasoningUnavailable, got %v", err)
	}
	if cls.calls != 3 {
		t.Errorf("classifier called %d times, want 3", cls.calls)
	}
}

func TestResolveStopsWhenContextCancelled(t *testing.T) {
	boom := errors.New("slow backend")
	cls := &scriptedClassifier{
		errs:    []error{boom, boom, boom},
		results: []Classification{{}},
	}
	cfg := fastConfig()
	cfg.Backoff = BackoffPolicy{Base: time.Hour, Factor: 2, Max: time.Hour}
	r := NewResolver(cls, lookupSet{}, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := r.Resolve(ctx, "add a supplier", nil)
	if !errors.Is(err, ErrReasoningUnavailable) {
		t.Fatalf("expected ErrReasoningUnavailable, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation should interrupt backoff sleeps")
	}
}

func TestBackoffDelayGrows(t *testing.T) {
	p := BackoffPolicy{Base: 2 * time.Second, Factor: 2, Max: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
