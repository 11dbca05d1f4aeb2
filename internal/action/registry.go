// Package action defines the named, parameterized operations the engine
// can perform, along with their registration and validation contracts.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dkrasnov/parley/internal/domain"
)

var (
	// ErrDuplicateAction is returned when a name is registered twice.
	ErrDuplicateAction = errors.New("action already registered")
	// ErrActionNotFound is returned by Lookup for unknown names.
	ErrActionNotFound = errors.New("action not found")
)

// ParamType enumerates the types a parameter may declare.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
	TypeBool   ParamType = "bool"
	TypeList   ParamType = "list"
)

// ParamSpec declares one parameter of an action.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	// Check is an optional predicate applied after type coercion.
	Check func(v any) error `json:"-"`
}

// ExecContext carries per-invocation context into an action handler.
type ExecContext struct {
	UserID         string
	ConversationID string
	CorrelationID  string
}

// ExecuteFunc runs one action invocation against the domain backend.
type ExecuteFunc func(ctx context.Context, params ValidatedParams, ec ExecContext) (domain.ExecutionResult, error)

// Definition describes a capability exposed through the registry. The
// schema is immutable after registration.
type Definition struct {
	Name        string      `json:"name"`
	Category    string      `json:"category,omitempty"`
	Description string      `json:"description,omitempty"`
	Params      []ParamSpec `json:"params,omitempty"`
	Execute     ExecuteFunc `json:"-"`
}

// Registry holds the action table. Registration happens once at process
// start; after Seal the registry is read-only and safe for unsynchronized
// concurrent reads.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Definition
	ordered []*Definition
	sealed  bool
	logger  *slog.Logger
}

// NewRegistry creates an empty action registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Definition),
		logger: logger.With("component", "actions"),
	}
}

// Register adds a definition. Names are lowercased and must be unique.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("action definition is nil")
	}
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return fmt.Errorf("action name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("action %q: execute handler is required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registry sealed, cannot register %q", name)
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
	}

	def.Name = name
	r.byName[name] = def
	r.ordered = append(r.ordered, def)

	r.logger.Debug("registered action", "name", name, "category", def.Category, "params", len(def.Params))
	return nil
}

// Seal marks the registry immutable. Called once before traffic starts.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup finds a definition by name.
func (r *Registry) Lookup(name string) (*Definition, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	def, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotFound, name)
	}
	return def, nil
}

// Has reports whether a name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// All returns a read-only snapshot of every definition in registration
// order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
