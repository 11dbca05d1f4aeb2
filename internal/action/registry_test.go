package action

import (
	"context"
	"errors"
	"testing"

	"github.com/dkrasnov/parley/internal/domain"
)

func noopExec(_ context.Context, _ ValidatedParams, _ ExecContext) (domain.ExecutionResult, error) {
	return domain.ExecutionResult{Success: true}, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(&Definition{Name: "Add-Supplier", Execute: noopExec}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Names are normalized to lowercase.
	def, err := r.Lookup("add-supplier")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if def.Name != "add-supplier" {
		t.Errorf("expected normalized name add-supplier, got %q", def.Name)
	}
	if _, err := r.Lookup("ADD-SUPPLIER"); err != nil {
		t.Errorf("Lookup should be case-insensitive: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(&Definition{Name: "run-simulation", Execute: noopExec}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := r.Register(&Definition{Name: "run-simulation", Execute: noopExec})
	if !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("expected ErrDuplicateAction, got %v", err)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(&Definition{Name: "", Execute: noopExec}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(&Definition{Name: "no-handler"}); err == nil {
		t.Error("expected error for missing execute handler")
	}
	if err := r.Register(nil); err == nil {
		t.Error("expected error for nil definition")
	}
}

func TestLookupNotFound(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Lookup("teleport")
	if !errors.Is(err, ErrActionNotFound) {
		t.Errorf("expected ErrActionNotFound, got %v", err)
	}
	if r.Has("teleport") {
		t.Error("Has should be false for unregistered action")
	}
}

func TestSealBlocksRegistration(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Register(&Definition{Name: "add-warehouse", Execute: noopExec}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	r.Seal()

	if err := r.Register(&Definition{Name: "late", Execute: noopExec}); err == nil {
		t.Error("expected error registering after Seal")
	}
	if !r.Has("add-warehouse") {
		t.Error("sealed registry should still serve lookups")
	}
}

func TestAllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry(nil)

	names := []string{"add-supplier", "add-warehouse", "connect-nodes", "run-simulation"}
	for _, n := range names {
		if err := r.Register(&Definition{Name: n, Execute: noopExec}); err != nil {
			t.Fatalf("Register %q failed: %v", n, err)
		}
	}

	all := r.All()
	if len(all) != len(names) {
		t.Fatalf("expected %d definitions, got %d", len(names), len(all))
	}
	for i, def := range all {
		if def.Name != names[i] {
			t.Errorf("position %d: expected %q, got %q", i, names[i], def.Name)
		}
	}
	if r.Len() != len(names) {
		t.Errorf("Len = %d, want %d", r.Len(), len(names))
	}
}
