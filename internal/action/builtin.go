package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkrasnov/parley/internal/backend"
	"github.com/dkrasnov/parley/internal/domain"
)

// RegisterBuiltins registers the supply-chain network operations against
// the given domain backend. Called once during startup wiring.
func RegisterBuiltins(r *Registry, be backend.Client) error {
	defs := []*Definition{
		{
			Name:        "add-supplier",
			Category:    "network",
			Description: "Add a supplier node to the network",
			Params: []ParamSpec{
				{Name: "name", Type: TypeString, Required: false, Description: "Display name for the supplier"},
				{Name: "location", Type: TypeString, Required: true, Description: "City or region of the supplier"},
				{Name: "capacity", Type: TypeNumber, Required: false, Description: "Monthly unit capacity"},
			},
			Execute: backendExec(be, "add-supplier"),
		},
		{
			Name:        "add-warehouse",
			Category:    "network",
			Description: "Add a warehouse node to the network",
			Params: []ParamSpec{
				{Name: "name", Type: TypeString, Required: false, Description: "Display name for the warehouse"},
				{Name: "location", Type: TypeString, Required: true, Description: "City or region of the warehouse"},
			},
			Execute: backendExec(be, "add-warehouse"),
		},
		{
			Name:        "connect-nodes",
			Category:    "network",
			Description: "Create a lane between two existing nodes",
			Params: []ParamSpec{
				{Name: "from", Type: TypeString, Required: true, Description: "Source node id or name"},
				{Name: "to", Type: TypeString, Required: true, Description: "Target node id or name"},
				{Name: "lead_time_days", Type: TypeNumber, Required: false, Description: "Lane lead time in days"},
			},
			Execute: connectNodesExec(be),
		},
		{
			Name:        "remove-node",
			Category:    "network",
			Description: "Remove a node and its lanes from the network",
			Params: []ParamSpec{
				{Name: "node", Type: TypeString, Required: true, Description: "Node id or name to remove"},
			},
			Execute: backendExec(be, "remove-node"),
		},
		{
			Name:        "run-simulation",
			Category:    "analysis",
			Description: "Run a demand simulation over the current network",
			Params: []ParamSpec{
				{Name: "horizon_days", Type: TypeNumber, Required: false, Description: "Simulation horizon in days", Check: positiveNumber},
				{Name: "scenario", Type: TypeString, Required: false, Description: "Named demand scenario"},
			},
			Execute: backendExec(be, "run-simulation"),
		},
		{
			Name:        "get-network-status",
			Category:    "analysis",
			Description: "Summarize nodes, lanes and current alerts",
			Execute:     backendExec(be, "get-network-status"),
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}

	// Local capability listing; answered without a backend round trip.
	return r.Register(&Definition{
		Name:        "list-capabilities",
		Category:    "meta",
		Description: "List the operations this assistant can perform",
		Execute: func(_ context.Context, _ ValidatedParams, _ ExecContext) (domain.ExecutionResult, error) {
			caps := make([]any, 0, r.Len())
			for _, d := range r.All() {
				caps = append(caps, map[string]any{
					"name":        d.Name,
					"category":    d.Category,
					"description": d.Description,
				})
			}
			return domain.ExecutionResult{
				Success: true,
				Data:    map[string]any{"capabilities": caps},
			}, nil
		},
	})
}

func positiveNumber(v any) error {
	f, ok := v.(float64)
	if !ok || f <= 0 {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}

// backendExec builds the standard execute handler: forward validated
// params to the backend operation and map the error classes.
func backendExec(be backend.Client, op string) ExecuteFunc {
	return func(ctx context.Context, params ValidatedParams, _ ExecContext) (domain.ExecutionResult, error) {
		data, err := be.Do(ctx, op, params)
		return resultFromBackend(data, err)
	}
}

// connectNodesExec rejects self-connections locally before touching the
// backend; the backend enforces the same constraint for unknown clients.
func connectNodesExec(be backend.Client) ExecuteFunc {
	return func(ctx context.Context, params ValidatedParams, _ ExecContext) (domain.ExecutionResult, error) {
		from, to := params.String("from"), params.String("to")
		if from != "" && from == to {
			return domain.ExecutionResult{
				Success:     false,
				Error:       "a node cannot be connected to itself",
				Suggestions: []string{"pick two distinct nodes", "use get-network-status to list node ids"},
			}, nil
		}
		data, err := be.Do(ctx, "connect-nodes", params)
		return resultFromBackend(data, err)
	}
}

func resultFromBackend(data map[string]any, err error) (domain.ExecutionResult, error) {
	if err == nil {
		return domain.ExecutionResult{Success: true, Data: data}, nil
	}
	var be *backend.BusinessError
	if errors.As(err, &be) {
		return domain.ExecutionResult{
			Success:     false,
			Error:       be.Message,
			Suggestions: be.Suggestions,
		}, nil
	}
	// System failure: the orchestrator retries/reports it, so pass it up.
	return domain.ExecutionResult{}, err
}
