// Package api provides HTTP handlers for the Parley API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/dkrasnov/parley/internal/action"
	"github.com/dkrasnov/parley/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler serves the non-WebSocket endpoints: health and action discovery.
type Handler struct {
	store    store.ConversationStore
	registry *action.Registry
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(s store.ConversationStore, reg *action.Registry) *Handler {
	return &Handler{store: s, registry: reg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/api/actions", h.ListActions)
}

// Health reports liveness and store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"store":  "unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type actionParamView struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

type actionView struct {
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Params      []actionParamView `json:"params"`
}

// ListActions returns every registered action with its parameter schema,
// in registration order.
func (h *Handler) ListActions(w http.ResponseWriter, _ *http.Request) {
	defs := h.registry.All()
	views := make([]actionView, 0, len(defs))
	for _, def := range defs {
		params := make([]actionParamView, 0, len(def.Params))
		for _, p := range def.Params {
			params = append(params, actionParamView{
				Name:        p.Name,
				Type:        string(p.Type),
				Required:    p.Required,
				Description: p.Description,
			})
		}
		views = append(views, actionView{
			Name:        def.Name,
			Category:    def.Category,
			Description: def.Description,
			Params:      params,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"actions": views})
}
