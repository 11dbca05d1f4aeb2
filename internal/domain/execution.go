package domain

// Intent is the classified goal of one user request: an action name plus
// the parameters the reasoning backend extracted for it.
type Intent struct {
	Name                  string         `json:"name"`
	Confidence            float64        `json:"confidence"`
	Params                map[string]any `json:"params,omitempty"`
	RequiresClarification bool           `json:"requires_clarification,omitempty"`
	// Clarification carries the question to ask when the intent is
	// ambiguous or unknown.
	Clarification string `json:"clarification,omitempty"`
}

// SubRequest is one step of a multi-step message, in plan order.
type SubRequest struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ExecutionResult is the outcome of a single action invocation.
// Success=false implies Error is non-empty.
type ExecutionResult struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// StepStatus reports how far a plan step got.
type StepStatus string

const (
	StepSucceeded    StepStatus = "succeeded"
	StepFailed       StepStatus = "failed"
	StepNotAttempted StepStatus = "not_attempted"
)

// StepReport is the per-step record returned for a multi-step message.
// Completed side-effecting steps are never rolled back; the report tells
// the caller exactly what ran so they can reconcile.
type StepReport struct {
	Step   SubRequest      `json:"step"`
	Action string          `json:"action,omitempty"`
	Status StepStatus      `json:"status"`
	Result ExecutionResult `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}
