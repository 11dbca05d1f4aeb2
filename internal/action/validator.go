package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ValidatedParams is a coerced, schema-checked parameter bag. Only
// declared parameters appear in it; unknown inputs are dropped.
type ValidatedParams map[string]any

// ValidationError reports the first parameter that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}

// AsValidationError unwraps err into a *ValidationError if possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Validate checks raw parameters against the definition's schema. It is
// idempotent and side-effect free: the same (definition, params) pair
// always yields the same accept/reject result. Validation fails closed;
// a missing required field or type mismatch rejects the whole call.
func Validate(def *Definition, raw map[string]any) (ValidatedParams, error) {
	out := make(ValidatedParams, len(def.Params))

	for _, spec := range def.Params {
		v, present := raw[spec.Name]
		if !present || v == nil {
			if spec.Required {
				return nil, &ValidationError{Field: spec.Name, Reason: "required parameter is missing"}
			}
			continue
		}

		coerced, err := coerce(spec.Type, v)
		if err != nil {
			return nil, &ValidationError{Field: spec.Name, Reason: err.Error()}
		}

		if spec.Check != nil {
			if err := spec.Check(coerced); err != nil {
				return nil, &ValidationError{Field: spec.Name, Reason: err.Error()}
			}
		}

		out[spec.Name] = coerced
	}

	return out, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeString:
		switch x := v.(type) {
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, fmt.Errorf("expected non-empty string")
			}
			return x, nil
		default:
			return nil, fmt.Errorf("expected string, got %T", v)
		}
	case TypeNumber:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			// Numbers extracted from text often arrive as strings.
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", x)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
	case TypeList:
		switch x := v.(type) {
		case []any:
			return x, nil
		case []string:
			out := make([]any, len(x))
			for i, s := range x {
				out[i] = s
			}
			return out, nil
		default:
			return nil, fmt.Errorf("expected list, got %T", v)
		}
	default:
		return nil, fmt.Errorf("unknown parameter type %q", t)
	}
}

// String returns the named parameter as a string, or "" when absent.
func (p ValidatedParams) String(name string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return ""
}

// Number returns the named parameter as a float64, or 0 when absent.
func (p ValidatedParams) Number(name string) float64 {
	if v, ok := p[name].(float64); ok {
		return v
	}
	return 0
}

// Bool returns the named parameter as a bool, or false when absent.
func (p ValidatedParams) Bool(name string) bool {
	if v, ok := p[name].(bool); ok {
		return v
	}
	return false
}
