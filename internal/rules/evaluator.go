package rules

import (
	"encoding/json"
	"log"
)

// EvaluateCondition is the pure condition check: no side effects beyond a
// warning log for unknown operators, and deterministic for identical
// inputs. Composite values contribute their "speed" or generic "value"
// sub-field; the same extraction applies to composite thresholds.
func EvaluateCondition(op Operator, observed, threshold any) bool {
	value, ok := extractNumber(observed)
	if !ok {
		return false
	}

	switch op {
	case OpGreaterThan:
		t, ok := extractNumber(threshold)
		return ok && value > t
	case OpLessThan:
		t, ok := extractNumber(threshold)
		return ok && value < t
	case OpEquals:
		t, ok := extractNumber(threshold)
		return ok && value == t
	case OpInRange:
		min, max, ok := extractBounds(threshold)
		return ok && value >= min && value <= max
	case OpOutOfRange:
		min, max, ok := extractBounds(threshold)
		return ok && (value < min || value > max)
	default:
		log.Printf("[WARN] Evaluator: unknown operator %q", op)
		return false
	}
}

// extractNumber pulls a float out of scalars, json.Number, and composite
// objects keyed by "speed" or "value".
func extractNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case map[string]any:
		if sub, ok := n["speed"]; ok {
			return extractNumber(sub)
		}
		if sub, ok := n["value"]; ok {
			return extractNumber(sub)
		}
	}
	return 0, false
}

// extractBounds reads {min,max} thresholds used by the range operators.
func extractBounds(v any) (float64, float64, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return 0, 0, false
	}
	min, okMin := extractNumber(m["min"])
	max, okMax := extractNumber(m["max"])
	if !okMin || !okMax {
		return 0, 0, false
	}
	return min, max, true
}
