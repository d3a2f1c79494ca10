package services

import (
	"encoding/json"
	"reflect"
	"strings"

	"convodesk/internal/models"
)

// MatchConditions reports whether an event payload satisfies every entry in
// a rule's condition map (logical AND; there is no OR support). It is a pure
// function: no I/O, no mutation, deterministic for identical inputs, and it
// always returns a boolean — missing fields, type mismatches and unknown
// operators are non-matches, never errors.
func MatchConditions(conds models.RuleConditions, payload map[string]any) bool {
	for field, cond := range conds {
		value, ok := payload[field]
		if !ok {
			return false
		}
		if !matchCondition(cond, value) {
			return false
		}
	}
	return true
}

func matchCondition(cond models.RuleCondition, value any) bool {
	switch cond.Operator {
	case models.OpEquals, "":
		return looseEqual(value, cond.Value)
	case models.OpContains:
		return containsValue(value, cond.Value)
	case models.OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(cond.Value)
		return aok && bok && a < b
	case models.OpIn:
		set, ok := cond.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range set {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	default:
		// unknown operator fails closed
		return false
	}
}

// looseEqual compares two values the way JSON payloads need: all numeric
// kinds collapse to float64 before comparison, everything else must match
// structurally.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	if _, bIsNum := toFloat(b); bIsNum {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// containsValue implements the "contains" operator: substring match for
// strings, membership for arrays. Anything else is a non-match.
func containsValue(value, needle any) bool {
	switch v := value.(type) {
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
