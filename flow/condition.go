package flow

import (
	"strings"
)

// ============================================================================
// Condition Evaluator
// ============================================================================

// EvaluateCondition evalúa un predicado contra las variables capturadas y el
// último mensaje entrante. Puro y determinista: sin I/O, sin efectos.
//
// Los predicados desconocidos se rechazan al publicar (ValidateGraph), así que
// llegar aquí con uno es un bug del caller, no un caso de usuario.
func EvaluateCondition(payload ConditionPayload, variables map[string]string, lastMessage string) (bool, error) {
	switch payload.Predicate {
	case PredicateMessageContains:
		return strings.Contains(
			strings.ToLower(lastMessage),
			strings.ToLower(payload.Value),
		), nil

	case PredicateVariableSet:
		return variables[payload.Variable] != "", nil

	case PredicateVariableEquals:
		return variables[payload.Variable] == payload.Value, nil

	default:
		return false, ErrUnknownPredicate().WithDetail("predicate", string(payload.Predicate))
	}
}
