package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateCondition(t *testing.T) {
	vars := map[string]string{
		"budget": "150000",
		"name":   "Ana",
		"empty":  "",
	}

	t.Run("message contains is case insensitive", func(t *testing.T) {
		payload := ConditionPayload{Predicate: PredicateMessageContains, Value: "Departamento"}

		result, err := EvaluateCondition(payload, vars, "busco un DEPARTAMENTO en Polanco")
		assert.NoError(t, err)
		assert.True(t, result)

		result, err = EvaluateCondition(payload, vars, "busco una casa")
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("variable set", func(t *testing.T) {
		result, err := EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableSet, Variable: "budget"}, vars, "")
		assert.NoError(t, err)
		assert.True(t, result)

		result, err = EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableSet, Variable: "missing"}, vars, "")
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("empty variable counts as unset", func(t *testing.T) {
		result, err := EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableSet, Variable: "empty"}, vars, "")
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("variable equals", func(t *testing.T) {
		result, err := EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableEquals, Variable: "name", Value: "Ana"}, vars, "")
		assert.NoError(t, err)
		assert.True(t, result)

		result, err = EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableEquals, Variable: "name", Value: "Luis"}, vars, "")
		assert.NoError(t, err)
		assert.False(t, result)
	})

	t.Run("equals against missing variable compares empty string", func(t *testing.T) {
		result, err := EvaluateCondition(
			ConditionPayload{Predicate: PredicateVariableEquals, Variable: "missing", Value: ""}, vars, "")
		assert.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("unknown predicate is an error", func(t *testing.T) {
		_, err := EvaluateCondition(
			ConditionPayload{Predicate: "REGEX_MATCH", Value: "x"}, vars, "")
		assert.Error(t, err)
	})
}
