package sqlpersist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/ruleset"
)

func TestTableNames(t *testing.T) {
	assert.Equal(t, "rulesengine_rules", ruleRow{}.TableName())
	assert.Equal(t, "rulesengine_groups", groupRow{}.TableName())
	assert.Equal(t, "rulesengine_schema", schemaRow{}.TableName())
}

func TestMarshalUnmarshalRuleRoundTrips(t *testing.T) {
	enabled := true
	input := ruleset.RuleInput{
		ID:      "r1",
		Name:    "discount-over-100",
		Enabled: &enabled,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "orders.created"},
		Conditions: []ruleset.Condition{
			{Source: ruleset.ConditionSource{Kind: ruleset.SourceEvent, Field: "amount"}, Operator: ruleset.OpGt, Value: ruleset.Value{Literal: 100.0}},
		},
	}

	body, err := marshalJSON(input)
	require.NoError(t, err)
	assert.Contains(t, body, "discount-over-100")

	var out ruleset.RuleInput
	require.NoError(t, unmarshalJSON(body, &out))
	assert.Equal(t, input.ID, out.ID)
	assert.Equal(t, input.Name, out.Name)
	require.Len(t, out.Conditions, 1)
	assert.Equal(t, ruleset.OpGt, out.Conditions[0].Operator)
}

func TestMarshalUnmarshalGroupRoundTrips(t *testing.T) {
	g := ruleset.Group{ID: "g1", Name: "billing", Enabled: true}

	body, err := marshalJSON(g)
	require.NoError(t, err)

	var out ruleset.Group
	require.NoError(t, unmarshalJSON(body, &out))
	assert.Equal(t, g, out)
}
