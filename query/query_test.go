package query

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/fact"
	"rulesengine/ruleset"
)

func newTestEngine(t *testing.T) (*Engine, *ruleset.Manager, *fact.Store) {
	t.Helper()
	seq := 0
	idFn := func(prefix string) string {
		seq++
		return fmt.Sprintf("%s-%d", prefix, seq)
	}
	rules := ruleset.NewManager(func() int64 { return 0 }, idFn)
	facts := fact.New(nil)
	return New(rules, facts, 10, 100), rules, facts
}

func enabledPtr() *bool {
	b := true
	return &b
}

func TestEvaluateFactAlreadyPresent(t *testing.T) {
	e, _, facts := newTestEngine(t)
	facts.Set("customer:tier", "vip", "test", 0)

	res := e.Evaluate(Goal{Kind: GoalFact, Key: "customer:tier"})
	assert.True(t, res.Achievable)
	assert.Equal(t, NodeFactExists, res.Proof.Kind)
}

func TestEvaluateChainsThroughProducingRules(t *testing.T) {
	e, rules, facts := newTestEngine(t)
	facts.Set("customer:active", true, "test", 0)

	_, err := rules.Register(ruleset.RuleInput{
		Name:    "earn-points",
		Enabled: enabledPtr(),
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "customer:active"},
		Conditions: []ruleset.Condition{
			{Source: ruleset.ConditionSource{Kind: ruleset.SourceFact, Pattern: "customer:active"}, Operator: ruleset.OpEq, Value: ruleset.Value{Literal: true}},
		},
		Actions: []ruleset.Action{
			{Kind: ruleset.ActionSetFact, Key: "loyalty:points", Value: ruleset.Value{Literal: 500.0}},
		},
	}, false)
	require.NoError(t, err)

	_, err = rules.Register(ruleset.RuleInput{
		Name:    "vip-upgrade",
		Enabled: enabledPtr(),
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "loyalty:points"},
		Conditions: []ruleset.Condition{
			{Source: ruleset.ConditionSource{Kind: ruleset.SourceFact, Pattern: "loyalty:points"}, Operator: ruleset.OpExists},
		},
		Actions: []ruleset.Action{
			{Kind: ruleset.ActionSetFact, Key: "customer:tier", Value: ruleset.Value{Literal: "vip"}},
		},
	}, false)
	require.NoError(t, err)

	res := e.Evaluate(Goal{Kind: GoalFact, Key: "customer:tier"})
	require.True(t, res.Achievable)
	assert.Equal(t, NodeRule, res.Proof.Kind)
	assert.Equal(t, "vip-upgrade", res.Proof.RuleName)
	require.Len(t, res.Proof.Children, 1)
	assert.Equal(t, NodeRule, res.Proof.Children[0].Kind)
	assert.Equal(t, "earn-points", res.Proof.Children[0].RuleName)
	assert.Equal(t, 2, res.ExploredRules)
}

func TestEvaluateNoRulesUnachievable(t *testing.T) {
	e, _, _ := newTestEngine(t)
	res := e.Evaluate(Goal{Kind: GoalFact, Key: "nonexistent:key"})
	assert.False(t, res.Achievable)
	assert.Equal(t, ReasonNoRules, res.Proof.Reason)
}

func TestEvaluateMaxDepthZeroAlwaysFails(t *testing.T) {
	rules := ruleset.NewManager(func() int64 { return 0 }, func(p string) string { return p })
	facts := fact.New(nil)
	facts.Set("goal:key", "value", "test", 0)
	e := New(rules, facts, 0, 100)

	res := e.Evaluate(Goal{Kind: GoalFact, Key: "goal:key"})
	// maxDepth=0 fails even the base-case fact check, per the depth-checked-
	// before-any-lookup rule.
	assert.False(t, res.Achievable)
	assert.Equal(t, ReasonMaxDepth, res.Proof.Reason)
}

func TestEvaluateCycleDetected(t *testing.T) {
	e, rules, _ := newTestEngine(t)

	_, err := rules.Register(ruleset.RuleInput{
		Name:    "self-referential",
		Enabled: enabledPtr(),
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "loop:a"},
		Conditions: []ruleset.Condition{
			{Source: ruleset.ConditionSource{Kind: ruleset.SourceFact, Pattern: "loop:a"}, Operator: ruleset.OpExists},
		},
		Actions: []ruleset.Action{
			{Kind: ruleset.ActionSetFact, Key: "loop:a", Value: ruleset.Value{Literal: true}},
		},
	}, false)
	require.NoError(t, err)

	res := e.Evaluate(Goal{Kind: GoalFact, Key: "loop:a"})
	assert.False(t, res.Achievable)
}
