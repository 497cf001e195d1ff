package ruleset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *Manager {
	return NewManager(func() int64 { return 1000 }, func(p string) string { return p })
}

func enabledPtr() *bool {
	b := true
	return &b
}

func sampleInput(id string) RuleInput {
	return RuleInput{
		ID:      id,
		Name:    id,
		Enabled: enabledPtr(),
		Trigger: Trigger{Kind: TriggerEvent, Topic: "orders.created"},
		Conditions: []Condition{
			{Source: ConditionSource{Kind: SourceEvent, Field: "amount"}, Operator: OpGt, Value: Value{Literal: 10.0}},
		},
		Actions: []Action{
			{Kind: ActionSetFact, Key: "orders:seen", Value: Value{Literal: true}},
		},
	}
}

func TestRegisterGroupUpsertPreservesCreatedAt(t *testing.T) {
	m := newTestManager()
	g1 := m.RegisterGroup(Group{ID: "g1", Name: "billing", Enabled: true})
	require.NotNil(t, g1)
	assert.Equal(t, int64(1000), g1.CreatedAt)

	g2 := m.RegisterGroup(Group{ID: "g1", Name: "billing-v2", Enabled: true})
	assert.Equal(t, g1.CreatedAt, g2.CreatedAt)
	assert.Equal(t, "billing-v2", g2.Name)
}

func TestUnregisterGroupRemovesIt(t *testing.T) {
	m := newTestManager()
	m.RegisterGroup(Group{ID: "g1", Name: "billing", Enabled: true})
	assert.True(t, m.UnregisterGroup("g1"))
	assert.Nil(t, m.GetGroup("g1"))
	assert.False(t, m.UnregisterGroup("g1"))
}

func TestSnapshotRoundTripsThroughRestore(t *testing.T) {
	m := newTestManager()
	_, err := m.Register(sampleInput("r1"), false)
	require.NoError(t, err)
	m.RegisterGroup(Group{ID: "g1", Name: "billing", Enabled: true})

	rules, groups := m.Snapshot()
	require.Len(t, rules, 1)
	require.Len(t, groups, 1)

	m2 := newTestManager()
	require.NoError(t, m2.Restore(rules, groups))

	restored := m2.Get("r1")
	require.NotNil(t, restored)
	assert.Equal(t, "r1", restored.Name)
	assert.NotNil(t, m2.GetGroup("g1"))
}

func TestRestoreReplacesExistingState(t *testing.T) {
	m := newTestManager()
	_, err := m.Register(sampleInput("stale"), false)
	require.NoError(t, err)

	require.NoError(t, m.Restore([]RuleInput{sampleInput("fresh")}, nil))

	assert.Nil(t, m.Get("stale"))
	assert.NotNil(t, m.Get("fresh"))
}
