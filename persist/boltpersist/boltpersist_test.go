package boltpersist

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulesengine/persist"
	"rulesengine/ruleset"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.db")
	store, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func enabledPtr() *bool {
	b := true
	return &b
}

func TestLoadEmptyBeforeAnySave(t *testing.T) {
	store := openTestStore(t)

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Rules)
	assert.Empty(t, snap.Groups)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store := openTestStore(t)

	snap := persist.Snapshot{
		Rules: []ruleset.RuleInput{
			{
				ID:      "r1",
				Name:    "discount-over-100",
				Enabled: enabledPtr(),
				Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "orders.created"},
				Conditions: []ruleset.Condition{
					{Source: ruleset.ConditionSource{Kind: ruleset.SourceEvent, Field: "amount"}, Operator: ruleset.OpGt, Value: ruleset.Value{Literal: 100.0}},
				},
				Actions: []ruleset.Action{
					{Kind: ruleset.ActionSetFact, Key: "orders:discounted", Value: ruleset.Value{Literal: true}},
				},
			},
		},
		Groups: []ruleset.Group{
			{ID: "g1", Name: "billing", Enabled: true},
		},
	}

	require.NoError(t, store.Save(snap))

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "r1", loaded.Rules[0].ID)
	assert.Equal(t, "discount-over-100", loaded.Rules[0].Name)
	require.Len(t, loaded.Groups, 1)
	assert.Equal(t, "billing", loaded.Groups[0].Name)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, persist.CurrentSchemaVersion, version)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(persist.Snapshot{
		Rules: []ruleset.RuleInput{{ID: "r1", Name: "first", Enabled: enabledPtr(), Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "x"}}},
	}))
	require.NoError(t, store.Save(persist.Snapshot{
		Rules: []ruleset.RuleInput{{ID: "r2", Name: "second", Enabled: enabledPtr(), Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "y"}}},
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "r2", loaded.Rules[0].ID)
}

func TestClearRemovesSnapshot(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save(persist.Snapshot{
		Rules: []ruleset.RuleInput{{ID: "r1", Name: "first", Enabled: enabledPtr(), Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "x"}}},
	}))

	require.NoError(t, store.Clear())

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestKeyReportsFilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, path, store.Key())
}
