//go:build integration

package sqlpersist

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"rulesengine/persist"
	"rulesengine/ruleset"
)

// setupPostgresContainer starts a PostgreSQL container for testing.
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestStore_Integration_SaveLoadRoundTrips(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := Open(dsn)
	require.NoError(t, err)

	enabled := true
	snap := persist.Snapshot{
		Rules: []ruleset.RuleInput{
			{
				ID:      "r1",
				Name:    "discount-over-100",
				Enabled: &enabled,
				Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Topic: "orders.created"},
				Conditions: []ruleset.Condition{
					{Source: ruleset.ConditionSource{Kind: ruleset.SourceEvent, Field: "amount"}, Operator: ruleset.OpGt, Value: ruleset.Value{Literal: 100.0}},
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

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, persist.CurrentSchemaVersion, version)

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "discount-over-100", loaded.Rules[0].Name)
	require.Len(t, loaded.Groups, 1)
	assert.Equal(t, "billing", loaded.Groups[0].Name)
}

func TestStore_Integration_SaveReplacesPreviousSnapshot(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := Open(dsn)
	require.NoError(t, err)

	enabled := true
	first := persist.Snapshot{Rules: []ruleset.RuleInput{{ID: "r1", Name: "first", Enabled: &enabled}}}
	require.NoError(t, store.Save(first))

	second := persist.Snapshot{Rules: []ruleset.RuleInput{{ID: "r2", Name: "second", Enabled: &enabled}}}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Rules, 1)
	assert.Equal(t, "r2", loaded.Rules[0].ID)
}

func TestStore_Integration_ClearRemovesEverything(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := Open(dsn)
	require.NoError(t, err)

	enabled := true
	require.NoError(t, store.Save(persist.Snapshot{Rules: []ruleset.RuleInput{{ID: "r1", Name: "r", Enabled: &enabled}}}))

	require.NoError(t, store.Clear())

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	version, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

func TestStore_Integration_ExistsFalseOnFreshDatabase(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	store, err := Open(dsn)
	require.NoError(t, err)

	exists, err := store.Exists()
	require.NoError(t, err)
	assert.False(t, exists)
}
