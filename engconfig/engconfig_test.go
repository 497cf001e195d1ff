package engconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	cfg := Load("TESTPREFIXUNSET")
	assert.Equal(t, "noex-rules", cfg.EngineName)
	assert.False(t, cfg.TraceEnabled)
	assert.Equal(t, 10000, cfg.TraceMaxEntries)
	assert.Equal(t, 10, cfg.BackwardChainingMaxDepth)
	assert.True(t, cfg.HotReloadAtomicReload)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	os.Setenv("RULESTEST_ENGINE_NAME", "my-engine")
	os.Setenv("RULESTEST_TRACE_ENABLED", "true")
	os.Setenv("RULESTEST_BACKWARD_CHAINING_MAX_DEPTH", "25")
	defer os.Unsetenv("RULESTEST_ENGINE_NAME")
	defer os.Unsetenv("RULESTEST_TRACE_ENABLED")
	defer os.Unsetenv("RULESTEST_BACKWARD_CHAINING_MAX_DEPTH")

	cfg := Load("RULESTEST")
	assert.Equal(t, "my-engine", cfg.EngineName)
	assert.True(t, cfg.TraceEnabled)
	assert.Equal(t, 25, cfg.BackwardChainingMaxDepth)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(Load("RULESTEST2")))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Load("RULESTEST3")
	cfg.LogLevel = "verbose"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}

func TestValidateRejectsNonPositiveMax(t *testing.T) {
	cfg := Load("RULESTEST4")
	cfg.TraceMaxEntries = 0
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TraceMaxEntries")
}
