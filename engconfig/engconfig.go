// Package engconfig loads the engine's own configuration, adapted from the
// teacher's config.EnvConfig typed-getter pattern: every key the core
// recognizes has a default, and config stays static for the process
// lifetime (the hot-reload watcher already owns periodic refresh, for
// rules — not for config).
package engconfig

import (
	"os"
	"strconv"
	"strings"
)

// EnvConfig reads environment variables under an optional prefix, with
// typed getters and defaults.
type EnvConfig struct {
	prefix string
}

func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix == "" {
		return key
	}
	return ec.prefix + "_" + key
}

func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// EngineConfig is every configuration value the engine core recognizes.
type EngineConfig struct {
	EngineName string

	TraceEnabled    bool
	TraceMaxEntries int

	EventStoreMaxEvents int

	BackwardChainingMaxDepth         int
	BackwardChainingMaxExploredRules int

	HotReloadIntervalMs          int64
	HotReloadAtomicReload        bool
	HotReloadValidateBeforeApply bool

	LogLevel  string
	LogFormat string
}

// Load reads EngineConfig from the environment under prefix (e.g. "RULES"
// reads RULES_ENGINE_NAME, RULES_TRACE_ENABLED, ...), falling back to the
// documented defaults for every key the core recognizes.
func Load(prefix string) EngineConfig {
	env := NewEnvConfig(prefix)
	return EngineConfig{
		EngineName: env.GetString("ENGINE_NAME", "noex-rules"),

		TraceEnabled:    env.GetBool("TRACE_ENABLED", false),
		TraceMaxEntries: env.GetInt("TRACE_MAX_ENTRIES", 10000),

		EventStoreMaxEvents: env.GetInt("EVENT_STORE_MAX_EVENTS", 10000),

		BackwardChainingMaxDepth:         env.GetInt("BACKWARD_CHAINING_MAX_DEPTH", 10),
		BackwardChainingMaxExploredRules: env.GetInt("BACKWARD_CHAINING_MAX_EXPLORED_RULES", 100),

		HotReloadIntervalMs:          int64(env.GetInt("HOT_RELOAD_INTERVAL_MS", 5000)),
		HotReloadAtomicReload:        env.GetBool("HOT_RELOAD_ATOMIC_RELOAD", true),
		HotReloadValidateBeforeApply: env.GetBool("HOT_RELOAD_VALIDATE_BEFORE_APPLY", true),

		LogLevel:  env.GetString("LOG_LEVEL", "info"),
		LogFormat: env.GetString("LOG_FORMAT", "text"),
	}
}

// Validator accumulates configuration validation errors.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, field+" must be positive")
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, field+" must be one of: "+strings.Join(allowed, ", "))
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) ErrorString() string { return strings.Join(v.errors, "; ") }

// Validate checks cfg's invariants: every *MaxEntries/MaxDepth/MaxExploredRules
// is positive, and LogLevel is a recognized level.
func Validate(cfg EngineConfig) error {
	v := NewValidator()
	v.RequirePositiveInt("TraceMaxEntries", cfg.TraceMaxEntries)
	v.RequirePositiveInt("EventStoreMaxEvents", cfg.EventStoreMaxEvents)
	v.RequirePositiveInt("BackwardChainingMaxDepth", cfg.BackwardChainingMaxDepth)
	v.RequirePositiveInt("BackwardChainingMaxExploredRules", cfg.BackwardChainingMaxExploredRules)
	v.RequireOneOf("LogLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error", "fatal"})
	v.RequireOneOf("LogFormat", cfg.LogFormat, []string{"text", "json"})
	if !v.IsValid() {
		return configError{msg: v.ErrorString()}
	}
	return nil
}

type configError struct{ msg string }

func (e configError) Error() string { return "engconfig: " + e.msg }
