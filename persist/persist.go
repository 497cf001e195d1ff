// Package persist defines the narrow storage contract the engine core
// depends on for rule and group definitions (§6). The core is otherwise
// entirely in-memory: it never persists events, traces, or facts.
//
// Grounded on the teacher's own persistence layer (db/bolt, db/postgres):
// both reference adapters in this module's persist/boltpersist and
// persist/sqlpersist subpackages implement this interface without the
// engine core importing either.
package persist

import "rulesengine/ruleset"

// Snapshot is the persisted shape: every rule and group record, serialized
// exactly as the core's in-memory representation (§6 "Persisted state
// shape").
type Snapshot struct {
	Rules  []ruleset.RuleInput
	Groups []ruleset.Group
}

// Persistence is the contract an adapter implements. Adapters choose
// storage; the core only ever depends on this interface.
type Persistence interface {
	// Save writes rules and groups, replacing anything previously stored
	// under Key().
	Save(snap Snapshot) error

	// Load reads back the most recently saved snapshot. Returns an empty
	// Snapshot, not an error, if nothing has been saved yet.
	Load() (Snapshot, error)

	// Clear removes any stored snapshot.
	Clear() error

	// Exists reports whether a snapshot has been saved.
	Exists() (bool, error)

	// Key identifies the storage location this adapter reads/writes (a
	// file path, a table/bucket name, a connection string's database
	// name) — diagnostic only, never parsed by the core.
	Key() string

	// SchemaVersion reports the schema version of the stored snapshot, or
	// 0 if none has been saved.
	SchemaVersion() (int, error)
}

// CurrentSchemaVersion is written by adapters on every Save and reported by
// SchemaVersion. The reference adapters do not compare it on Load.
const CurrentSchemaVersion = 1
