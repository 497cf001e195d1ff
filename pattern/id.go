package pattern

import "github.com/google/uuid"

// NewID returns a prefixed unique identifier, e.g. NewID("evt") -> "evt-<uuid>".
// Grounded in the teacher's event.go id convention (a readable prefix plus a
// unique suffix) but backed by a real UUID instead of a timestamp+counter.
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
