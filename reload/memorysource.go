package reload

import (
	"context"
	"sync"

	"rulesengine/ruleset"
)

// MemorySource is a trivial in-memory RuleSource, used by tests and by
// callers that assemble rule definitions programmatically rather than from
// a file.
type MemorySource struct {
	mu    sync.RWMutex
	name  string
	rules []ruleset.RuleInput
}

func NewMemorySource(name string, rules []ruleset.RuleInput) *MemorySource {
	return &MemorySource{name: name, rules: rules}
}

func (s *MemorySource) Name() string { return s.name }

func (s *MemorySource) LoadRules(ctx context.Context) ([]ruleset.RuleInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ruleset.RuleInput(nil), s.rules...), nil
}

// SetRules replaces the source's rule set, picked up on the next Reload.
func (s *MemorySource) SetRules(rules []ruleset.RuleInput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}
