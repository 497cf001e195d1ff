package ruleset

import (
	"sort"
	"strings"
	"sync"

	"rulesengine/enginerr"
	"rulesengine/pattern"
)

// Manager owns the canonical rule table, the group table, and every
// secondary index described in §4.1.
type Manager struct {
	mu sync.RWMutex

	rules  map[string]*Rule
	groups map[string]*Group

	// Forward indexes: literal (no-wildcard) trigger values map directly;
	// wildcard triggers are kept in a side list and matched at lookup time.
	byEventTopicLiteral map[string][]string // topic -> rule ids
	eventWildcardRules  []string            // rule ids whose trigger topic has a wildcard

	byFactPatternLiteral map[string][]string
	factWildcardRules    []string

	byTimerNameLiteral map[string][]string
	timerWildcardRules []string

	temporalRules []string // rule ids with TriggerTemporal

	idCounter  int
	patternC   *pattern.Cache
	nowFn      func() int64
	idFn       func(prefix string) string
}

func NewManager(nowFn func() int64, idFn func(prefix string) string) *Manager {
	return &Manager{
		rules:                make(map[string]*Rule),
		groups:                make(map[string]*Group),
		byEventTopicLiteral:   make(map[string][]string),
		byFactPatternLiteral:  make(map[string][]string),
		byTimerNameLiteral:    make(map[string][]string),
		patternC:              pattern.NewCache(),
		nowFn:                 nowFn,
		idFn:                  idFn,
	}
}

// Register validates and inserts a rule, assigning version 1 and timestamps.
// upsert, if true, replaces an existing rule with the same id instead of
// failing with Conflict.
func (m *Manager) Register(input RuleInput, upsert bool) (*Rule, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := input.ID
	if id == "" {
		id = m.idFn("rule")
	}

	if _, exists := m.rules[id]; exists {
		if !upsert {
			return nil, enginerr.Conflictf("rule %q already registered", id)
		}
		m.removeFromIndexesLocked(id)
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	now := m.nowFn()
	rule := &Rule{
		ID:          id,
		Name:        input.Name,
		Description: input.Description,
		Group:       input.Group,
		Priority:    input.Priority,
		Enabled:     enabled,
		Tags:        append([]string(nil), input.Tags...),
		Trigger:     input.Trigger,
		Conditions:  append([]Condition(nil), input.Conditions...),
		Actions:     append([]Action(nil), input.Actions...),
		Lookups:     append([]DataRequirement(nil), input.Lookups...),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	m.rules[id] = rule
	m.addToIndexesLocked(rule)
	return cloneRule(rule), nil
}

// Unregister removes a rule from the primary table and every index.
// Returns true if a rule was actually removed.
func (m *Manager) Unregister(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return false
	}
	m.removeFromIndexesLocked(id)
	delete(m.rules, id)
	return true
}

// Get returns a copy of the rule with id, or nil.
func (m *Manager) Get(id string) *Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil
	}
	return cloneRule(r)
}

// GetAll returns every registered rule (active or not), ordered per §4.1.
func (m *Manager) GetAll() []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	return sortCandidates(out)
}

// GetByTag returns active rules carrying tag t, ordered per §4.1.
func (m *Manager) GetByTag(t string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Rule
	for _, r := range m.rules {
		if !m.isRuleActiveLocked(r) {
			continue
		}
		for _, tag := range r.Tags {
			if tag == t {
				out = append(out, cloneRule(r))
				break
			}
		}
	}
	return sortCandidates(out)
}

// RegisterGroup inserts or replaces a group record (§3). CreatedAt is
// preserved across an upsert of an existing group.
func (m *Manager) RegisterGroup(g Group) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g.ID == "" {
		g.ID = m.idFn("group")
	}
	now := m.nowFn()
	g.UpdatedAt = now
	if existing, ok := m.groups[g.ID]; ok {
		g.CreatedAt = existing.CreatedAt
	} else {
		g.CreatedAt = now
	}
	cp := g
	m.groups[g.ID] = &cp
	out := cp
	return &out
}

// UnregisterGroup removes a group record. Rules referencing it fall back to
// "no group" (§4.1), they are not removed or reassigned.
func (m *Manager) UnregisterGroup(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return false
	}
	delete(m.groups, id)
	return true
}

// Snapshot returns every rule and group currently registered, in the
// RuleInput/Group shape a Persistence adapter serializes (§6 persistence
// contract).
func (m *Manager) Snapshot() ([]RuleInput, []Group) {
	rules := m.GetAll()
	inputs := make([]RuleInput, 0, len(rules))
	for _, r := range rules {
		enabled := r.Enabled
		inputs = append(inputs, RuleInput{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Group:       r.Group,
			Priority:    r.Priority,
			Enabled:     &enabled,
			Tags:        append([]string(nil), r.Tags...),
			Trigger:     r.Trigger,
			Conditions:  append([]Condition(nil), r.Conditions...),
			Actions:     append([]Action(nil), r.Actions...),
			Lookups:     append([]DataRequirement(nil), r.Lookups...),
		})
	}
	groups := m.GetAllGroups()
	groupVals := make([]Group, 0, len(groups))
	for _, g := range groups {
		groupVals = append(groupVals, *g)
	}
	return inputs, groupVals
}

// Restore replaces the manager's entire rule and group tables with the given
// sets, used when loading from a Persistence adapter at startup. Existing
// rules/groups not present in the restored sets are removed.
func (m *Manager) Restore(rules []RuleInput, groups []Group) error {
	m.mu.Lock()
	for id := range m.rules {
		m.removeFromIndexesLocked(id)
	}
	m.rules = make(map[string]*Rule)
	m.groups = make(map[string]*Group)
	m.mu.Unlock()

	for _, g := range groups {
		m.RegisterGroup(g)
	}
	for _, input := range rules {
		if _, err := m.Register(input, true); err != nil {
			return err
		}
	}
	return nil
}

// ByEventTopic returns active rules whose TriggerEvent matches topic.
func (m *Manager) ByEventTopic(topic string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.byEventTopicLiteral[topic]...)
	for _, id := range m.eventWildcardRules {
		r, ok := m.rules[id]
		if !ok {
			continue
		}
		if pattern.MatchesTopic(topic, r.Trigger.Topic, m.patternC) {
			ids = append(ids, id)
		}
	}
	return m.resolveActiveLocked(ids)
}

// ByFactPattern returns active rules whose TriggerFact pattern matches key.
func (m *Manager) ByFactPattern(key string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.byFactPatternLiteral[key]...)
	for _, id := range m.factWildcardRules {
		r, ok := m.rules[id]
		if !ok {
			continue
		}
		if pattern.MatchesFactKey(key, r.Trigger.Pattern, m.patternC) {
			ids = append(ids, id)
		}
	}
	return m.resolveActiveLocked(ids)
}

// ByTimerName returns active rules whose TriggerTimer pattern matches name.
func (m *Manager) ByTimerName(name string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := append([]string(nil), m.byTimerNameLiteral[name]...)
	for _, id := range m.timerWildcardRules {
		r, ok := m.rules[id]
		if !ok {
			continue
		}
		if pattern.MatchesFactKey(name, r.Trigger.Pattern, m.patternC) {
			ids = append(ids, id)
		}
	}
	return m.resolveActiveLocked(ids)
}

// TemporalRules returns every active rule triggered by a temporal pattern.
func (m *Manager) TemporalRules() []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveActiveLocked(m.temporalRules)
}

// RulesProducingFact returns rules with a set_fact/delete_fact action whose
// key could match goalKey, honoring ${...} placeholders as wildcards
// (§4.9 rule 5). Used only by backward chaining; a full scan is acceptable
// given the rule-set sizes this engine targets.
func (m *Manager) RulesProducingFact(goalKey string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Rule
	for _, r := range m.rules {
		for _, a := range r.Actions {
			if (a.Kind == ActionSetFact || a.Kind == ActionDeleteFact) && placeholderMatches(a.Key, goalKey) {
				out = append(out, cloneRule(r))
				break
			}
		}
	}
	return sortCandidates(out)
}

// RulesProducingEvent returns rules with an emit_event action whose topic
// could match goalTopic, honoring ${...} placeholders as wildcards.
func (m *Manager) RulesProducingEvent(goalTopic string) []*Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Rule
	for _, r := range m.rules {
		for _, a := range r.Actions {
			if a.Kind == ActionEmitEvent && placeholderMatches(a.Topic, goalTopic) {
				out = append(out, cloneRule(r))
				break
			}
		}
	}
	return sortCandidates(out)
}

// placeholderMatches treats any "${...}" segment in template as matching any
// single '.'- or ':'-delimited segment of concrete, per §4.9 rule 5.
func placeholderMatches(template, concrete string) bool {
	if template == concrete {
		return true
	}
	if !strings.Contains(template, "${") {
		return false
	}
	sep := "."
	if strings.Contains(template, ":") || strings.Contains(concrete, ":") {
		sep = ":"
	}
	tSegs := strings.Split(template, sep)
	cSegs := strings.Split(concrete, sep)
	if len(tSegs) != len(cSegs) {
		return false
	}
	for i, ts := range tSegs {
		if strings.HasPrefix(ts, "${") && strings.HasSuffix(ts, "}") {
			continue
		}
		if ts != cSegs[i] {
			return false
		}
	}
	return true
}

func (m *Manager) resolveActiveLocked(ids []string) []*Rule {
	seen := make(map[string]bool, len(ids))
	var out []*Rule
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		r, ok := m.rules[id]
		if !ok || !m.isRuleActiveLocked(r) {
			continue
		}
		out = append(out, cloneRule(r))
	}
	return sortCandidates(out)
}

// IsRuleActive reports whether r is active: enabled, and either unaffiliated
// with a group or affiliated with an enabled group (§3). A dangling group
// reference is treated as no group.
func (m *Manager) IsRuleActive(r *Rule) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRuleActiveLocked(r)
}

func (m *Manager) isRuleActiveLocked(r *Rule) bool {
	if !r.Enabled {
		return false
	}
	if r.Group == "" {
		return true
	}
	g, ok := m.groups[r.Group]
	if !ok {
		return true // dangling reference: treated as no group
	}
	return g.Enabled
}

func (m *Manager) addToIndexesLocked(r *Rule) {
	switch r.Trigger.Kind {
	case TriggerEvent:
		if pattern.IsLiteral(r.Trigger.Topic) {
			m.byEventTopicLiteral[r.Trigger.Topic] = append(m.byEventTopicLiteral[r.Trigger.Topic], r.ID)
		} else {
			m.eventWildcardRules = append(m.eventWildcardRules, r.ID)
		}
	case TriggerFact:
		if pattern.IsLiteral(r.Trigger.Pattern) {
			m.byFactPatternLiteral[r.Trigger.Pattern] = append(m.byFactPatternLiteral[r.Trigger.Pattern], r.ID)
		} else {
			m.factWildcardRules = append(m.factWildcardRules, r.ID)
		}
	case TriggerTimer:
		if pattern.IsLiteral(r.Trigger.Pattern) {
			m.byTimerNameLiteral[r.Trigger.Pattern] = append(m.byTimerNameLiteral[r.Trigger.Pattern], r.ID)
		} else {
			m.timerWildcardRules = append(m.timerWildcardRules, r.ID)
		}
	case TriggerTemporal:
		m.temporalRules = append(m.temporalRules, r.ID)
	}
}

func (m *Manager) removeFromIndexesLocked(id string) {
	r, ok := m.rules[id]
	if !ok {
		return
	}
	switch r.Trigger.Kind {
	case TriggerEvent:
		if pattern.IsLiteral(r.Trigger.Topic) {
			m.byEventTopicLiteral[r.Trigger.Topic] = removeID(m.byEventTopicLiteral[r.Trigger.Topic], id)
		} else {
			m.eventWildcardRules = removeID(m.eventWildcardRules, id)
		}
	case TriggerFact:
		if pattern.IsLiteral(r.Trigger.Pattern) {
			m.byFactPatternLiteral[r.Trigger.Pattern] = removeID(m.byFactPatternLiteral[r.Trigger.Pattern], id)
		} else {
			m.factWildcardRules = removeID(m.factWildcardRules, id)
		}
	case TriggerTimer:
		if pattern.IsLiteral(r.Trigger.Pattern) {
			m.byTimerNameLiteral[r.Trigger.Pattern] = removeID(m.byTimerNameLiteral[r.Trigger.Pattern], id)
		} else {
			m.timerWildcardRules = removeID(m.timerWildcardRules, id)
		}
	case TriggerTemporal:
		m.temporalRules = removeID(m.temporalRules, id)
	}
}

func removeID(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// sortCandidates orders by priority desc, createdAt asc, id asc (§4.1).
func sortCandidates(rules []*Rule) []*Rule {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})
	return rules
}

func cloneRule(r *Rule) *Rule {
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.Conditions = append([]Condition(nil), r.Conditions...)
	cp.Actions = append([]Action(nil), r.Actions...)
	cp.Lookups = append([]DataRequirement(nil), r.Lookups...)
	return &cp
}

// ValidateInput runs the same checks Register applies, without registering
// anything. Used by the hot-reload watcher to validate a batch before
// committing it (§4.11 step 4).
func ValidateInput(input RuleInput) error {
	return validateInput(input)
}

func validateInput(input RuleInput) error {
	if input.Name == "" {
		return enginerr.Validationf("rule name is required")
	}
	switch input.Trigger.Kind {
	case TriggerEvent:
		if input.Trigger.Topic == "" {
			return enginerr.Validationf("event trigger requires a topic")
		}
	case TriggerFact:
		if input.Trigger.Pattern == "" {
			return enginerr.Validationf("fact trigger requires a pattern")
		}
	case TriggerTimer:
		if input.Trigger.Pattern == "" {
			return enginerr.Validationf("timer trigger requires a name pattern")
		}
	case TriggerTemporal:
		if input.Trigger.Temporal == nil {
			return enginerr.Validationf("temporal trigger requires a pattern spec")
		}
	default:
		return enginerr.Validationf("unknown trigger kind %q", input.Trigger.Kind)
	}
	return nil
}
