package ruleset

import (
	"sort"

	"rulesengine/enginerr"
)

// CreateGroup inserts a new group with the given enabled state. The name
// must be non-empty and not used by another group.
func (m *Manager) CreateGroup(name, description string, enabled bool) (*Group, error) {
	if name == "" {
		return nil, enginerr.Validationf("group name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.groups {
		if g.Name == name {
			return nil, enginerr.Conflictf("group %q already exists", name)
		}
	}

	now := m.nowFn()
	g := &Group{
		ID:          m.idFn("group"),
		Name:        name,
		Description: description,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.groups[g.ID] = g
	cp := *g
	return &cp, nil
}

// UpdateGroup replaces name/description/enabled for an existing group id.
func (m *Manager) UpdateGroup(id string, name, description *string, enabled *bool) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[id]
	if !ok {
		return nil, enginerr.NotFoundf("group %q not found", id)
	}
	if name != nil {
		g.Name = *name
	}
	if description != nil {
		g.Description = *description
	}
	if enabled != nil {
		g.Enabled = *enabled
	}
	g.UpdatedAt = m.nowFn()
	cp := *g
	return &cp, nil
}

// DeleteGroup removes a group by id. Rules referencing it keep their
// reference and become "no group" per §3's dangling-reference rule.
func (m *Manager) DeleteGroup(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return false
	}
	delete(m.groups, id)
	return true
}

// EnableGroup sets enabled=true on the group named name (group id or name,
// whichever the caller has on hand), returning NotFound if absent.
func (m *Manager) EnableGroup(idOrName string) error {
	return m.setGroupEnabled(idOrName, true)
}

// DisableGroup sets enabled=false on the group.
func (m *Manager) DisableGroup(idOrName string) error {
	return m.setGroupEnabled(idOrName, false)
}

func (m *Manager) setGroupEnabled(idOrName string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[idOrName]
	if !ok {
		for _, candidate := range m.groups {
			if candidate.Name == idOrName {
				g = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		return enginerr.NotFoundf("group %q not found", idOrName)
	}
	g.Enabled = enabled
	g.UpdatedAt = m.nowFn()
	return nil
}

// GetGroup returns a copy of the group with id, or nil.
func (m *Manager) GetGroup(id string) *Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil
	}
	cp := *g
	return &cp
}

// GetAllGroups returns every group.
func (m *Manager) GetAllGroups() []*Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
