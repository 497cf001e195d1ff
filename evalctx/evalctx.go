// Package evalctx defines the per-trigger evaluation context threaded
// through condition evaluation and action execution (§4.4 step 3): facts,
// the triggering event/fact/timer, bound variables, and any events matched
// by a temporal pattern.
package evalctx

import (
	"rulesengine/event"
	"rulesengine/fact"
)

// TriggerKind mirrors ruleset.TriggerKind without importing ruleset, to
// avoid a dependency cycle (ruleset describes rules; evalctx describes a
// single dispatch's live state).
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerFact     TriggerKind = "fact"
	TriggerTimer    TriggerKind = "timer"
	TriggerTemporal TriggerKind = "temporal"
)

// TriggerInstance is the concrete stimulus that started this dispatch.
type TriggerInstance struct {
	Kind TriggerKind

	Event *event.Event // TriggerEvent, TriggerTimer (onExpire is an event)

	FactKey      string      // TriggerFact
	FactValue    interface{} // TriggerFact
	FactPrevious interface{} // TriggerFact

	TimerName string // TriggerTimer

	TemporalPatternName string                   // TriggerTemporal
	TemporalGroupKey     string                   // TriggerTemporal
	MatchedEvents        map[string]*event.Event // TriggerTemporal: "as" name -> event
}

// Context is the live evaluation context for one rule's condition+action
// pass against one trigger.
type Context struct {
	Trigger   *TriggerInstance
	Facts     *fact.Store
	Variables map[string]interface{} // set only through BindVariable; the dispatcher binds none
	Lookups   map[string]interface{} // resolved DataRequirement results, by name

	CorrelationID string
	CausationID   string
}

// New creates a context with empty Variables/Lookups maps.
func New(trigger *TriggerInstance, facts *fact.Store, correlationID, causationID string) *Context {
	return &Context{
		Trigger:       trigger,
		Facts:         facts,
		Variables:     make(map[string]interface{}),
		Lookups:       make(map[string]interface{}),
		CorrelationID: correlationID,
		CausationID:   causationID,
	}
}

// BindVariable records a variable under name for later conditions/actions
// of the same rule (§4.4 context source).
func (c *Context) BindVariable(name string, value interface{}) {
	c.Variables[name] = value
}

// EventData returns the triggering event's data map, or nil if this trigger
// is not event-shaped.
func (c *Context) EventData() map[string]interface{} {
	if c.Trigger == nil || c.Trigger.Event == nil {
		return nil
	}
	return c.Trigger.Event.Data
}
