package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"rulesengine/event"
)

// TimelineEntry is one step of a correlation's reconstructed timeline:
// either an event or a trace entry, ordered by timestamp with a computed
// causal depth (§4.10 "history service").
type TimelineEntry struct {
	TimestampMs int64
	Depth       int
	Kind        string // "event" | "trace"
	Event       *event.Event
	Trace       *Entry
}

// History correlates the event store and trace collector into
// per-correlation timelines.
type History struct {
	events *event.Store
	traces *Collector
}

func NewHistory(events *event.Store, traces *Collector) *History {
	return &History{events: events, traces: traces}
}

// Timeline builds the ordered, depth-annotated history for correlationID.
// Depth is the causation chain length from the first event in the
// correlation (depth 0) to each subsequent derived event.
func (h *History) Timeline(correlationID string) []TimelineEntry {
	events := h.events.GetByCorrelation(correlationID)
	traces := h.traces.ByCorrelation(correlationID)

	depthByEventID := computeDepths(events)

	out := make([]TimelineEntry, 0, len(events)+len(traces))
	for _, e := range events {
		out = append(out, TimelineEntry{TimestampMs: e.Timestamp, Depth: depthByEventID[e.ID], Kind: "event", Event: e})
	}
	for i := range traces {
		t := traces[i]
		out = append(out, TimelineEntry{TimestampMs: t.TimestampMs, Kind: "trace", Trace: &t})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

func computeDepths(events []*event.Event) map[string]int {
	byID := make(map[string]*event.Event, len(events))
	for _, e := range events {
		byID[e.ID] = e
	}
	depth := make(map[string]int, len(events))
	var resolve func(id string) int
	resolve = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		e, ok := byID[id]
		if !ok || e.CausationID == "" || e.CausationID == id {
			depth[id] = 0
			return 0
		}
		d := resolve(e.CausationID) + 1
		depth[id] = d
		return d
	}
	for _, e := range events {
		resolve(e.ID)
	}
	return depth
}

// ExportJSON renders a correlation's timeline as indented JSON.
func (h *History) ExportJSON(correlationID string) ([]byte, error) {
	return json.MarshalIndent(h.Timeline(correlationID), "", "  ")
}

// ExportMermaid renders a correlation's timeline as a Mermaid sequence
// diagram (§4.10): event sources and topics emit events, and the topic that
// last fired feeds every rule triggered/executed/skipped/actioned against
// it, reconstructing the causal story of one correlation id.
func (h *History) ExportMermaid(correlationID string) string {
	timeline := h.Timeline(correlationID)

	participants := newParticipantSet()
	var lines []string
	lastTopic := "origin"
	participants.add(lastTopic)

	for _, te := range timeline {
		switch te.Kind {
		case "event":
			e := te.Event
			if e == nil {
				continue
			}
			source := participantID("src", orDefault(e.Source, "unknown"))
			topic := participantID("topic", e.Topic)
			participants.add(source)
			participants.add(topic)
			lines = append(lines, fmt.Sprintf("    %s->>%s: %s (%s)", source, topic, e.Topic, humanize.Time(msToTime(e.Timestamp))))
			lastTopic = topic
		case "trace":
			t := te.Trace
			if t == nil || t.RuleID == "" {
				continue
			}
			rule := participantID("rule", orDefault(t.RuleName, t.RuleID))
			participants.add(rule)
			lines = append(lines, fmt.Sprintf("    %s->>%s: %s", lastTopic, rule, mermaidLabel(*t)))
			if t.Type == TypeRuleSkipped {
				reason, _ := t.Detail["reason"].(string)
				lines = append(lines, fmt.Sprintf("    Note right of %s: skipped (%s)", rule, orDefault(reason, "unknown")))
			}
		}
	}

	var b strings.Builder
	b.WriteString("sequenceDiagram\n")
	for _, p := range participants.ordered {
		b.WriteString(fmt.Sprintf("    participant %s\n", p))
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}
	return b.String()
}

func mermaidLabel(t Entry) string {
	switch t.Type {
	case TypeRuleTriggered:
		return "triggered"
	case TypeRuleExecuted:
		return "executed"
	case TypeRuleSkipped:
		return "skipped"
	case TypeActionStarted:
		return "action started"
	case TypeActionCompleted:
		return "action completed"
	case TypeActionFailed:
		return "action failed"
	default:
		return string(t.Type)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// participantSet dedups Mermaid participant declarations while preserving
// first-seen order, since Mermaid renders them left-to-right in that order.
type participantSet struct {
	seen    map[string]bool
	ordered []string
}

func newParticipantSet() *participantSet {
	return &participantSet{seen: make(map[string]bool)}
}

func (s *participantSet) add(id string) {
	if s.seen[id] {
		return
	}
	s.seen[id] = true
	s.ordered = append(s.ordered, id)
}

func participantID(prefix, name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return prefix + "_" + sanitized
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
