// Package event implements the event store and bus of §4.3: a single
// emit() entry point, topic-pattern subscriptions, correlation/causation
// propagation, and a ring-buffered retained history.
package event

import (
	"sort"
	"sync"

	"rulesengine/pattern"
	"rulesengine/ringbuf"

	"github.com/sirupsen/logrus"
)

// Event is the engine's canonical event record (§3).
type Event struct {
	ID            string
	Topic         string
	Data          map[string]interface{}
	Timestamp     int64
	Source        string
	CorrelationID string
	CausationID   string
}

// Cause identifies the immediate cause of a derived event, used to propagate
// correlation/causation per §4.3.
type Cause struct {
	EventID       string
	CorrelationID string
}

// Subscriber receives every event whose topic matches its pattern.
type Subscriber func(*Event)

type subscription struct {
	id      int
	pattern string
	cb      Subscriber
}

// Store retains up to maxEvents events in a ring buffer with indexes by
// topic and correlation id.
type Store struct {
	mu            sync.RWMutex
	buf           *ringbuf.Buffer[*Event]
	byID          map[string]*Event
	byTopic       map[string][]*Event
	byCorrelation map[string][]*Event
}

func NewStore(maxEvents int) *Store {
	return &Store{
		buf:           ringbuf.New[*Event](maxEvents),
		byID:          make(map[string]*Event),
		byTopic:       make(map[string][]*Event),
		byCorrelation: make(map[string][]*Event),
	}
}

func (s *Store) append(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Append(e, s.unindex)
	s.byID[e.ID] = e
	s.byTopic[e.Topic] = append(s.byTopic[e.Topic], e)
	if e.CorrelationID != "" {
		s.byCorrelation[e.CorrelationID] = append(s.byCorrelation[e.CorrelationID], e)
	}
}

func (s *Store) unindex(e *Event) {
	delete(s.byID, e.ID)
	s.byTopic[e.Topic] = removeEvent(s.byTopic[e.Topic], e)
	if len(s.byTopic[e.Topic]) == 0 {
		delete(s.byTopic, e.Topic)
	}
	if e.CorrelationID != "" {
		s.byCorrelation[e.CorrelationID] = removeEvent(s.byCorrelation[e.CorrelationID], e)
		if len(s.byCorrelation[e.CorrelationID]) == 0 {
			delete(s.byCorrelation, e.CorrelationID)
		}
	}
}

func removeEvent(list []*Event, target *Event) []*Event {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the event with the given id, or nil.
func (s *Store) Get(id string) *Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// GetByTopic returns events with an exact topic match, oldest first.
func (s *Store) GetByTopic(topic string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.byTopic[topic]...)
}

// GetByTopicPattern returns events whose topic matches the wildcard
// pattern p, oldest first.
func (s *Store) GetByTopicPattern(p string, cache *pattern.Cache) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	s.buf.Each(func(e *Event) bool {
		if pattern.MatchesTopic(e.Topic, p, cache) {
			out = append(out, e)
		}
		return true
	})
	return out
}

// GetInTimeRange returns events with fromMs <= Timestamp <= toMs, oldest first.
func (s *Store) GetInTimeRange(fromMs, toMs int64) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	s.buf.Each(func(e *Event) bool {
		if e.Timestamp >= fromMs && e.Timestamp <= toMs {
			out = append(out, e)
		}
		return true
	})
	return out
}

// GetByCorrelation returns events sharing correlationID, oldest first.
func (s *Store) GetByCorrelation(correlationID string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.byCorrelation[correlationID]...)
}

// GetAllEvents returns every retained event, oldest first.
func (s *Store) GetAllEvents() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Event(nil), s.buf.All()...)
}

// Bus is the single emit() entry point with topic-pattern subscriptions.
// Matching candidate rules happens one layer up (match.Dispatcher); Bus
// only stamps, stores and fans out.
type Bus struct {
	mu            sync.RWMutex
	store         *Store
	subs          []subscription
	nextSubID     int
	patternCache  *pattern.Cache
	knownEventIDs map[string]bool
	log           *logrus.Entry
	nowFn         func() int64
}

func NewBus(store *Store, nowFn func() int64, log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		store:         store,
		patternCache:  pattern.NewCache(),
		knownEventIDs: make(map[string]bool),
		log:           log.WithField("component", "event_bus"),
		nowFn:         nowFn,
	}
}

// Prepare stamps missing id/timestamp/source and resolves correlation and
// causation per §4.3, without yet storing or dispatching the event. Callers
// call Prepare then Publish; the "event_emitted" trace entry is recorded by
// the dispatcher's Bus subscriber during Publish.
func (b *Bus) Prepare(e *Event, cause *Cause, idFn func() string) *Event {
	if e.ID == "" {
		e.ID = idFn()
	}
	if e.Timestamp == 0 {
		e.Timestamp = b.nowFn()
	}
	if e.CorrelationID == "" {
		if cause != nil && cause.CorrelationID != "" {
			e.CorrelationID = cause.CorrelationID
		} else {
			e.CorrelationID = idFn()
		}
	}
	if e.CausationID == "" && cause != nil {
		e.CausationID = cause.EventID
	}
	return e
}

// Publish stores e and notifies topic-matching subscribers. Subscriber
// panics are isolated.
func (b *Bus) Publish(e *Event) {
	b.store.append(e)

	b.mu.Lock()
	b.knownEventIDs[e.ID] = true
	subs := append([]subscription(nil), b.subs...)
	cache := b.patternCache
	b.mu.Unlock()

	for _, s := range subs {
		if pattern.MatchesTopic(e.Topic, s.pattern, cache) {
			b.safeCall(s.cb, e)
		}
	}
}

func (b *Bus) safeCall(cb Subscriber, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("panic", r).Warn("event subscriber panicked, isolated")
		}
	}()
	cb(e)
}

// Subscribe registers cb for every event whose topic matches pattern p.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(p string, cb Subscriber) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs = append(b.subs, subscription{id: id, pattern: p, cb: cb})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// KnownEventID reports whether id has been seen by this bus instance,
// supporting the causationId-refers-to-a-known-event invariant (§3).
func (b *Bus) KnownEventID(id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.knownEventIDs[id]
}

// sortedCopy returns a copy of events ordered by Timestamp.
func sortedCopy(events []*Event) []*Event {
	out := append([]*Event(nil), events...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
