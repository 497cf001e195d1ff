// Package fact implements the keyed fact store of §4.2: versioned values with
// synchronous change notification and pattern-based lookup.
package fact

import (
	"sort"
	"sync"

	"rulesengine/pattern"

	"github.com/sirupsen/logrus"
)

// Fact is a single stored value. Keys are colon-delimited strings.
type Fact struct {
	Key       string
	Value     interface{}
	Timestamp int64 // ms since epoch
	Source    string
	Version   int
}

// Change describes a single mutation delivered to subscribers.
type Change struct {
	Key           string
	PreviousValue interface{}
	NewValue      interface{}
	Version       int
	Source        string
	Deleted       bool
}

// Subscriber receives fact changes. Implementations must not panic; any
// panic is recovered and discarded so other subscribers still run.
type Subscriber func(Change)

// Store is the fact store. Zero value is not usable; use New.
type Store struct {
	mu          sync.RWMutex
	facts       map[string]*Fact
	subs        map[int]Subscriber
	nextSubID   int
	patternCach *pattern.Cache
	log         *logrus.Entry
}

func New(log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		facts:       make(map[string]*Fact),
		subs:        make(map[int]Subscriber),
		patternCach: pattern.NewCache(),
		log:         log.WithField("component", "fact_store"),
	}
}

// Get returns the fact at key, or nil if absent.
func (s *Store) Get(key string) *Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return nil
	}
	cp := *f
	return &cp
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.facts[key]
	return ok
}

// Set stores value under key, bumping version, and notifies subscribers
// synchronously before returning. Returns the previous version, or -1 if
// the key was absent.
func (s *Store) Set(key string, value interface{}, source string, nowMs int64) int {
	s.mu.Lock()
	existing, ok := s.facts[key]
	version := 1
	var prevValue interface{}
	prevVersion := -1
	if ok {
		version = existing.Version + 1
		prevValue = existing.Value
		prevVersion = existing.Version
	}
	s.facts[key] = &Fact{
		Key:       key,
		Value:     value,
		Timestamp: nowMs,
		Source:    source,
		Version:   version,
	}
	subs := s.snapshotSubs()
	s.mu.Unlock()

	s.notify(Change{
		Key:           key,
		PreviousValue: prevValue,
		NewValue:      value,
		Version:       version,
		Source:        source,
	}, subs)

	return prevVersion
}

// Delete removes key, if present, and notifies subscribers. Returns true if
// a fact was actually removed.
func (s *Store) Delete(key string, source string) bool {
	s.mu.Lock()
	existing, ok := s.facts[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.facts, key)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	s.notify(Change{
		Key:           key,
		PreviousValue: existing.Value,
		Version:       existing.Version,
		Source:        source,
		Deleted:       true,
	}, subs)
	return true
}

// Keys returns all fact keys, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.facts))
	for k := range s.facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetByPattern returns all facts whose key matches the colon-delimited
// pattern p (see pattern.MatchesFactKey), sorted by key for determinism.
func (s *Store) GetByPattern(p string) []*Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Fact
	for k, f := range s.facts {
		if pattern.MatchesFactKey(k, p, s.patternCach) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Subscribe registers a callback invoked synchronously on every Set/Delete.
// It returns an unsubscribe function; calling it more than once is safe.
func (s *Store) Subscribe(sub Subscriber) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotSubs() []Subscriber {
	out := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}

// notify calls each subscriber, isolating panics per §4.2 ("subscribers
// that throw are isolated").
func (s *Store) notify(c Change, subs []Subscriber) {
	for _, sub := range subs {
		s.safeCall(sub, c)
	}
}

func (s *Store) safeCall(sub Subscriber, c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Warn("fact subscriber panicked, isolated")
		}
	}()
	sub(c)
}

// Size returns the number of stored facts.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}
