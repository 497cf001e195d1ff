// Package boltpersist is a reference persist.Persistence adapter backed by
// an embedded bbolt file: one bucket for rules, one for groups, one for
// schema metadata.
//
// Grounded on the teacher's db/bolt/bolt.go JSON-bucket helpers, generalized
// from a single untyped bucket API into the two fixed record kinds the
// engine persists.
package boltpersist

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"rulesengine/persist"
	"rulesengine/ruleset"
)

const (
	rulesBucket  = "rules"
	groupsBucket = "groups"
	metaBucket   = "meta"
	schemaKey    = "schema_version"
)

// Store wraps a bbolt database file as a persist.Persistence adapter.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens or creates the bbolt file at path and ensures its buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltpersist: opening %s: %w", path, err)
	}
	s := &Store{db: db, path: path}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{rulesBucket, groupsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Key() string { return s.path }

func (s *Store) Save(snap persist.Snapshot) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rb := tx.Bucket([]byte(rulesBucket))
		gb := tx.Bucket([]byte(groupsBucket))
		mb := tx.Bucket([]byte(metaBucket))

		if err := rb.ForEach(func(k, _ []byte) error { return rb.Delete(k) }); err != nil {
			return err
		}
		if err := gb.ForEach(func(k, _ []byte) error { return gb.Delete(k) }); err != nil {
			return err
		}

		for _, r := range snap.Rules {
			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshaling rule %s: %w", r.ID, err)
			}
			if err := rb.Put([]byte(r.ID), body); err != nil {
				return err
			}
		}
		for _, g := range snap.Groups {
			body, err := json.Marshal(g)
			if err != nil {
				return fmt.Errorf("marshaling group %s: %w", g.ID, err)
			}
			if err := gb.Put([]byte(g.ID), body); err != nil {
				return err
			}
		}
		return mb.Put([]byte(schemaKey), []byte(fmt.Sprintf("%d", persist.CurrentSchemaVersion)))
	})
}

func (s *Store) Load() (persist.Snapshot, error) {
	var snap persist.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		rb := tx.Bucket([]byte(rulesBucket))
		gb := tx.Bucket([]byte(groupsBucket))

		if err := rb.ForEach(func(_, v []byte) error {
			var r ruleset.RuleInput
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			snap.Rules = append(snap.Rules, r)
			return nil
		}); err != nil {
			return err
		}
		return gb.ForEach(func(_, v []byte) error {
			var g ruleset.Group
			if err := json.Unmarshal(v, &g); err != nil {
				return err
			}
			snap.Groups = append(snap.Groups, g)
			return nil
		})
	})
	return snap, err
}

func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{rulesBucket, groupsBucket} {
			b := tx.Bucket([]byte(name))
			if err := b.ForEach(func(k, _ []byte) error { return b.Delete(k) }); err != nil {
				return err
			}
		}
		return tx.Bucket([]byte(metaBucket)).Delete([]byte(schemaKey))
	})
}

func (s *Store) Exists() (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(rulesBucket)).Cursor()
		if k, _ := c.First(); k != nil {
			found = true
			return nil
		}
		k, _ := tx.Bucket([]byte(groupsBucket)).Cursor().First()
		found = k != nil
		return nil
	})
	return found, err
}

func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(metaBucket)).Get([]byte(schemaKey))
		if v == nil {
			version = 0
			return nil
		}
		_, err := fmt.Sscanf(string(v), "%d", &version)
		return err
	})
	return version, err
}

var _ persist.Persistence = (*Store)(nil)
