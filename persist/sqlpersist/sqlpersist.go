// Package sqlpersist is a reference persist.Persistence adapter backed by
// PostgreSQL via GORM: rules and groups are stored as JSONB rows keyed by
// their own id, alongside a one-row schema-version table.
//
// Grounded on the teacher's db/postgres.go GORM usage (gorm.Open,
// AutoMigrate, gorm.Model-style records), adapted from its single
// RabbitLog table into the engine's rule/group record kinds.
package sqlpersist

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rulesengine/persist"
	"rulesengine/ruleset"
)

type ruleRow struct {
	ID   string `gorm:"primaryKey"`
	Body string `gorm:"type:jsonb;not null"`
}

func (ruleRow) TableName() string { return "rulesengine_rules" }

type groupRow struct {
	ID   string `gorm:"primaryKey"`
	Body string `gorm:"type:jsonb;not null"`
}

func (groupRow) TableName() string { return "rulesengine_groups" }

type schemaRow struct {
	ID      int `gorm:"primaryKey"`
	Version int
}

func (schemaRow) TableName() string { return "rulesengine_schema" }

// Store wraps a GORM/PostgreSQL connection as a persist.Persistence
// adapter.
type Store struct {
	db  *gorm.DB
	dsn string
}

// Open connects to PostgreSQL at dsn and migrates the three tables this
// adapter owns.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlpersist: connecting: %w", err)
	}
	if err := db.AutoMigrate(&ruleRow{}, &groupRow{}, &schemaRow{}); err != nil {
		return nil, fmt.Errorf("sqlpersist: migrating: %w", err)
	}
	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Key() string { return s.dsn }

func (s *Store) Save(snap persist.Snapshot) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ruleRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&groupRow{}).Error; err != nil {
			return err
		}
		for _, r := range snap.Rules {
			body, err := marshalJSON(r)
			if err != nil {
				return fmt.Errorf("marshaling rule %s: %w", r.ID, err)
			}
			if err := tx.Create(&ruleRow{ID: r.ID, Body: body}).Error; err != nil {
				return err
			}
		}
		for _, g := range snap.Groups {
			body, err := marshalJSON(g)
			if err != nil {
				return fmt.Errorf("marshaling group %s: %w", g.ID, err)
			}
			if err := tx.Create(&groupRow{ID: g.ID, Body: body}).Error; err != nil {
				return err
			}
		}
		return tx.Save(&schemaRow{ID: 1, Version: persist.CurrentSchemaVersion}).Error
	})
}

func (s *Store) Load() (persist.Snapshot, error) {
	var snap persist.Snapshot

	var ruleRows []ruleRow
	if err := s.db.Find(&ruleRows).Error; err != nil {
		return snap, err
	}
	for _, row := range ruleRows {
		var r ruleset.RuleInput
		if err := unmarshalJSON(row.Body, &r); err != nil {
			return snap, fmt.Errorf("unmarshaling rule %s: %w", row.ID, err)
		}
		snap.Rules = append(snap.Rules, r)
	}

	var groupRows []groupRow
	if err := s.db.Find(&groupRows).Error; err != nil {
		return snap, err
	}
	for _, row := range groupRows {
		var g ruleset.Group
		if err := unmarshalJSON(row.Body, &g); err != nil {
			return snap, fmt.Errorf("unmarshaling group %s: %w", row.ID, err)
		}
		snap.Groups = append(snap.Groups, g)
	}
	return snap, nil
}

func (s *Store) Clear() error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ruleRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&groupRow{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&schemaRow{}).Error
	})
}

func (s *Store) Exists() (bool, error) {
	var count int64
	if err := s.db.Model(&ruleRow{}).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := s.db.Model(&groupRow{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) SchemaVersion() (int, error) {
	var row schemaRow
	err := s.db.First(&row, 1).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Version, nil
}

var _ persist.Persistence = (*Store)(nil)
