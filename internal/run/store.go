// Package run owns the singleton generation-run record: its KV persistence,
// its state machine, and the single-flight guard around starting a run.
package run

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// recordKey is the single KV key the run record lives under.
const recordKey = "generation:run"

// Store persists the run record in Badger. The record is created implicitly
// on first write; loading before any write yields a fresh idle record.
type Store struct {
	db *badger.DB
}

// NewStore creates a run store on an open Badger database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Load reads the current record. A missing key is not an error: it means no
// run has ever been recorded, reported as an idle record.
func (s *Store) Load() (*models.RunRecord, error) {
	rec := &models.RunRecord{Status: models.StatusIdle}

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get run record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Save overwrites the record in place.
func (s *Store) Save(rec *models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordKey), data)
	})
}
