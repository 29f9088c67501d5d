// Package content is the embedded store for generated content: locations,
// experiences, travel plans, the experience-location join, and per-locale
// translation upserts. It backs the idempotent materializer; the relational
// content schema of the wider platform is out of scope here.
package content

import (
	"fmt"
	"math"
	"strings"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// Key prefixes for Badger storage.
const (
	locationKeyPrefix    = "loc:"
	locationSrcKeyPrefix = "loc_src:"
	experienceKeyPrefix  = "exp:"
	joinKeyPrefix        = "join:"
	planKeyPrefix        = "plan:"
	translationKeyPrefix = "tr:"
)

// Store is the Badger-backed content store.
type Store struct {
	db *badger.DB
}

// NewStore creates a content store on an open Badger database.
func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// PutLocation persists a location and its source-id index entry.
func (s *Store) PutLocation(loc models.Location) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(locationKeyPrefix+loc.ID), data); err != nil {
			return fmt.Errorf("set location: %w", err)
		}
		if loc.SourceID != "" {
			if err := txn.Set([]byte(locationSrcKeyPrefix+loc.SourceID), []byte(loc.ID)); err != nil {
				return fmt.Errorf("set source index: %w", err)
			}
		}
		return nil
	})
}

// FindLocationBySourceID returns the location with the given external source
// id, or nil when none exists.
func (s *Store) FindLocationBySourceID(sourceID string) (*models.Location, error) {
	if sourceID == "" {
		return nil, nil
	}

	var id string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(locationSrcKeyPrefix + sourceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source index lookup: %w", err)
	}

	return s.getLocation(id)
}

// FindLocationNear returns a location whose coordinates are within tol
// degrees on both axes of the given point, or nil when none is. A linear
// scan is fine at this store's scale; the content platform proper holds the
// spatially indexed copy.
func (s *Store) FindLocationNear(lat, lon, tol float64) (*models.Location, error) {
	var found *models.Location

	err := s.iterate(locationKeyPrefix, func(val []byte) error {
		var loc models.Location
		if err := json.Unmarshal(val, &loc); err != nil {
			return err
		}
		if math.Abs(loc.Lat-lat) <= tol && math.Abs(loc.Lon-lon) <= tol {
			found = &loc
			return errStopIteration
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListLocations returns all locations.
func (s *Store) ListLocations() ([]models.Location, error) {
	var out []models.Location
	err := s.iterate(locationKeyPrefix, func(val []byte) error {
		var loc models.Location
		if err := json.Unmarshal(val, &loc); err != nil {
			return err
		}
		out = append(out, loc)
		return nil
	})
	return out, err
}

// CountsByCity returns the number of locations per city, the coarse content
// snapshot the reasoning phase works from.
func (s *Store) CountsByCity() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.iterate(locationKeyPrefix, func(val []byte) error {
		var loc models.Location
		if err := json.Unmarshal(val, &loc); err != nil {
			return err
		}
		city := loc.City
		if city == "" {
			city = "unknown"
		}
		counts[strings.TrimSpace(city)]++
		return nil
	})
	return counts, err
}

// PutExperience persists an experience.
func (s *Store) PutExperience(exp models.Experience) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("marshal experience: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(experienceKeyPrefix+exp.ID), data)
	})
}

// ListExperiences returns all experiences.
func (s *Store) ListExperiences() ([]models.Experience, error) {
	var out []models.Experience
	err := s.iterate(experienceKeyPrefix, func(val []byte) error {
		var exp models.Experience
		if err := json.Unmarshal(val, &exp); err != nil {
			return err
		}
		out = append(out, exp)
		return nil
	})
	return out, err
}

// LinkLocation adds a location to an experience. The join is keyed by both
// ids, so repeating the link is a no-op rather than a duplicate-row error.
func (s *Store) LinkLocation(experienceID, locationID string) error {
	key := joinKeyPrefix + experienceID + ":" + locationID
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), nil)
	})
}

// LinkedLocationIDs returns the location ids joined to an experience.
func (s *Store) LinkedLocationIDs(experienceID string) ([]string, error) {
	prefix := joinKeyPrefix + experienceID + ":"
	var out []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			key := string(it.Item().Key())
			out = append(out, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	return out, err
}

// PutPlan persists a travel plan.
func (s *Store) PutPlan(plan models.TravelPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(planKeyPrefix+plan.ID), data)
	})
}

// ListPlans returns all travel plans.
func (s *Store) ListPlans() ([]models.TravelPlan, error) {
	var out []models.TravelPlan
	err := s.iterate(planKeyPrefix, func(val []byte) error {
		var plan models.TravelPlan
		if err := json.Unmarshal(val, &plan); err != nil {
			return err
		}
		out = append(out, plan)
		return nil
	})
	return out, err
}

// UpsertTranslation writes a localized text keyed by (resource, locale,
// field). Re-running enrichment overwrites rather than duplicates.
func (s *Store) UpsertTranslation(resourceID, locale, field, text string) error {
	key := translationKeyPrefix + resourceID + ":" + locale + ":" + field
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(text))
	})
}

// GetTranslation reads a localized text; empty string when absent.
func (s *Store) GetTranslation(resourceID, locale, field string) (string, error) {
	key := translationKeyPrefix + resourceID + ":" + locale + ":" + field
	var text string

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			text = string(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get translation: %w", err)
	}
	return text, nil
}

var errStopIteration = fmt.Errorf("stop iteration")

func (s *Store) getLocation(id string) (*models.Location, error) {
	var loc models.Location
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(locationKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &loc)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get location %s: %w", id, err)
	}
	return &loc, nil
}

// iterate walks all values under a key prefix, stopping early when fn
// returns errStopIteration.
func (s *Store) iterate(prefix string, fn func(val []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				return fn(val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err == errStopIteration {
		return nil
	}
	return err
}
