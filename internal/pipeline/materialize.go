package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/quota"
	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// materializer turns validated proposals into persisted records. Every
// create checks its quota first and consumes immediately after the write,
// so a crash mid-phase leaves an accurate count. Creates are deduplicated
// against the store, which makes re-running a phase safe.
type materializer struct {
	store     ContentStore
	tolerance float64
	logger    *slog.Logger
}

func newMaterializer(store ContentStore, tolerance float64, logger *slog.Logger) *materializer {
	return &materializer{store: store, tolerance: tolerance, logger: logger}
}

// locationExists reports whether a raw place already has a persisted record,
// matched by external source id first and coordinates second.
func (m *materializer) locationExists(p models.RawPlace) (bool, error) {
	if p.SourceID != "" {
		existing, err := m.store.FindLocationBySourceID(p.SourceID)
		if err != nil {
			return false, err
		}
		if existing != nil {
			return true, nil
		}
	}
	existing, err := m.store.FindLocationNear(p.Lat, p.Lon, m.tolerance)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// createLocation persists one enriched place. It returns created=false
// without error when the quota is exhausted or the place already exists.
func (m *materializer) createLocation(p models.RawPlace, enr enrichmentProposal, q *quota.Tracker) (bool, error) {
	if q.LimitReached() {
		return false, nil
	}

	exists, err := m.locationExists(p)
	if err != nil {
		return false, err
	}
	if exists {
		m.logger.Debug("location already present, skipping", "name", p.Name, "source_id", p.SourceID)
		return false, nil
	}

	loc := models.Location{
		ID:          uuid.NewString(),
		SourceID:    p.SourceID,
		Name:        p.Name,
		City:        p.City,
		Country:     p.Country,
		Category:    p.Category,
		Lat:         p.Lat,
		Lon:         p.Lon,
		Description: enr.Description,
		Tags:        enr.Tags,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.PutLocation(loc); err != nil {
		return false, fmt.Errorf("create location %q: %w", p.Name, err)
	}
	q.Consume(1)
	metrics.SetQuotaConsumed("locations", q.Consumed())

	for locale, text := range enr.Translations {
		if err := m.store.UpsertTranslation(loc.ID, locale, "description", text); err != nil {
			m.logger.Warn("translation upsert failed",
				"location", p.Name, "locale", locale, "error", err)
		}
	}
	return true, nil
}

// createExperience persists one grouping and links the referenced locations.
// Proposal location names that match nothing in locationIDs are dropped; an
// experience left with no resolvable locations is skipped entirely.
func (m *materializer) createExperience(city string, prop experienceProposal, locationIDs map[string]string, q *quota.Tracker) (bool, error) {
	if q.LimitReached() {
		return false, nil
	}

	var linked []string
	for _, name := range prop.Locations {
		if id, ok := locationIDs[name]; ok {
			linked = append(linked, id)
		}
	}
	if len(linked) == 0 {
		m.logger.Debug("experience references no known locations, skipping", "name", prop.Name)
		return false, nil
	}

	exp := models.Experience{
		ID:          uuid.NewString(),
		Name:        prop.Name,
		City:        city,
		Theme:       prop.Theme,
		Description: prop.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.PutExperience(exp); err != nil {
		return false, fmt.Errorf("create experience %q: %w", prop.Name, err)
	}
	q.Consume(1)
	metrics.SetQuotaConsumed("experiences", q.Consumed())

	for _, locID := range linked {
		if err := m.store.LinkLocation(exp.ID, locID); err != nil {
			m.logger.Warn("experience link failed", "experience", prop.Name, "location_id", locID, "error", err)
		}
	}
	return true, nil
}

// createPlan persists one multi-day plan for a tourist profile. Days whose
// experience names all fail to resolve are dropped; a plan left with no
// days is skipped.
func (m *materializer) createPlan(city, profile string, prop *planProposal, experienceIDs map[string]string, q *quota.Tracker) (bool, error) {
	if q.LimitReached() {
		return false, nil
	}

	var days []models.PlanDay
	for _, d := range prop.Days {
		var ids []string
		for _, name := range d.Experiences {
			if id, ok := experienceIDs[name]; ok {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			continue
		}
		days = append(days, models.PlanDay{Day: d.Day, ExperienceIDs: ids, Summary: d.Summary})
	}
	if len(days) == 0 {
		m.logger.Debug("plan references no known experiences, skipping", "title", prop.Title, "profile", profile)
		return false, nil
	}

	plan := models.TravelPlan{
		ID:        uuid.NewString(),
		Title:     prop.Title,
		City:      city,
		Profile:   profile,
		Days:      days,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.PutPlan(plan); err != nil {
		return false, fmt.Errorf("create plan %q: %w", prop.Title, err)
	}
	q.Consume(1)
	metrics.SetQuotaConsumed("plans", q.Consumed())
	return true, nil
}
