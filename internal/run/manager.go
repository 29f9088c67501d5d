package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// ErrRunInProgress is returned by Start when a run is already active.
var ErrRunInProgress = errors.New("a generation run is already in progress")

// StartOptions carries the per-run knobs from the external caller. nil
// limits mean "use the documented default"; 0 means unlimited.
type StartOptions struct {
	MaxLocations    *int `json:"max_locations"`
	MaxExperiences  *int `json:"max_experiences"`
	MaxPlans        *int `json:"max_plans"`
	SkipLocations   bool `json:"skip_locations"`
	SkipExperiences bool `json:"skip_experiences"`
	SkipPlans       bool `json:"skip_plans"`
}

// Manager owns all writes to the run record. The pipeline worker and the
// HTTP handlers go through it; status pollers read snapshots. The mutex
// makes Start a single check-and-set, so two near-simultaneous start
// requests cannot both observe idle and both proceed.
type Manager struct {
	store  *Store
	mu     sync.Mutex
	logger *slog.Logger
}

// NewManager creates a manager over the given store.
func NewManager(store *Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Start transitions idle/completed/failed/cancelled to in_progress,
// clearing the cancellation flag and the previous plan and results. It
// refuses with ErrRunInProgress when a run is active, leaving started_at
// and plan of the active run untouched.
func (m *Manager) Start() (*models.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if current.Status == models.StatusInProgress {
		return nil, ErrRunInProgress
	}

	rec := &models.RunRecord{
		RunID:     uuid.New().String(),
		Status:    models.StatusInProgress,
		StartedAt: time.Now().UTC(),
		Message:   "run started",
	}
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	m.logger.Info("generation run started", "run_id", rec.RunID)
	return rec, nil
}

// RequestCancel sets the cooperative cancellation flag without changing
// status. It reports false when no run is in progress. In-flight network
// calls are not interrupted; the orchestrator observes the flag at the next
// phase or city boundary.
func (m *Manager) RequestCancel() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load()
	if err != nil {
		return false, err
	}
	if rec.Status != models.StatusInProgress {
		return false, nil
	}

	rec.Cancelled = true
	rec.Message = "cancellation requested"
	if err := m.store.Save(rec); err != nil {
		return false, err
	}

	m.logger.Info("run cancellation requested", "run_id", rec.RunID)
	return true, nil
}

// Cancelled reports the cooperative cancellation flag. Read errors degrade
// to false so a transient store hiccup cannot cancel a run on its own.
func (m *Manager) Cancelled() bool {
	rec, err := m.store.Load()
	if err != nil {
		m.logger.Warn("failed to read cancellation flag", "error", err)
		return false
	}
	return rec.Cancelled
}

// ForceReset is the administrative escape hatch: unconditionally idle with
// the cancellation flag cleared, whatever the current state. Used to recover
// a record left stuck at in_progress by a crashed worker. Accumulated plan
// and results are kept for post-mortem reading.
func (m *Manager) ForceReset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load()
	if err != nil {
		return err
	}

	rec.Status = models.StatusIdle
	rec.Cancelled = false
	rec.Message = "force reset"
	if err := m.store.Save(rec); err != nil {
		return err
	}

	m.logger.Info("run record force reset")
	return nil
}

// Snapshot returns the current record for status pollers.
func (m *Manager) Snapshot() (*models.RunRecord, error) {
	return m.store.Load()
}

// SetPlan stores the reasoning-phase output verbatim for audit and
// debugging, independent of what the defensive parse extracts from it.
func (m *Manager) SetPlan(plan json.RawMessage) error {
	return m.update(func(rec *models.RunRecord) {
		rec.Plan = plan
		rec.Message = "plan generated"
	})
}

// SetMessage updates the progress message shown to pollers.
func (m *Manager) SetMessage(msg string) error {
	return m.update(func(rec *models.RunRecord) {
		rec.Message = msg
	})
}

// AppendCityResult appends a completed city's counts and folds them into
// the run totals. Entries are append-only: earlier cities are not revisited.
func (m *Manager) AppendCityResult(res models.CityResult) error {
	return m.update(func(rec *models.RunRecord) {
		rec.Results.Cities = append(rec.Results.Cities, res)
		rec.Results.LocationsCreated += res.LocationsCreated
		rec.Results.ExperiencesCreated += res.ExperiencesCreated
		rec.Results.PlansCreated += res.PlansCreated
	})
}

// AppendCityError records a city-level fatal error; the run continues.
func (m *Manager) AppendCityError(city string, cityErr error) error {
	return m.update(func(rec *models.RunRecord) {
		rec.Results.Errors = append(rec.Results.Errors, models.CityError{
			City:  city,
			Error: cityErr.Error(),
		})
	})
}

// Finish sets the terminal status and message, preserving accumulated
// results and the cancellation flag.
func (m *Manager) Finish(status models.RunStatus, msg string) error {
	return m.update(func(rec *models.RunRecord) {
		rec.Status = status
		rec.Message = msg
	})
}

func (m *Manager) update(mutate func(*models.RunRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.Load()
	if err != nil {
		return err
	}
	mutate(rec)
	if err := m.store.Save(rec); err != nil {
		return fmt.Errorf("save run record: %w", err)
	}
	return nil
}
