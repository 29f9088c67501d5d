// Package pipeline drives the four-phase content-generation run: reason
// about what the platform is missing, fetch raw place candidates, enrich
// them with generated content, and materialize locations, experiences, and
// travel plans under per-resource quotas.
//
// One run executes on a single worker goroutine. Cities and phases are
// strictly sequential; cancellation is cooperative and observed at city and
// phase boundaries only, so an in-flight network call is never interrupted.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/dispatch"
	"github.com/wayfarerhq/wayfarer/internal/llm"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/quota"
	"github.com/wayfarerhq/wayfarer/internal/run"
	"github.com/wayfarerhq/wayfarer/internal/util"
	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// errCancelled unwinds out of nested per-item loops when the operator has
// requested a stop. It is handled at the top of Execute and never surfaces
// as a failure.
var errCancelled = errors.New("run cancelled")

// maxConsecutiveItemFailures is the point at which per-item transport
// failures stop looking like bad luck and start looking like an unusable
// backend; the city is then abandoned rather than ground through.
const maxConsecutiveItemFailures = 3

// LLM is the structured-generation backend the pipeline reasons and
// enriches with.
type LLM interface {
	Generate(ctx context.Context, prompt string, schema *llm.Schema, system string) (map[string]any, error)
}

// PlacesAPI is the rate-limited geocoding and place-search provider.
type PlacesAPI interface {
	Geocode(ctx context.Context, city string) (*models.GeoPoint, error)
	Search(ctx context.Context, categories []string, near *models.GeoPoint, limit int) ([]models.RawPlace, error)
}

// ContentStore is the persistence surface the materializer writes through.
type ContentStore interface {
	PutLocation(loc models.Location) error
	FindLocationBySourceID(sourceID string) (*models.Location, error)
	FindLocationNear(lat, lon, tol float64) (*models.Location, error)
	ListLocations() ([]models.Location, error)
	CountsByCity() (map[string]int, error)
	PutExperience(exp models.Experience) error
	ListExperiences() ([]models.Experience, error)
	LinkLocation(experienceID, locationID string) error
	PutPlan(plan models.TravelPlan) error
	UpsertTranslation(resourceID, locale, field, text string) error
}

var planSchema = &llm.Schema{
	Name: "generation_plan",
	Raw: `{"target_cities": [{"city": "string", "locations_to_fetch": "int", "categories": ["string"], "reasoning": "string"}], "reasoning": "string"}`,
}

var enrichmentSchema = &llm.Schema{
	Name: "location_content",
	Raw:  `{"description": "string", "tags": ["string"], "translations": {"locale": "string"}, "confidence": "number", "reasoning": "string"}`,
}

var experiencesSchema = &llm.Schema{
	Name: "experience_groupings",
	Raw:  `{"experiences": [{"name": "string", "theme": "string", "description": "string", "locations": ["string"], "confidence": "number", "reasoning": "string"}]}`,
}

var travelPlanSchema = &llm.Schema{
	Name: "travel_plan",
	Raw:  `{"title": "string", "days": [{"day": "int", "experiences": ["string"], "summary": "string"}], "confidence": "number", "reasoning": "string"}`,
}

// Orchestrator owns one run at a time. The HTTP server and the CLI both
// construct one and call Execute on a worker goroutine after the run
// manager has accepted the start.
type Orchestrator struct {
	cfg        config.Config
	llm        LLM
	places     PlacesAPI
	mat        *materializer
	store      ContentStore
	runs       *run.Manager
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New creates an orchestrator. The dispatcher is injected so tests can
// replace its sleep.
func New(cfg config.Config, llmClient LLM, placesClient PlacesAPI, store ContentStore, runs *run.Manager, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		llm:        llmClient,
		places:     placesClient,
		mat:        newMaterializer(store, cfg.Generation.CoordTolerance, logger),
		store:      store,
		runs:       runs,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Execute runs the full pipeline for an already-started run and finalizes
// the run record. The returned error mirrors a failed finalization for
// callers that want it; cancellation is not an error.
func (o *Orchestrator) Execute(ctx context.Context, opts run.StartOptions) error {
	quotas := quota.Set{
		Locations:   quota.New(opts.MaxLocations, o.cfg.Generation.DefaultMaxLocations),
		Experiences: quota.New(opts.MaxExperiences, o.cfg.Generation.DefaultMaxExperiences),
		Plans:       quota.New(opts.MaxPlans, o.cfg.Generation.DefaultMaxPlans),
	}

	plan, err := o.reason(ctx)
	if err != nil {
		o.finish(models.StatusFailed, fmt.Sprintf("reasoning phase failed: %v", err))
		return err
	}
	if len(plan) == 0 {
		o.finish(models.StatusCompleted, "reasoning produced no target cities; nothing to generate")
		return nil
	}

	cancelled := false
	for i, cityPlan := range plan {
		if o.stopRequested(ctx) {
			cancelled = true
			break
		}
		o.setMessage(fmt.Sprintf("processing city %d/%d: %s", i+1, len(plan), cityPlan.City))

		res, err := o.processCity(ctx, cityPlan, quotas, opts)
		if errors.Is(err, errCancelled) {
			if res.LocationsCreated+res.ExperiencesCreated+res.PlansCreated > 0 {
				o.appendResult(res)
			}
			cancelled = true
			break
		}
		if err != nil {
			o.logger.Error("city failed", "city", cityPlan.City, "error", err)
			if appendErr := o.runs.AppendCityError(cityPlan.City, err); appendErr != nil {
				o.logger.Error("appending city error failed", "city", cityPlan.City, "error", appendErr)
			}
			continue
		}
		o.appendResult(res)
	}

	if cancelled {
		o.finish(models.StatusCancelled, "run cancelled by operator")
		return nil
	}
	o.finish(models.StatusCompleted, o.summary(quotas))
	return nil
}

// reason asks the model which cities need content. Any failure here is
// fatal for the run: there is no plan to execute without it.
func (o *Orchestrator) reason(ctx context.Context) ([]models.CityPlan, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("reason", time.Since(started)) }()

	counts, err := o.store.CountsByCity()
	if err != nil {
		return nil, fmt.Errorf("content snapshot: %w", err)
	}

	prompt, err := util.RenderTemplate(o.cfg.Prompts.Reasoning, map[string]any{
		"Snapshot": formatSnapshot(counts),
	})
	if err != nil {
		return nil, fmt.Errorf("render reasoning prompt: %w", err)
	}

	payload, err := o.llm.Generate(ctx, prompt, planSchema, o.cfg.Prompts.System)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(payload); err == nil {
		if err := o.runs.SetPlan(raw); err != nil {
			o.logger.Warn("storing plan on run record failed", "error", err)
		}
	}

	plan := cityPlansFromPayload(payload, o.cfg.Generation.MinLocationsPerCity, o.cfg.Generation.MaxLocationsPerCity)
	o.logger.Info("reasoning phase complete", "target_cities", len(plan))
	return plan, nil
}

// processCity runs fetch, enrich+materialize, experiences, and plans for
// one city. A returned error other than errCancelled is city-fatal: it is
// recorded and the run moves on to the next city.
func (o *Orchestrator) processCity(ctx context.Context, cityPlan models.CityPlan, quotas quota.Set, opts run.StartOptions) (models.CityResult, error) {
	res := models.CityResult{City: cityPlan.City}
	log := o.logger.With("city", cityPlan.City)

	if !opts.SkipLocations {
		if o.stopRequested(ctx) {
			return res, errCancelled
		}
		candidates, err := o.fetch(ctx, cityPlan, quotas.Locations, log)
		if err != nil {
			return res, err
		}

		if o.stopRequested(ctx) {
			return res, errCancelled
		}
		created, err := o.enrichAndMaterialize(ctx, candidates, quotas.Locations, log)
		res.LocationsCreated = created
		if err != nil {
			return res, err
		}
	}

	if !opts.SkipExperiences {
		if o.stopRequested(ctx) {
			return res, errCancelled
		}
		created, err := o.createExperiences(ctx, cityPlan.City, quotas.Experiences, log)
		res.ExperiencesCreated = created
		if err != nil {
			return res, err
		}
	}

	if !opts.SkipPlans {
		if o.stopRequested(ctx) {
			return res, errCancelled
		}
		created, err := o.createPlans(ctx, cityPlan.City, quotas.Plans, log)
		res.PlansCreated = created
		if err != nil {
			return res, err
		}
	}

	log.Info("city complete",
		"locations", res.LocationsCreated,
		"experiences", res.ExperiencesCreated,
		"plans", res.PlansCreated)
	return res, nil
}

// fetch geocodes the city and searches each category through the batch
// dispatcher, so the provider's per-second ceiling holds. Candidates that
// already exist in the store are dropped here.
func (o *Orchestrator) fetch(ctx context.Context, cityPlan models.CityPlan, q *quota.Tracker, log *slog.Logger) ([]models.RawPlace, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("fetch", time.Since(started)) }()

	if len(cityPlan.Categories) == 0 {
		log.Info("no categories planned, skipping fetch")
		return nil, nil
	}
	if q.LimitReached() {
		log.Info("location quota exhausted, skipping fetch")
		return nil, nil
	}

	center, err := o.places.Geocode(ctx, cityPlan.City)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", cityPlan.City, err)
	}

	var raw []models.RawPlace
	err = dispatch.ForEachBatch(o.dispatcher, cityPlan.Categories, o.cfg.Places.RateLimitPerSecond, func(batch []string) error {
		for _, category := range batch {
			found, err := o.places.Search(ctx, []string{category}, center, cityPlan.LocationsToFetch)
			if err != nil {
				return fmt.Errorf("search %q: %w", category, err)
			}
			raw = append(raw, found...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var fresh []models.RawPlace
	seen := make(map[string]bool)
	for _, p := range raw {
		if p.SourceID != "" && seen[p.SourceID] {
			continue
		}
		exists, err := o.mat.locationExists(p)
		if err != nil {
			return nil, fmt.Errorf("dedupe check: %w", err)
		}
		if exists {
			continue
		}
		if p.SourceID != "" {
			seen[p.SourceID] = true
		}
		fresh = append(fresh, p)
	}

	log.Info("fetch complete", "raw", len(raw), "new", len(fresh))
	return fresh, nil
}

// enrichAndMaterialize generates content for each candidate and persists
// it, bounded by the location quota. One candidate's failure is logged and
// skipped; a streak of transport failures abandons the city.
func (o *Orchestrator) enrichAndMaterialize(ctx context.Context, candidates []models.RawPlace, q *quota.Tracker, log *slog.Logger) (int, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("enrich", time.Since(started)) }()

	created := 0
	consecutiveFailures := 0
	for _, candidate := range candidates {
		if q.LimitReached() {
			log.Info("location quota exhausted", "discarded", len(candidates)-created)
			break
		}

		prompt, err := util.RenderTemplate(o.cfg.Prompts.Enrichment, map[string]any{
			"Name":     candidate.Name,
			"City":     candidate.City,
			"Country":  candidate.Country,
			"Category": candidate.Category,
			"Address":  candidate.Address,
		})
		if err != nil {
			return created, fmt.Errorf("render enrichment prompt: %w", err)
		}

		payload, err := o.llm.Generate(ctx, prompt, enrichmentSchema, o.cfg.Prompts.System)
		if err != nil {
			consecutiveFailures++
			log.Warn("enrichment failed, skipping candidate", "name", candidate.Name, "error", err)
			if isTransportError(err) && consecutiveFailures >= maxConsecutiveItemFailures {
				return created, fmt.Errorf("backend unusable after %d consecutive failures: %w", consecutiveFailures, err)
			}
			continue
		}
		consecutiveFailures = 0

		ok, err := o.mat.createLocation(candidate, enrichmentFromPayload(payload), q)
		if err != nil {
			log.Warn("location creation failed, skipping", "name", candidate.Name, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// createExperiences proposes groupings over all known locations, not just
// this city's new ones, and applies them up to the experience quota.
func (o *Orchestrator) createExperiences(ctx context.Context, city string, q *quota.Tracker, log *slog.Logger) (int, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("experiences", time.Since(started)) }()

	if q.LimitReached() {
		log.Info("experience quota exhausted, skipping")
		return 0, nil
	}

	locations, err := o.store.ListLocations()
	if err != nil {
		return 0, fmt.Errorf("list locations: %w", err)
	}
	if len(locations) == 0 {
		log.Info("no locations available, skipping experiences")
		return 0, nil
	}

	ids := make(map[string]string, len(locations))
	lines := make([]string, 0, len(locations))
	for _, loc := range locations {
		ids[loc.Name] = loc.ID
		lines = append(lines, "- "+loc.Name+" ("+loc.City+")")
	}

	prompt, err := util.RenderTemplate(o.cfg.Prompts.Experiences, map[string]any{
		"City":      city,
		"Locations": strings.Join(lines, "\n"),
	})
	if err != nil {
		return 0, fmt.Errorf("render experiences prompt: %w", err)
	}

	payload, err := o.llm.Generate(ctx, prompt, experiencesSchema, o.cfg.Prompts.System)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, prop := range experiencesFromPayload(payload) {
		if q.LimitReached() {
			break
		}
		ok, err := o.mat.createExperience(city, prop, ids, q)
		if err != nil {
			log.Warn("experience creation failed, skipping", "name", prop.Name, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// createPlans asks for one multi-day plan per configured tourist profile,
// up to the plan quota.
func (o *Orchestrator) createPlans(ctx context.Context, city string, q *quota.Tracker, log *slog.Logger) (int, error) {
	started := time.Now()
	defer func() { metrics.ObservePhase("plans", time.Since(started)) }()

	if q.LimitReached() {
		log.Info("plan quota exhausted, skipping")
		return 0, nil
	}

	experiences, err := o.store.ListExperiences()
	if err != nil {
		return 0, fmt.Errorf("list experiences: %w", err)
	}
	if len(experiences) == 0 {
		log.Info("no experiences available, skipping plans")
		return 0, nil
	}

	ids := make(map[string]string, len(experiences))
	lines := make([]string, 0, len(experiences))
	for _, exp := range experiences {
		ids[exp.Name] = exp.ID
		lines = append(lines, "- "+exp.Name)
	}

	created := 0
	for _, profile := range o.cfg.Generation.TouristProfiles {
		if q.LimitReached() {
			break
		}

		prompt, err := util.RenderTemplate(o.cfg.Prompts.Plans, map[string]any{
			"City":        city,
			"Experiences": strings.Join(lines, "\n"),
			"Profile":     profile,
		})
		if err != nil {
			return created, fmt.Errorf("render plans prompt: %w", err)
		}

		payload, err := o.llm.Generate(ctx, prompt, travelPlanSchema, o.cfg.Prompts.System)
		if err != nil {
			log.Warn("plan generation failed, skipping profile", "profile", profile, "error", err)
			continue
		}

		prop := planFromPayload(payload)
		if prop == nil {
			log.Warn("plan output unusable, skipping profile", "profile", profile)
			continue
		}

		ok, err := o.mat.createPlan(city, profile, prop, ids, q)
		if err != nil {
			log.Warn("plan creation failed, skipping profile", "profile", profile, "error", err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// stopRequested is the cooperative cancellation checkpoint: the operator's
// cancel flag or a shut-down context, observed only at phase and city
// boundaries.
func (o *Orchestrator) stopRequested(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return o.runs.Cancelled()
}

func (o *Orchestrator) appendResult(res models.CityResult) {
	if err := o.runs.AppendCityResult(res); err != nil {
		o.logger.Error("appending city result failed", "city", res.City, "error", err)
	}
}

func (o *Orchestrator) setMessage(msg string) {
	if err := o.runs.SetMessage(msg); err != nil {
		o.logger.Warn("updating run message failed", "error", err)
	}
}

func (o *Orchestrator) finish(status models.RunStatus, msg string) {
	if err := o.runs.Finish(status, msg); err != nil {
		o.logger.Error("finalizing run failed", "status", status, "error", err)
	}
	metrics.RecordRunFinished(string(status))
	o.logger.Info("run finished", "status", status, "message", msg)
}

func (o *Orchestrator) summary(quotas quota.Set) string {
	return fmt.Sprintf("generation complete: %d locations, %d experiences, %d plans created",
		quotas.Locations.Consumed(), quotas.Experiences.Consumed(), quotas.Plans.Consumed())
}

func formatSnapshot(counts map[string]int) string {
	if len(counts) == 0 {
		return "(no published content yet)"
	}
	cities := make([]string, 0, len(counts))
	for city := range counts {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	lines := make([]string, 0, len(cities))
	for _, city := range cities {
		lines = append(lines, fmt.Sprintf("- %s: %d locations", city, counts[city]))
	}
	return strings.Join(lines, "\n")
}

func isTransportError(err error) bool {
	var reqErr *llm.RequestError
	return errors.As(err, &reqErr)
}
