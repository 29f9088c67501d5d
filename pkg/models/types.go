package models

import "time"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RawPlace is an unenriched candidate returned by the places API.
type RawPlace struct {
	SourceID string  `json:"source_id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	City     string  `json:"city"`
	Country  string  `json:"country"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Address  string  `json:"address"`
}

// Location is a persisted point of interest.
type Location struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id,omitempty"`
	Name        string    `json:"name"`
	City        string    `json:"city"`
	Country     string    `json:"country,omitempty"`
	Category    string    `json:"category,omitempty"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Experience is a thematic grouping of locations. Membership lives in the
// experience-location join, not on the record itself.
type Experience struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	City        string    `json:"city,omitempty"`
	Theme       string    `json:"theme,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PlanDay is one day of a travel plan, referencing experiences in visit order.
type PlanDay struct {
	Day           int      `json:"day"`
	ExperienceIDs []string `json:"experience_ids"`
	Summary       string   `json:"summary,omitempty"`
}

// TravelPlan is a multi-day itinerary assembled for a tourist profile.
type TravelPlan struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	City      string    `json:"city,omitempty"`
	Profile   string    `json:"profile"`
	Days      []PlanDay `json:"days"`
	CreatedAt time.Time `json:"created_at"`
}

// CityPlan is one entry of the reasoning-phase output. All fields are
// advisory; downstream phases default missing or malformed values.
type CityPlan struct {
	City             string   `json:"city"`
	LocationsToFetch int      `json:"locations_to_fetch"`
	Categories       []string `json:"categories"`
	Reasoning        string   `json:"reasoning,omitempty"`
}

// CityResult holds per-city creation counts. An entry is appended once the
// city's phases complete and is never mutated afterwards.
type CityResult struct {
	City               string `json:"city"`
	LocationsCreated   int    `json:"locations_created"`
	ExperiencesCreated int    `json:"experiences_created"`
	PlansCreated       int    `json:"plans_created"`
}

// CityError records a city-level fatal error; the run continues past it.
type CityError struct {
	City  string `json:"city"`
	Error string `json:"error"`
}

// RunResults is the append-only result accumulation for a generation run.
type RunResults struct {
	Cities             []CityResult `json:"cities"`
	Errors             []CityError  `json:"errors,omitempty"`
	LocationsCreated   int          `json:"locations_created"`
	ExperiencesCreated int          `json:"experiences_created"`
	PlansCreated       int          `json:"plans_created"`
}
