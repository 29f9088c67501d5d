package pipeline

import (
	"strings"

	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// Proposals are whatever shape the model chose to return, validated and
// defaulted here before any business logic reads them. A proposal that is
// missing its identifying field is dropped, never guessed at.

// enrichmentProposal carries the generated content for one location.
type enrichmentProposal struct {
	Description  string
	Tags         []string
	Translations map[string]string
	Confidence   float64
	Reasoning    string
}

// experienceProposal is a suggested thematic grouping of known locations.
type experienceProposal struct {
	Name        string
	Theme       string
	Description string
	Locations   []string
	Confidence  float64
	Reasoning   string
}

// planProposal is a suggested multi-day sequencing of known experiences.
type planProposal struct {
	Title      string
	Days       []planDayProposal
	Confidence float64
	Reasoning  string
}

type planDayProposal struct {
	Day         int
	Experiences []string
	Summary     string
}

// cityPlansFromPayload extracts the target city list from the reasoning
// output. Entries without a city name are dropped; locations_to_fetch is
// clamped into [minFetch, maxFetch]; missing categories mean the fetch
// phase is skipped for that city.
func cityPlansFromPayload(payload map[string]any, minFetch, maxFetch int) []models.CityPlan {
	var out []models.CityPlan
	for _, entry := range asSlice(payload["target_cities"]) {
		m := asMap(entry)
		if m == nil {
			continue
		}
		city := strings.TrimSpace(asString(m["city"]))
		if city == "" {
			continue
		}
		fetch := asInt(m["locations_to_fetch"])
		if fetch <= 0 {
			fetch = minFetch
		}
		if fetch > maxFetch {
			fetch = maxFetch
		}
		out = append(out, models.CityPlan{
			City:             city,
			LocationsToFetch: fetch,
			Categories:       asStringSlice(m["categories"]),
			Reasoning:        asString(m["reasoning"]),
		})
	}
	return out
}

func enrichmentFromPayload(payload map[string]any) enrichmentProposal {
	prop := enrichmentProposal{
		Description: strings.TrimSpace(asString(payload["description"])),
		Tags:        asStringSlice(payload["tags"]),
		Confidence:  asFloat(payload["confidence"]),
		Reasoning:   asString(payload["reasoning"]),
	}
	if tr := asMap(payload["translations"]); tr != nil {
		prop.Translations = make(map[string]string, len(tr))
		for locale, v := range tr {
			if text := strings.TrimSpace(asString(v)); text != "" {
				prop.Translations[locale] = text
			}
		}
	}
	return prop
}

func experiencesFromPayload(payload map[string]any) []experienceProposal {
	var out []experienceProposal
	for _, entry := range asSlice(payload["experiences"]) {
		m := asMap(entry)
		if m == nil {
			continue
		}
		name := strings.TrimSpace(asString(m["name"]))
		locations := asStringSlice(m["locations"])
		if name == "" || len(locations) == 0 {
			continue
		}
		out = append(out, experienceProposal{
			Name:        name,
			Theme:       asString(m["theme"]),
			Description: asString(m["description"]),
			Locations:   locations,
			Confidence:  asFloat(m["confidence"]),
			Reasoning:   asString(m["reasoning"]),
		})
	}
	return out
}

// planFromPayload returns nil when the output has no usable title or days.
func planFromPayload(payload map[string]any) *planProposal {
	title := strings.TrimSpace(asString(payload["title"]))
	if title == "" {
		return nil
	}

	var days []planDayProposal
	for _, entry := range asSlice(payload["days"]) {
		m := asMap(entry)
		if m == nil {
			continue
		}
		experiences := asStringSlice(m["experiences"])
		if len(experiences) == 0 {
			continue
		}
		day := asInt(m["day"])
		if day <= 0 {
			day = len(days) + 1
		}
		days = append(days, planDayProposal{
			Day:         day,
			Experiences: experiences,
			Summary:     asString(m["summary"]),
		})
	}
	if len(days) == 0 {
		return nil
	}

	return &planProposal{
		Title:      title,
		Days:       days,
		Confidence: asFloat(payload["confidence"]),
		Reasoning:  asString(payload["reasoning"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asStringSlice(v any) []string {
	var out []string
	for _, item := range asSlice(v) {
		if s := strings.TrimSpace(asString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
