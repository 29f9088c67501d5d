package config

// DefaultSystemPrompt returns the system prompt shared by all pipeline calls.
func DefaultSystemPrompt() string {
	return `You are a travel content strategist for a tourism platform. You always answer with valid JSON matching the requested shape, with no commentary outside the JSON.`
}

// DefaultReasoningTemplate returns the template for the reasoning phase that
// decides which cities need content.
func DefaultReasoningTemplate() string {
	return `The platform currently has the following published content, as counts of locations per city:

{{.Snapshot}}

Decide which cities most need new content. Prefer cities with little or no coverage, and pick place categories that fit each city. Use Geoapify category identifiers (for example "tourism.sights", "catering.restaurant", "entertainment.museum", "natural.beach").

Return ONLY a JSON object of this shape:
{
  "target_cities": [
    {
      "city": "Lisbon",
      "locations_to_fetch": 10,
      "categories": ["tourism.sights", "entertainment.museum"],
      "reasoning": "why this city and these categories"
    }
  ],
  "reasoning": "overall strategy"
}`
}

// DefaultEnrichmentTemplate returns the template that turns a raw place into
// publishable content.
func DefaultEnrichmentTemplate() string {
	return `Write publishable tourism content for this place:

Name: {{.Name}}
City: {{.City}}
Country: {{.Country}}
Category: {{.Category}}
Address: {{.Address}}

Return ONLY a JSON object of this shape:
{
  "description": "an engaging 2-3 sentence visitor description",
  "tags": ["short", "lowercase", "tags"],
  "translations": {"es": "la descripción en español"},
  "confidence": 0.9,
  "reasoning": "what the description is based on"
}`
}

// DefaultExperiencesTemplate returns the template that proposes thematic
// groupings over the known locations.
func DefaultExperiencesTemplate() string {
	return `These locations are published for {{.City}} and nearby:

{{.Locations}}

Propose thematic or local experience groupings a visitor could book or follow. Each grouping should combine 2-6 related locations. Only reference locations from the list above, by exact name.

Return ONLY a JSON object of this shape:
{
  "experiences": [
    {
      "name": "Old Town Food Walk",
      "theme": "food",
      "description": "a 1-2 sentence pitch",
      "locations": ["Location Name A", "Location Name B"],
      "confidence": 0.8,
      "reasoning": "why these belong together"
    }
  ]
}`
}

// DefaultPlansTemplate returns the template that sequences experiences into
// a multi-day plan for one tourist profile.
func DefaultPlansTemplate() string {
	return `These experiences are available in {{.City}}:

{{.Experiences}}

Assemble a multi-day travel plan for a "{{.Profile}}" tourist profile. Use 2-4 days, sequencing experiences so each day is coherent and achievable. Only reference experiences from the list above, by exact name.

Return ONLY a JSON object of this shape:
{
  "title": "Three Days of Culture in Lisbon",
  "days": [
    {"day": 1, "experiences": ["Experience Name A"], "summary": "what this day covers"}
  ],
  "confidence": 0.8,
  "reasoning": "why this sequencing fits the profile"
}`
}
