package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Secrets holds sensitive credentials loaded from environment variables,
// never from the config file.
type Secrets struct {
	LLMAPIKey    string
	PlacesAPIKey string
}

// Load reads the configuration file, applies defaults, validates, and loads
// secrets from the environment.
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, LoadSecrets(), nil
}

// LoadSecrets reads credentials from the environment. WAYFARER_-prefixed
// variables win over the provider-conventional names.
func LoadSecrets() *Secrets {
	s := &Secrets{}

	if key := os.Getenv("WAYFARER_LLM_API_KEY"); key != "" {
		s.LLMAPIKey = key
	} else {
		s.LLMAPIKey = os.Getenv("LLM_API_KEY")
	}

	if key := os.Getenv("WAYFARER_PLACES_API_KEY"); key != "" {
		s.PlacesAPIKey = key
	} else {
		s.PlacesAPIKey = os.Getenv("GEOAPIFY_API_KEY")
	}

	return s
}

// applyDefaults sets defaults for optional configuration fields in place.
func applyDefaults(cfg *Config) {
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.MaxOutputTokens == 0 {
		cfg.LLM.MaxOutputTokens = 4096
	}
	if cfg.LLM.RateLimitPerMinute == 0 {
		cfg.LLM.RateLimitPerMinute = 60
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryBaseDelayMS == 0 {
		cfg.LLM.RetryBaseDelayMS = 1000
	}
	if cfg.LLM.RetryBackoffFactor == 0 {
		cfg.LLM.RetryBackoffFactor = 1.0
	}
	if cfg.LLM.HTTPTimeoutSeconds == 0 {
		cfg.LLM.HTTPTimeoutSeconds = 120
	}

	if cfg.Places.BaseURL == "" {
		cfg.Places.BaseURL = "https://api.geoapify.com"
	}
	if cfg.Places.RateLimitPerSecond == 0 {
		cfg.Places.RateLimitPerSecond = 5
	}
	if cfg.Places.SearchLimit == 0 {
		cfg.Places.SearchLimit = 20
	}
	if cfg.Places.HTTPTimeoutSeconds == 0 {
		cfg.Places.HTTPTimeoutSeconds = 30
	}

	if cfg.Generation.DefaultMaxLocations == 0 {
		cfg.Generation.DefaultMaxLocations = 100
	}
	if cfg.Generation.DefaultMaxExperiences == 0 {
		cfg.Generation.DefaultMaxExperiences = 200
	}
	if cfg.Generation.DefaultMaxPlans == 0 {
		cfg.Generation.DefaultMaxPlans = 50
	}
	if len(cfg.Generation.TouristProfiles) == 0 {
		cfg.Generation.TouristProfiles = []string{"family", "adventure", "culture"}
	}
	if cfg.Generation.MinLocationsPerCity == 0 {
		cfg.Generation.MinLocationsPerCity = 5
	}
	if cfg.Generation.MaxLocationsPerCity == 0 {
		cfg.Generation.MaxLocationsPerCity = 50
	}
	if cfg.Generation.CoordTolerance == 0 {
		cfg.Generation.CoordTolerance = 0.0005 // roughly 50m at the equator
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.StatusRateLimitPerMinute == 0 {
		cfg.Server.StatusRateLimitPerMinute = 30
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}

	if cfg.Prompts.Reasoning == "" {
		cfg.Prompts.Reasoning = DefaultReasoningTemplate()
	}
	if cfg.Prompts.Enrichment == "" {
		cfg.Prompts.Enrichment = DefaultEnrichmentTemplate()
	}
	if cfg.Prompts.Experiences == "" {
		cfg.Prompts.Experiences = DefaultExperiencesTemplate()
	}
	if cfg.Prompts.Plans == "" {
		cfg.Prompts.Plans = DefaultPlansTemplate()
	}
	if cfg.Prompts.System == "" {
		cfg.Prompts.System = DefaultSystemPrompt()
	}
}

// Default returns a fully defaulted configuration, used by tests and by the
// CLI when no config file is given.
func Default() Config {
	var cfg Config
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.ModelName = "gpt-4o-mini"
	applyDefaults(&cfg)
	return cfg
}
