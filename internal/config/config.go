package config

import (
	"fmt"
	"time"
)

// Config is the complete application configuration, assembled once at
// startup and passed by value through the pipeline.
type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Places     PlacesConfig     `toml:"places"`
	Generation GenerationConfig `toml:"generation"`
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
	Prompts    PromptTemplates  `toml:"prompt_templates"`
}

// LLMConfig describes the OpenAI-compatible language-model backend.
type LLMConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`
	RetryBaseDelayMS   int     `toml:"retry_base_delay_ms"`
	RetryBackoffFactor float64 `toml:"retry_backoff_factor"`
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"`
	UseJSONMode        bool    `toml:"use_json_mode"`
}

// RetryBaseDelay returns the configured base delay between retry attempts.
func (c LLMConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// PlacesConfig describes the geocoding/places provider. The provider
// documents a hard ceiling of 5 requests per second which the pipeline must
// never exceed.
type PlacesConfig struct {
	BaseURL            string `toml:"base_url"`
	RateLimitPerSecond int    `toml:"rate_limit_per_second"`
	CountryFilter      string `toml:"country_filter"`
	SearchLimit        int    `toml:"search_limit"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
}

// GenerationConfig holds pipeline-wide generation settings.
type GenerationConfig struct {
	DefaultMaxLocations   int      `toml:"default_max_locations"`
	DefaultMaxExperiences int      `toml:"default_max_experiences"`
	DefaultMaxPlans       int      `toml:"default_max_plans"`
	TouristProfiles       []string `toml:"tourist_profiles"`
	MinLocationsPerCity   int      `toml:"min_locations_per_city"`
	MaxLocationsPerCity   int      `toml:"max_locations_per_city"`
	CoordTolerance        float64  `toml:"coord_tolerance"`
}

// ServerConfig holds the HTTP control-surface settings.
type ServerConfig struct {
	ListenAddr               string `toml:"listen_addr"`
	StatusRateLimitPerMinute int    `toml:"status_rate_limit_per_minute"`
}

// StorageConfig holds the embedded KV store settings.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// PromptTemplates holds the operator-customizable prompt templates. Empty
// fields fall back to the built-in defaults.
type PromptTemplates struct {
	Reasoning   string `toml:"reasoning"`
	Enrichment  string `toml:"enrichment"`
	Experiences string `toml:"experiences"`
	Plans       string `toml:"plans"`
	System      string `toml:"system"`
}

// Validate range-checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.ModelName == "" {
		return fmt.Errorf("llm.model_name is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2 (got %.2f)", c.LLM.Temperature)
	}
	if c.LLM.MaxOutputTokens < 1 {
		return fmt.Errorf("llm.max_output_tokens must be at least 1")
	}
	if c.LLM.RateLimitPerMinute < 1 {
		return fmt.Errorf("llm.rate_limit_per_minute must be at least 1")
	}
	if c.LLM.MaxRetries < 0 || c.LLM.MaxRetries > 10 {
		return fmt.Errorf("llm.max_retries must be between 0 and 10 (got %d)", c.LLM.MaxRetries)
	}
	if c.LLM.RetryBackoffFactor < 0 || c.LLM.RetryBackoffFactor > 10 {
		return fmt.Errorf("llm.retry_backoff_factor must be between 0 and 10 (got %.2f)", c.LLM.RetryBackoffFactor)
	}

	if c.Places.BaseURL == "" {
		return fmt.Errorf("places.base_url is required")
	}
	if c.Places.RateLimitPerSecond < 1 {
		return fmt.Errorf("places.rate_limit_per_second must be at least 1")
	}
	if c.Places.SearchLimit < 1 {
		return fmt.Errorf("places.search_limit must be at least 1")
	}

	if c.Generation.DefaultMaxLocations < 0 {
		return fmt.Errorf("generation.default_max_locations must not be negative")
	}
	if c.Generation.DefaultMaxExperiences < 0 {
		return fmt.Errorf("generation.default_max_experiences must not be negative")
	}
	if c.Generation.DefaultMaxPlans < 0 {
		return fmt.Errorf("generation.default_max_plans must not be negative")
	}
	if c.Generation.MinLocationsPerCity < 1 {
		return fmt.Errorf("generation.min_locations_per_city must be at least 1")
	}
	if c.Generation.MaxLocationsPerCity < c.Generation.MinLocationsPerCity {
		return fmt.Errorf("generation.max_locations_per_city (%d) must not be below min_locations_per_city (%d)",
			c.Generation.MaxLocationsPerCity, c.Generation.MinLocationsPerCity)
	}
	if c.Generation.CoordTolerance <= 0 || c.Generation.CoordTolerance > 1 {
		return fmt.Errorf("generation.coord_tolerance must be between 0 and 1 degrees (got %g)", c.Generation.CoordTolerance)
	}
	if len(c.Generation.TouristProfiles) == 0 {
		return fmt.Errorf("generation.tourist_profiles must not be empty")
	}

	if c.Server.StatusRateLimitPerMinute < 1 {
		return fmt.Errorf("server.status_rate_limit_per_minute must be at least 1")
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}

	return nil
}
