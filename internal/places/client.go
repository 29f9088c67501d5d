// Package places wraps the Geoapify-style geocoding/places provider. The
// provider documents a hard ceiling of 5 requests per second; pacing is the
// caller's job (the pipeline drives this client through the batch
// dispatcher), this client only issues single blocking requests.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wayfarerhq/wayfarer/internal/config"
	"github.com/wayfarerhq/wayfarer/internal/metrics"
	"github.com/wayfarerhq/wayfarer/internal/util"
	"github.com/wayfarerhq/wayfarer/pkg/models"
)

// Client talks to the places provider.
type Client struct {
	httpClient *http.Client
	cfg        config.PlacesConfig
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a places client.
func NewClient(cfg config.PlacesConfig, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		},
		cfg:    cfg,
		apiKey: apiKey,
		logger: logger,
	}
}

// Geocode resolves a city name to a coordinate, optionally constrained to
// the configured country filter.
func (c *Client) Geocode(ctx context.Context, city string) (*models.GeoPoint, error) {
	q := url.Values{}
	q.Set("text", city)
	q.Set("type", "city")
	q.Set("limit", "1")
	q.Set("format", "json")
	if c.cfg.CountryFilter != "" {
		q.Set("filter", "countrycode:"+strings.ToLower(c.cfg.CountryFilter))
	}

	var resp struct {
		Results []struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"results"`
	}
	if err := c.get(ctx, "/v1/geocode/search", q, &resp); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", city, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("geocode %q: no results", city)
	}

	return &models.GeoPoint{Lat: resp.Results[0].Lat, Lon: resp.Results[0].Lon}, nil
}

// Search fetches raw place candidates for the given categories near a
// coordinate. Categories use the provider's identifier scheme
// (e.g. "tourism.sights").
func (c *Client) Search(ctx context.Context, categories []string, near *models.GeoPoint, limit int) ([]models.RawPlace, error) {
	if len(categories) == 0 {
		return nil, nil
	}
	if limit < 1 {
		limit = c.cfg.SearchLimit
	}

	q := url.Values{}
	q.Set("categories", strings.Join(categories, ","))
	q.Set("limit", strconv.Itoa(limit))
	if near != nil {
		q.Set("bias", fmt.Sprintf("proximity:%g,%g", near.Lon, near.Lat))
	}
	if c.cfg.CountryFilter != "" {
		q.Set("filter", "countrycode:"+strings.ToLower(c.cfg.CountryFilter))
	}

	var resp struct {
		Features []struct {
			Properties struct {
				PlaceID    string   `json:"place_id"`
				Name       string   `json:"name"`
				City       string   `json:"city"`
				Country    string   `json:"country"`
				Lat        float64  `json:"lat"`
				Lon        float64  `json:"lon"`
				Formatted  string   `json:"formatted"`
				Categories []string `json:"categories"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := c.get(ctx, "/v2/places", q, &resp); err != nil {
		return nil, fmt.Errorf("places search: %w", err)
	}

	out := make([]models.RawPlace, 0, len(resp.Features))
	for _, f := range resp.Features {
		p := f.Properties
		if p.Name == "" {
			continue // unnamed features are not publishable content
		}
		category := ""
		if len(p.Categories) > 0 {
			category = p.Categories[0]
		}
		out = append(out, models.RawPlace{
			SourceID: p.PlaceID,
			Name:     p.Name,
			Category: category,
			City:     p.City,
			Country:  p.Country,
			Lat:      p.Lat,
			Lon:      p.Lon,
			Address:  p.Formatted,
		})
	}

	c.logger.Debug("places search complete",
		"categories", strings.Join(categories, ","),
		"returned", len(resp.Features),
		"usable", len(out))

	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	if c.apiKey != "" {
		q.Set("apiKey", c.apiKey)
	}
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordPlacesRequest("error")
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("failed to close response body", "error", cerr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordPlacesRequest("error")
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.RecordPlacesRequest("error")
		return fmt.Errorf("status %d: %s", resp.StatusCode, util.TruncateString(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.RecordPlacesRequest("error")
		return fmt.Errorf("parse response: %w", err)
	}

	metrics.RecordPlacesRequest("success")
	return nil
}
