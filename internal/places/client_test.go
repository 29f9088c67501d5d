package places

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wayfarerhq/wayfarer/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.PlacesConfig{
		BaseURL:            baseURL,
		RateLimitPerSecond: 5,
		CountryFilter:      "pt",
		SearchLimit:        20,
		HTTPTimeoutSeconds: 5,
	}, "test-places-key", testLogger())
}

func TestGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/geocode/search") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("apiKey"); got != "test-places-key" {
			t.Errorf("apiKey = %q", got)
		}
		if got := r.URL.Query().Get("filter"); got != "countrycode:pt" {
			t.Errorf("filter = %q, want country filter applied", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results": [{"lat": 38.7223, "lon": -9.1393}]}`))
	}))
	defer server.Close()

	pt, err := newTestClient(server.URL).Geocode(context.Background(), "Lisbon")
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if pt.Lat != 38.7223 || pt.Lon != -9.1393 {
		t.Errorf("Geocode() = %+v", pt)
	}
}

func TestGeocode_NoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Geocode(context.Background(), "Atlantis"); err == nil {
		t.Fatal("Geocode() succeeded with no results")
	}
}

func TestSearch_MapsFeatures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v2/places") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("categories"); got != "tourism.sights,entertainment.museum" {
			t.Errorf("categories = %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"features": [
			{"properties": {"place_id": "p1", "name": "Castelo de S. Jorge", "city": "Lisbon", "country": "Portugal",
				"lat": 38.7139, "lon": -9.1335, "formatted": "R. de Santa Cruz do Castelo", "categories": ["tourism.sights"]}},
			{"properties": {"place_id": "p2", "name": "", "lat": 1, "lon": 1}}
		]}`))
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Search(context.Background(),
		[]string{"tourism.sights", "entertainment.museum"}, nil, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// The unnamed feature is dropped.
	if len(got) != 1 {
		t.Fatalf("Search() returned %d places, want 1", len(got))
	}
	p := got[0]
	if p.SourceID != "p1" || p.Name != "Castelo de S. Jorge" || p.Category != "tourism.sights" {
		t.Errorf("Search()[0] = %+v", p)
	}
}

func TestSearch_EmptyCategoriesSkipsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request issued for empty category list")
	}))
	defer server.Close()

	got, err := newTestClient(server.URL).Search(context.Background(), nil, nil, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if got != nil {
		t.Errorf("Search() = %v, want nil", got)
	}
}

func TestSearch_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "invalid key"}`))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Search(context.Background(), []string{"tourism.sights"}, nil, 10); err == nil {
		t.Fatal("Search() succeeded on 401")
	}
}
