package content

import (
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/wayfarerhq/wayfarer/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestLocationRoundTripAndSourceIndex(t *testing.T) {
	s := newTestStore(t)

	loc := models.Location{
		ID:       "l1",
		SourceID: "osm:123",
		Name:     "Uvac Gorge",
		City:     "Nova Varos",
		Lat:      43.45,
		Lon:      19.95,
	}
	if err := s.PutLocation(loc); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.FindLocationBySourceID("osm:123")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got == nil || got.ID != "l1" || got.Name != "Uvac Gorge" {
		t.Errorf("unexpected location: %+v", got)
	}

	missing, err := s.FindLocationBySourceID("osm:999")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown source id, got %+v", missing)
	}
}

func TestFindLocationNear(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutLocation(models.Location{ID: "l1", Name: "A", Lat: 44.8000, Lon: 20.4500}); err != nil {
		t.Fatal(err)
	}

	near, err := s.FindLocationNear(44.8003, 20.4498, 0.0005)
	if err != nil {
		t.Fatalf("near: %v", err)
	}
	if near == nil || near.ID != "l1" {
		t.Errorf("expected l1 within tolerance, got %+v", near)
	}

	far, err := s.FindLocationNear(44.8100, 20.4500, 0.0005)
	if err != nil {
		t.Fatalf("far: %v", err)
	}
	if far != nil {
		t.Errorf("expected no match outside tolerance, got %+v", far)
	}
}

func TestCountsByCity(t *testing.T) {
	s := newTestStore(t)

	for _, loc := range []models.Location{
		{ID: "l1", City: "Belgrade"},
		{ID: "l2", City: "Belgrade"},
		{ID: "l3", City: "Novi Sad"},
		{ID: "l4"},
	} {
		if err := s.PutLocation(loc); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.CountsByCity()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["Belgrade"] != 2 || counts["Novi Sad"] != 1 || counts["unknown"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestLinkLocationIdempotent(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.LinkLocation("e1", "l1"); err != nil {
			t.Fatalf("link: %v", err)
		}
	}
	if err := s.LinkLocation("e1", "l2"); err != nil {
		t.Fatalf("link: %v", err)
	}

	ids, err := s.LinkedLocationIDs("e1")
	if err != nil {
		t.Fatalf("linked ids: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("expected 2 linked locations, got %v", ids)
	}
}

func TestTranslationUpsert(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertTranslation("l1", "sr", "description", "prva verzija"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTranslation("l1", "sr", "description", "druga verzija"); err != nil {
		t.Fatal(err)
	}

	text, err := s.GetTranslation("l1", "sr", "description")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if text != "druga verzija" {
		t.Errorf("expected overwrite, got %q", text)
	}

	empty, err := s.GetTranslation("l1", "de", "description")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if empty != "" {
		t.Errorf("expected empty for missing translation, got %q", empty)
	}
}

func TestExperienceAndPlanListing(t *testing.T) {
	s := newTestStore(t)

	if err := s.PutExperience(models.Experience{ID: "e1", Name: "Old Town Walk"}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutPlan(models.TravelPlan{ID: "p1", Title: "Belgrade Weekend", Profile: "family"}); err != nil {
		t.Fatal(err)
	}

	exps, err := s.ListExperiences()
	if err != nil {
		t.Fatalf("list experiences: %v", err)
	}
	if len(exps) != 1 || exps[0].Name != "Old Town Walk" {
		t.Errorf("unexpected experiences: %+v", exps)
	}

	plans, err := s.ListPlans()
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(plans) != 1 || plans[0].Profile != "family" {
		t.Errorf("unexpected plans: %+v", plans)
	}
}
