// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package tiered

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
)

const testDim = 4

func testStore(t *testing.T) *Store {
	t.Helper()
	cat, err := catalog.Open(&config.DatabaseConfig{Path: "", MaxMemory: "512MB"}, testDim)
	if err != nil {
		t.Fatalf("opening catalog: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	s, err := New(cat, time.Hour, 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("creating tiered store: %v", err)
	}
	return s
}

func emb(id string, vec []float32, age time.Duration) *models.Embedding {
	return &models.Embedding{
		ItemID:      id,
		Vector:      vec,
		TextVector:  vec,
		PublishedAt: time.Now().UTC().Add(-age),
	}
}

func TestUpsertAndLookup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	want := emb("ep1", []float32{1, 0, 0, 0}, 0)
	if err := s.Upsert(ctx, models.HorizonHourly, want); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, h, err := s.Lookup(ctx, "ep1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if h != models.HorizonHourly {
		t.Errorf("horizon = %s, want hourly", h)
	}
	if len(got.Vector) != testDim || got.Vector[0] != 1 {
		t.Errorf("vector not round-tripped: %v", got.Vector)
	}

	if _, _, err := s.Lookup(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing lookup: got %v, want ErrNotFound", err)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := testStore(t)
	bad := emb("ep1", []float32{1, 0}, 0)
	if err := s.Upsert(context.Background(), models.HorizonHourly, bad); err == nil {
		t.Error("expected dimension error, got nil")
	}
}

func TestSearchUnionDedupesAcrossHorizons(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Same item in two horizons; the finer one must win.
	if err := s.Upsert(ctx, models.HorizonHourly, emb("ep1", []float32{1, 0, 0, 0}, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonDaily, emb("ep1", []float32{1, 0, 0, 0}, 2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonDaily, emb("ep2", []float32{0.9, 0.1, 0, 0}, 2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 after dedupe", len(matches))
	}
	if matches[0].ItemID != "ep1" || matches[0].Horizon != models.HorizonHourly {
		t.Errorf("best match = %+v, want ep1 from hourly", matches[0])
	}
	if matches[1].ItemID != "ep2" {
		t.Errorf("second match = %+v, want ep2", matches[1])
	}
}

func TestSearchExcludeAndMinScore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, models.HorizonHourly, emb("near", []float32{1, 0, 0, 0}, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonHourly, emb("far", []float32{0, 1, 0, 0}, 0)); err != nil {
		t.Fatal(err)
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		MinScore: 0.5,
		Limit:    10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ItemID != "near" {
		t.Errorf("MinScore filter failed: %+v", matches)
	}

	matches, err = s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		Exclude: []string{"near"},
		Limit:   10,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.ItemID == "near" {
			t.Error("excluded item returned")
		}
	}
}

func TestSearchExcludeDoesNotStarveLowerRanks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Four candidates in descending similarity to the query. Excluding
	// the top three must still surface the fourth, even with the limit
	// at three.
	vecs := map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0.9, 0.1, 0, 0},
		"c": {0.8, 0.2, 0, 0},
		"d": {0.7, 0.3, 0, 0},
	}
	for id, vec := range vecs {
		if err := s.Upsert(ctx, models.HorizonHourly, emb(id, vec, 0)); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		Exclude: []string{"a", "b", "c"},
		Limit:   3,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].ItemID != "d" {
		t.Errorf("matches = %+v, want the unexcluded candidate", matches)
	}
}

func TestSearchCategoryFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := []struct {
		id, category, subcategory string
		vec                       []float32
	}{
		{"tech1", "technology", "ai", []float32{1, 0, 0, 0}},
		{"tech2", "technology", "chips", []float32{0.9, 0.1, 0, 0}},
		{"biz1", "business", "markets", []float32{0.95, 0.05, 0, 0}},
	}
	for _, r := range rows {
		err := s.Upsert(ctx, models.HorizonHourly, &models.Embedding{
			ItemID:      r.id,
			Vector:      r.vec,
			TextVector:  r.vec,
			Category:    r.category,
			Subcategory: r.subcategory,
			PublishedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	matches, err := s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		Category: "technology",
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("category filter returned %d matches, want 2: %+v", len(matches), matches)
	}
	for _, m := range matches {
		if m.ItemID == "biz1" {
			t.Error("business episode passed the technology filter")
		}
	}

	matches, err = s.Search(ctx, []float32{1, 0, 0, 0}, SearchOptions{
		Category:    "technology",
		Subcategory: "chips",
		Limit:       10,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].ItemID != "tech2" {
		t.Errorf("subcategory filter returned %+v, want tech2 only", matches)
	}
}

func TestCategorySurvivesPromotion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, models.HorizonHourly, &models.Embedding{
		ItemID:      "ep1",
		Vector:      []float32{1, 0, 0, 0},
		TextVector:  []float32{1, 0, 0, 0},
		Category:    "science",
		Subcategory: "space",
		PublishedAt: time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Promote(ctx, models.HorizonHourly); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	got, h, err := s.Lookup(ctx, "ep1")
	if err != nil {
		t.Fatal(err)
	}
	if h != models.HorizonDaily {
		t.Fatalf("promoted item in %s, want daily", h)
	}
	if got.Category != "science" || got.Subcategory != "space" {
		t.Errorf("category = %q/%q after promotion, want science/space", got.Category, got.Subcategory)
	}
}

func TestPromoteMovesExpiredRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, models.HorizonHourly, emb("old", []float32{1, 0, 0, 0}, 2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonHourly, emb("fresh", []float32{0, 1, 0, 0}, time.Minute)); err != nil {
		t.Fatal(err)
	}

	moved, err := s.Promote(ctx, models.HorizonHourly)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved %d rows, want 1", moved)
	}

	_, h, err := s.Lookup(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if h != models.HorizonDaily {
		t.Errorf("old item in %s, want daily", h)
	}
	_, h, err = s.Lookup(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if h != models.HorizonHourly {
		t.Errorf("fresh item in %s, want hourly", h)
	}

	// A second pass finds nothing to move.
	moved, err = s.Promote(ctx, models.HorizonHourly)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 0 {
		t.Errorf("second pass moved %d rows, want 0", moved)
	}
}

func TestPermanentDoesNotPromote(t *testing.T) {
	s := testStore(t)
	if _, err := s.Promote(context.Background(), models.HorizonPermanent); err == nil {
		t.Error("expected error promoting permanent horizon")
	}
}

func TestEvictExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, models.HorizonPermanent, emb("ancient", []float32{1, 0, 0, 0}, 90*24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonPermanent, emb("recent", []float32{0, 1, 0, 0}, time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := s.EvictExpired(ctx, time.Now().UTC().Add(-60*24*time.Hour))
	if err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("evicted %d rows, want 1", n)
	}
	if _, _, err := s.Lookup(ctx, "ancient"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ancient row survived eviction: %v", err)
	}
}

func TestDeleteRemovesFromAllHorizons(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, models.HorizonHourly, emb("ep1", []float32{1, 0, 0, 0}, 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, models.HorizonWeekly, emb("ep1", []float32{1, 0, 0, 0}, 0)); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, []string{"ep1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Lookup(ctx, "ep1"); !errors.Is(err, ErrNotFound) {
		t.Error("deleted item still found")
	}
}

func TestCount(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if err := s.Upsert(ctx, models.HorizonDaily, emb(id, []float32{float32(i), 1, 0, 0}, 0)); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx, models.HorizonDaily)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}
