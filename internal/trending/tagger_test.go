// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package trending

import (
	"context"
	"testing"
	"time"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

const testDim = 4

func testTagger(t *testing.T) (*Tagger, *catalog.DB, *tiered.Store) {
	t.Helper()
	cat, err := catalog.Open(&config.DatabaseConfig{Path: "", MaxMemory: "512MB"}, testDim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	vectors, err := tiered.New(cat, time.Hour, 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.TrendingConfig{
		Threshold:      0.7,
		HotScore:       2,
		TrendingScore:  4,
		SearchLimit:    50,
		TrustedDomains: []string{"reuters.com", "apnews.com", "bbc.com", "cnn.com"},
	}
	return New(cat, vectors, cfg), cat, vectors
}

// addEpisode catalogs an episode and stores its vectors in hourly.
func addEpisode(t *testing.T, cat *catalog.DB, vectors *tiered.Store, link string, vec []float32) string {
	t.Helper()
	ctx := context.Background()
	id, _, err := cat.CreateItem(ctx, &models.Item{
		Link:        link,
		Title:       "Story",
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	err = vectors.Upsert(ctx, models.HorizonHourly, &models.Embedding{
		ItemID:      id,
		Vector:      vec,
		TextVector:  vec,
		PublishedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestBaseDomain(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"https://www.reuters.com/world/story-1", "reuters.com"},
		{"https://edition.cnn.com/2026/story", "cnn.com"},
		{"https://news.example.co.uk/a", "example.co.uk"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		if got := baseDomain(tt.link); got != tt.want {
			t.Errorf("baseDomain(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestIsTrustedSuffixMatch(t *testing.T) {
	trusted := trustedSet([]string{"cnn.com"})
	if !isTrusted(trusted, "cnn.com") {
		t.Error("exact match rejected")
	}
	if !isTrusted(trusted, "edition.cnn.com") {
		t.Error("subdomain rejected")
	}
	if isTrusted(trusted, "notcnn.com") {
		t.Error("lookalike accepted")
	}
}

func TestTwoTrustedSourcesGoHot(t *testing.T) {
	tagger, cat, vectors := testTagger(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	addEpisode(t, cat, vectors, "https://www.reuters.com/story", vec)
	id := addEpisode(t, cat, vectors, "https://www.apnews.com/story", vec)

	cluster, err := tagger.Tag(ctx, id)
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if !cluster.Hot {
		t.Errorf("cluster not hot: %+v", cluster)
	}
	if cluster.Trending {
		t.Errorf("two sources should not be trending: %+v", cluster)
	}
	if cluster.HotScore != 2 || cluster.TrendingScore != 2 {
		t.Errorf("scores = %d/%d, want 2/2", cluster.HotScore, cluster.TrendingScore)
	}
	if cluster.HotTime == nil {
		t.Error("hot time not stamped")
	}
}

func TestSameDomainCountsOnce(t *testing.T) {
	tagger, cat, vectors := testTagger(t)
	ctx := context.Background()

	// Three syndicated copies from one outlet plus the original.
	vec := []float32{1, 0, 0, 0}
	addEpisode(t, cat, vectors, "https://www.reuters.com/a", vec)
	addEpisode(t, cat, vectors, "https://www.reuters.com/b", vec)
	id := addEpisode(t, cat, vectors, "https://live.reuters.com/c", vec)

	cluster, err := tagger.Tag(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if cluster.Hot {
		t.Errorf("one distinct domain went hot: %+v", cluster)
	}
	if cluster.HotScore != 1 || cluster.TrendingScore != 1 {
		t.Errorf("scores = %d/%d, want 1/1", cluster.HotScore, cluster.TrendingScore)
	}
}

func TestFourDomainsGoTrending(t *testing.T) {
	tagger, cat, vectors := testTagger(t)
	ctx := context.Background()

	vec := []float32{0, 1, 0, 0}
	links := []string{
		"https://www.reuters.com/s",
		"https://blog1.example.com/s",
		"https://blog2.example.org/s",
		"https://blog3.example.net/s",
	}
	var id string
	for _, l := range links {
		id = addEpisode(t, cat, vectors, l, vec)
	}

	cluster, err := tagger.Tag(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !cluster.Trending {
		t.Errorf("four distinct domains not trending: %+v", cluster)
	}
	if cluster.Hot {
		t.Errorf("one trusted domain went hot: %+v", cluster)
	}
	if cluster.TrendingTime == nil {
		t.Error("trending time not stamped")
	}
}

func TestDissimilarEpisodesStaySeparate(t *testing.T) {
	tagger, cat, vectors := testTagger(t)
	ctx := context.Background()

	addEpisode(t, cat, vectors, "https://www.reuters.com/x", []float32{1, 0, 0, 0})
	id := addEpisode(t, cat, vectors, "https://www.apnews.com/y", []float32{0, 0, 1, 0})

	cluster, err := tagger.Tag(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if cluster.TrendingScore != 1 {
		t.Errorf("orthogonal episode clustered: %+v", cluster)
	}
}

func TestLateArrivalJoinsExistingCluster(t *testing.T) {
	tagger, cat, vectors := testTagger(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0}
	first := addEpisode(t, cat, vectors, "https://www.reuters.com/1", vec)
	c1, err := tagger.Tag(ctx, first)
	if err != nil {
		t.Fatal(err)
	}

	second := addEpisode(t, cat, vectors, "https://www.bbc.com/2", vec)
	c2, err := tagger.Tag(ctx, second)
	if err != nil {
		t.Fatal(err)
	}

	if c1.ID != c2.ID {
		t.Errorf("late arrival minted a new cluster: %s vs %s", c1.ID, c2.ID)
	}
	if !c2.Hot {
		t.Errorf("cluster not hot after second trusted source: %+v", c2)
	}

	// The read side surfaces only generated episodes.
	if err := cat.SetGenerated(ctx, &models.ContentResult{
		ID: first, AudioURL: "audio/" + first + ".wav", TranscriptURL: "t", DurationSecs: 1,
	}); err != nil {
		t.Fatal(err)
	}
	items, err := tagger.HotTrending(ctx, time.Hour, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != first {
		t.Errorf("HotTrending = %d items, want only the generated one", len(items))
	}
}
