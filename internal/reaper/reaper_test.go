// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package reaper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/recommend"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

const testDim = 4

type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeBlobs) DeleteBatch(_ context.Context, keys []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	return len(keys), nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobs) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fixture struct {
	reaper  *Reaper
	cat     *catalog.DB
	vectors *tiered.Store
	docs    *docs.Store
	blobs   *fakeBlobs
}

func testReaper(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Open(&config.DatabaseConfig{MaxMemory: "512MB"}, testDim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	vectors, err := tiered.New(cat, time.Hour, 24*time.Hour, 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	documents, err := docs.Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = documents.Close() })

	blobs := &fakeBlobs{}
	cfg := &config.ReaperConfig{Interval: 24 * time.Hour, BufferTime: 24 * time.Hour}
	return &fixture{
		reaper:  New(cat, vectors, documents, blobs, cfg, 60*24*time.Hour),
		cat:     cat,
		vectors: vectors,
		docs:    documents,
		blobs:   blobs,
	}
}

// addEpisode writes an episode into all three stores with the given
// publish time.
func (f *fixture) addEpisode(t *testing.T, link string, publishedAt time.Time) string {
	t.Helper()
	ctx := context.Background()
	id, _, err := f.cat.CreateItem(ctx, &models.Item{
		Link:        link,
		Title:       "Episode",
		PublishedAt: publishedAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = f.vectors.Upsert(ctx, models.HorizonHourly, &models.Embedding{
		ItemID:      id,
		Vector:      []float32{1, 0, 0, 0},
		TextVector:  []float32{1, 0, 0, 0},
		PublishedAt: publishedAt,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.docs.Put(ctx, &docs.Document{ID: id, Link: link, Title: "Episode"}); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSweepRemovesExpiredEverywhere(t *testing.T) {
	f := testReaper(t)
	ctx := context.Background()

	old := f.addEpisode(t, "https://example.com/old", time.Now().UTC().Add(-62*24*time.Hour))
	fresh := f.addEpisode(t, "https://example.com/fresh", time.Now().UTC())

	stats, err := f.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Items != 1 || stats.Docs != 1 {
		t.Errorf("stats = %+v, want one item and one doc", stats)
	}

	if _, err := f.cat.GetItem(ctx, old); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("expired catalog row survived: %v", err)
	}
	if _, err := f.docs.Get(ctx, old); !errors.Is(err, docs.ErrNotFound) {
		t.Errorf("expired document survived: %v", err)
	}
	if _, _, err := f.vectors.Lookup(ctx, old); !errors.Is(err, tiered.ErrNotFound) {
		t.Errorf("expired vectors survived: %v", err)
	}

	wantKeys := map[string]bool{}
	for _, k := range models.ItemArtifactPaths(old) {
		wantKeys[k] = false
	}
	for _, k := range f.blobs.deleted {
		if _, ok := wantKeys[k]; ok {
			wantKeys[k] = true
		}
	}
	for k, seen := range wantKeys {
		if !seen {
			t.Errorf("artifact %s not deleted", k)
		}
	}

	if _, err := f.cat.GetItem(ctx, fresh); err != nil {
		t.Errorf("fresh episode reaped: %v", err)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	f := testReaper(t)
	ctx := context.Background()

	f.addEpisode(t, "https://example.com/old", time.Now().UTC().Add(-90*24*time.Hour))
	if _, err := f.reaper.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	stats, err := f.reaper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Items != 0 || stats.Docs != 0 {
		t.Errorf("second sweep removed %+v", stats)
	}
}

func TestSweepDropsEmptyClusters(t *testing.T) {
	f := testReaper(t)
	ctx := context.Background()

	id := f.addEpisode(t, "https://example.com/clustered", time.Now().UTC().Add(-62*24*time.Hour))
	err := f.cat.TagCluster(ctx, &models.Cluster{ID: "c1", TrendingScore: 1, HotScore: 1}, []string{id})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := f.reaper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Clusters != 1 {
		t.Errorf("clusters removed = %d, want 1", stats.Clusters)
	}
}

func TestCleanEmptyRemovesStaleUngenerated(t *testing.T) {
	f := testReaper(t)
	ctx := context.Background()

	stale := f.addEpisode(t, "https://example.com/stale", time.Now().UTC())
	young := f.addEpisode(t, "https://example.com/young", time.Now().UTC())
	generated := f.addEpisode(t, "https://example.com/done", time.Now().UTC())
	err := f.cat.SetGenerated(ctx, &models.ContentResult{
		ID: generated, AudioURL: "audio/" + generated + ".wav", TranscriptURL: "t", DurationSecs: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Backdate the stale row past the enrichment grace window.
	_, err = f.cat.Conn().ExecContext(ctx,
		`UPDATE items SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-48*time.Hour), stale)
	if err != nil {
		t.Fatal(err)
	}

	removed, err := f.reaper.CleanEmpty(ctx)
	if err != nil {
		t.Fatalf("CleanEmpty: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := f.cat.GetItem(ctx, stale); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("stale episode survived: %v", err)
	}
	if _, err := f.cat.GetItem(ctx, young); err != nil {
		t.Errorf("young episode reaped: %v", err)
	}
	if _, err := f.cat.GetItem(ctx, generated); err != nil {
		t.Errorf("generated episode reaped: %v", err)
	}
}

func TestExpiryListenerReclaimsTransitionBlobs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	blobs := &fakeBlobs{}
	listener := NewExpiryListener(rdb, blobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx) }()

	// Publish ignorable events until the pattern subscription lands.
	deadline := time.Now().Add(2 * time.Second)
	for mr.Publish("__keyevent@0__:expired", "unrelated:key") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	key := recommend.TransitionKeyPrefix + "ab"
	shadow := recommend.ShadowKeyPrefix + "ab"
	if err := mr.Set(shadow, `{"audio_url":"tmp/ab.wav","transcript_url":"tmp/ab.lrc"}`); err != nil {
		t.Fatal(err)
	}

	// Simulate the keyspace notification for the expired primary.
	mr.Publish("__keyevent@0__:expired", key)

	deadline = time.Now().Add(2 * time.Second)
	for len(blobs.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("blobs not reclaimed, got %v", blobs.snapshot())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if deleted := blobs.snapshot(); deleted[0] != "tmp/ab.wav" || deleted[1] != "tmp/ab.lrc" {
		t.Errorf("deleted = %v", deleted)
	}

	deadline = time.Now().Add(2 * time.Second)
	for mr.Exists(shadow) {
		if time.Now().After(deadline) {
			t.Fatal("shadow entry not dropped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
}
