// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
)

const testDim = 4

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{Path: "", MaxMemory: "512MB"}, testDim)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testItem(link string) *models.Item {
	return &models.Item{
		Link:        link,
		Title:       "Test Episode",
		Summary:     "A short summary",
		Category:    "tech",
		Subcategory: "ai",
		Keywords:    []string{"go", "testing"},
		PublishedAt: time.Now().UTC(),
	}
}

func TestCreateItemIdempotentOnLink(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id1, created, err := db.CreateItem(ctx, testItem("https://example.com/a"))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !created {
		t.Error("first create should report created=true")
	}

	id2, created, err := db.CreateItem(ctx, testItem("https://example.com/a"))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Error("duplicate link should report created=false")
	}
	if id1 != id2 {
		t.Errorf("duplicate link returned different ID: %s vs %s", id1, id2)
	}
}

func TestCreateItemConcurrentWritersAgreeOnID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const writers = 8
	ids := make([]string, writers)
	createdCount := int32(0)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, created, err := db.CreateItem(ctx, testItem("https://example.com/raced"))
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			ids[i] = id
			if created {
				atomic.AddInt32(&createdCount, 1)
			}
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&createdCount); n != 1 {
		t.Errorf("%d writers reported created=true, want 1", n)
	}
	for i := 1; i < writers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("writer %d got ID %s, writer 0 got %s", i, ids[i], ids[0])
		}
	}
	// Every returned ID must resolve to the persisted row.
	it, err := db.GetItem(ctx, ids[0])
	if err != nil {
		t.Fatalf("returned ID not cataloged: %v", err)
	}
	if it.Link != "https://example.com/raced" {
		t.Errorf("row link = %s", it.Link)
	}
}

func TestGetItemRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	want := testItem("https://example.com/roundtrip")
	id, _, err := db.CreateItem(ctx, want)
	if err != nil {
		t.Fatal(err)
	}

	got, err := db.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got.Link != want.Link || got.Title != want.Title || got.Category != want.Category {
		t.Errorf("item fields mismatch: got %+v", got)
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "go" {
		t.Errorf("keywords not preserved: %v", got.Keywords)
	}

	if _, err := db.GetItem(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing item: got %v, want ErrNotFound", err)
	}
}

func TestSetGeneratedAndUngenerated(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, _, err := db.CreateItem(ctx, testItem("https://example.com/gen"))
	if err != nil {
		t.Fatal(err)
	}

	pending, err := db.Ungenerated(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("expected one ungenerated item, got %d", len(pending))
	}

	err = db.SetGenerated(ctx, &models.ContentResult{
		ID:            id,
		AudioURL:      "audio/" + id + ".wav",
		TranscriptURL: "transcript/" + id + ".lrc",
		DurationSecs:  321,
	})
	if err != nil {
		t.Fatalf("SetGenerated: %v", err)
	}

	pending, err = db.Ungenerated(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("generated item still listed as pending")
	}

	it, err := db.GetItem(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !it.Generated() || it.DurationSecs != 321 {
		t.Errorf("generated data not stored: %+v", it)
	}

	if err := db.SetGenerated(ctx, &models.ContentResult{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing item update: got %v, want ErrNotFound", err)
	}
}

func TestRate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, _, err := db.CreateItem(ctx, testItem("https://example.com/rate"))
	if err != nil {
		t.Fatal(err)
	}

	// like, then flip to dislike, then retract
	if err := db.Rate(ctx, id, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := db.Rate(ctx, id, 1, -1); err != nil {
		t.Fatal(err)
	}
	if err := db.Rate(ctx, id, -1, 0); err != nil {
		t.Fatal(err)
	}

	it, err := db.GetItem(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if it.PositiveRating != 0 || it.NegativeRating != 0 || it.TotalRating != 0 {
		t.Errorf("ratings after retract = %d/%d/%d, want 0/0/0",
			it.PositiveRating, it.NegativeRating, it.TotalRating)
	}
}

func TestTagClusterAndQuery(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var ids []string
	for _, link := range []string{"https://a.com/1", "https://b.com/1", "https://c.com/1"} {
		it := testItem(link)
		id, _, err := db.CreateItem(ctx, it)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.SetGenerated(ctx, &models.ContentResult{
			ID: id, AudioURL: "audio/" + id + ".wav", TranscriptURL: "t", DurationSecs: 1,
		}); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	now := time.Now().UTC()
	cluster := &models.Cluster{
		ID: "cluster-1", Hot: true, Trending: false,
		HotScore: 2, TrendingScore: 3, HotTime: &now,
	}
	if err := db.TagCluster(ctx, cluster, ids); err != nil {
		t.Fatalf("TagCluster: %v", err)
	}

	got, err := db.GetCluster(ctx, "cluster-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Hot || got.HotScore != 2 || got.HotTime == nil {
		t.Errorf("cluster not stored: %+v", got)
	}

	cid, links, err := db.ClusterMemberships(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if cid != "cluster-1" {
		t.Errorf("membership cluster = %q, want cluster-1", cid)
	}
	if len(links) != 3 {
		t.Errorf("got %d links, want 3", len(links))
	}

	hot, err := db.HotTrendingItems(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hot) != 3 {
		t.Errorf("got %d hot items, want 3", len(hot))
	}
}

func TestDeleteEmptyClusters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id, _, err := db.CreateItem(ctx, testItem("https://example.com/dc"))
	if err != nil {
		t.Fatal(err)
	}
	cluster := &models.Cluster{ID: "cluster-gone", TrendingScore: 1}
	if err := db.TagCluster(ctx, cluster, []string{id}); err != nil {
		t.Fatal(err)
	}

	// Referenced cluster survives.
	n, err := db.DeleteEmptyClusters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("deleted %d clusters, want 0 while referenced", n)
	}

	if _, err := db.DeleteItems(ctx, []string{id}); err != nil {
		t.Fatal(err)
	}
	n, err = db.DeleteEmptyClusters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d clusters, want 1 after item removal", n)
	}
}

func TestProfileAccumulateAndRecompute(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	const user = "u1"

	if err := db.EnsureProfile(ctx, user); err != nil {
		t.Fatal(err)
	}
	// Ensuring twice is a no-op.
	if err := db.EnsureProfile(ctx, user); err != nil {
		t.Fatal(err)
	}

	sum := []float32{1, 2, 3, 4}
	count, err := db.AccumulateBatch(ctx, user, sum, 1.5)
	if err != nil {
		t.Fatalf("AccumulateBatch: %v", err)
	}
	if count != 1 {
		t.Errorf("batch count = %d, want 1", count)
	}

	p, err := db.GetProfile(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if p.BatchTotalWeight != 1.5 || p.BatchCount != 1 {
		t.Errorf("accumulator state = %g/%d, want 1.5/1", p.BatchTotalWeight, p.BatchCount)
	}
	if len(p.Batch) != testDim || p.Batch[2] != 3 {
		t.Errorf("batch vector not stored: %v", p.Batch)
	}

	zero := make([]float32, testDim)
	realtime := []float32{0.5, 0.5, 0.5, 0.5}
	if err := db.SetRealtime(ctx, user, realtime, zero); err != nil {
		t.Fatalf("SetRealtime: %v", err)
	}

	p, err = db.GetProfile(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if p.BatchTotalWeight != 0 || p.BatchCount != 0 {
		t.Errorf("batch accumulator not cleared: %g/%d", p.BatchTotalWeight, p.BatchCount)
	}
	if p.Realtime[0] != 0.5 {
		t.Errorf("realtime vector not stored: %v", p.Realtime)
	}

	// The daily clock starts at profile creation.
	if p.LastDailyUpdate == nil {
		t.Error("fresh profile should carry a creation-time daily stamp")
	}
	if _, err := db.AccumulateDaily(ctx, user, sum, 1.0); err != nil {
		t.Fatal(err)
	}
	if err := db.SetPrevDay(ctx, user, realtime, zero); err != nil {
		t.Fatal(err)
	}
	last, err := db.LastDailyUpdate(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil {
		t.Error("last daily update not stamped")
	}
}

func TestRecordListenReplayIncrementsPlayCount(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	entry := &models.HistoryEntry{
		UserID:         "u1",
		ItemID:         "ep1",
		ListenDuration: 100 * time.Second,
		StopPosition:   100 * time.Second,
		ShareCount:     1,
		Completed:      true,
	}
	if err := db.RecordListen(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordListen(ctx, entry); err != nil {
		t.Fatal(err)
	}

	rows, err := db.History(ctx, "u1", []string{"ep1"}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d history rows, want 1", len(rows))
	}
	h := rows[0]
	if h.PlayCount != 2 {
		t.Errorf("play count = %d, want 2", h.PlayCount)
	}
	if h.ListenDuration != 200*time.Second {
		t.Errorf("listen duration = %s, want 200s", h.ListenDuration)
	}
	if h.ShareCount != 2 {
		t.Errorf("share count = %d, want 2", h.ShareCount)
	}

	ids, err := db.ListenedItemIDs(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "ep1" {
		t.Errorf("listened IDs = %v, want [ep1]", ids)
	}
}

func TestListExpired(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := testItem("https://example.com/old")
	old.PublishedAt = time.Now().UTC().Add(-72 * time.Hour)
	oldID, _, err := db.CreateItem(ctx, old)
	if err != nil {
		t.Fatal(err)
	}
	fresh := testItem("https://example.com/fresh")
	if _, _, err := db.CreateItem(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	expired, err := db.ListExpired(ctx, time.Now().UTC().Add(-24*time.Hour), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].ID != oldID {
		t.Errorf("expired = %d rows, want only the old item", len(expired))
	}
}
