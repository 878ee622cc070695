// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/preference"
	"github.com/ashmorgan/briefwave/internal/recommend"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
	"github.com/ashmorgan/briefwave/internal/trending"
)

const testDim = 4

type fakeSender struct{}

func (fakeSender) SendJSON(_ context.Context, _ string, _ *models.TaskPayload, _ any) error {
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type fixture struct {
	nc  *nats.Conn
	cat *catalog.DB
}

func testResponder(t *testing.T) *fixture {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)

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

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rec := recommend.New(cat, vectors, documents, rdb, fakeSender{}, nil,
		&config.RecommendConfig{Limit: 10, BriefItems: 3, TransitionTTL: 24 * time.Hour, ShadowGrace: 4 * time.Hour},
		&config.DispatchConfig{TransitionQueue: "transition_task_queue", BriefQueue: "daily_brief_task_queue"})
	tagger := trending.New(cat, vectors, &config.TrendingConfig{
		Threshold: 0.7, HotScore: 2, TrendingScore: 4, SearchLimit: 50,
		TrustedDomains: []string{"reuters.com", "apnews.com"},
	})
	aggregator := preference.New(cat, vectors, fakeEmbedder{}, &config.PreferenceConfig{
		BatchSize: 10, RealtimeKeep: 0.9, RealtimeBlend: 0.1,
		DailyKeep: 0.8, DailyBlend: 0.2, MaxWeight: 3.0,
	})

	responder := NewResponder(nc, rec, tagger, aggregator)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = responder.Run(ctx) }()

	return &fixture{nc: nc, cat: cat}
}

// request retries until the responder's subscriptions are live.
func request[T any](t *testing.T, nc *nats.Conn, subject string, req any) *T {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		msg, err := nc.Request(subject, body, 500*time.Millisecond)
		if err == nil {
			var resp T
			if err := json.Unmarshal(msg.Data, &resp); err != nil {
				t.Fatalf("unmarshaling reply: %v", err)
			}
			return &resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("request on %s never answered: %v", subject, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func addGeneratedItem(t *testing.T, cat *catalog.DB, link string) string {
	t.Helper()
	ctx := context.Background()
	id, _, err := cat.CreateItem(ctx, &models.Item{Link: link, Title: link, PublishedAt: time.Now().UTC()})
	if err != nil {
		t.Fatal(err)
	}
	err = cat.SetGenerated(ctx, &models.ContentResult{
		ID:            id,
		AudioURL:      "audio/" + id + ".wav",
		TranscriptURL: "transcript/" + id + ".lrc",
		DurationSecs:  60,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestForUserColdStartFallsBackToHot(t *testing.T) {
	f := testResponder(t)
	ctx := context.Background()

	id1 := addGeneratedItem(t, f.cat, "https://reuters.com/a")
	id2 := addGeneratedItem(t, f.cat, "https://apnews.com/b")
	now := time.Now().UTC()
	cluster := &models.Cluster{ID: "c1", Hot: true, HotScore: 2, HotTime: &now}
	if err := f.cat.TagCluster(ctx, cluster, []string{id1, id2}); err != nil {
		t.Fatal(err)
	}

	resp := request[ItemsResponse](t, f.nc, SubjectForUser, &FeedRequest{UserID: "newcomer"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if len(resp.Items) != 2 {
		t.Errorf("cold-start feed returned %d items, want 2 hot episodes", len(resp.Items))
	}
}

func TestMalformedRequestGetsErrorReply(t *testing.T) {
	f := testResponder(t)

	// Probe with a valid request first so the error probe below cannot
	// race subscription setup.
	_ = request[ItemsResponse](t, f.nc, SubjectHot, &HotRequest{})

	msg, err := f.nc.Request(SubjectForUser, []byte("{nope"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var resp ItemsResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "malformed request" {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestRateUpdatesRatings(t *testing.T) {
	f := testResponder(t)
	id := addGeneratedItem(t, f.cat, "https://reuters.com/rated")

	resp := request[AckResponse](t, f.nc, SubjectRate, &RateRequest{
		UserID: "u1", ItemID: id, Prior: 0, Vote: 1,
	})
	if resp.Error != "" {
		t.Fatalf("rate failed: %s", resp.Error)
	}

	item, err := f.cat.GetItem(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if item.PositiveRating != 1 {
		t.Errorf("positive rating = %d, want 1", item.PositiveRating)
	}
}

func TestSearchRecordsPreferenceSignal(t *testing.T) {
	f := testResponder(t)

	resp := request[AckResponse](t, f.nc, SubjectSearch, &SearchRequest{
		UserID: "u1", Query: "deep sea mining",
	})
	if resp.Error != "" {
		t.Fatalf("search failed: %s", resp.Error)
	}
}
