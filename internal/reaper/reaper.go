// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package reaper removes episodes that outlived the permanent
// retention window from every store: catalog rows, documents, vector
// horizon rows and blob artifacts. It also reclaims episodes that were
// never enriched and the tmp blobs behind expired transition clips.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

// sweepBatch bounds how many episodes one sweep iteration touches so a
// large backlog cannot hold a single pass open indefinitely.
const sweepBatch = 500

// enrichmentGrace is how long an episode may sit without generated
// audio before CleanEmpty removes it.
const enrichmentGrace = 24 * time.Hour

// BlobDeleter batch-deletes content blobs. Satisfied by blob.Store.
type BlobDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) (int, error)
}

// Stats summarizes one sweep.
type Stats struct {
	Items    int
	Docs     int
	Blobs    int
	Vectors  int
	Clusters int
}

// Reaper runs the retention sweep.
type Reaper struct {
	cat     *catalog.DB
	vectors *tiered.Store
	docs    *docs.Store
	blobs   BlobDeleter
	cfg     *config.ReaperConfig
	retain  time.Duration
	log     zerolog.Logger
}

func New(cat *catalog.DB, vectors *tiered.Store, documents *docs.Store,
	blobs BlobDeleter, cfg *config.ReaperConfig, storeTime time.Duration) *Reaper {
	return &Reaper{
		cat:     cat,
		vectors: vectors,
		docs:    documents,
		blobs:   blobs,
		cfg:     cfg,
		retain:  storeTime,
		log:     logging.WithComponent("reaper"),
	}
}

// Sweep removes everything past retention. Episodes are deleted in
// batches, blob artifacts first so a partial failure leaves re-sweepable
// catalog rows rather than orphaned blobs.
func (r *Reaper) Sweep(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() {
		metrics.ReaperSweepDuration.Observe(time.Since(start).Seconds())
	}()

	var stats Stats
	cutoff := time.Now().UTC().Add(-(r.retain + r.cfg.BufferTime))
	for {
		items, err := r.cat.ListExpired(ctx, cutoff, sweepBatch)
		if err != nil {
			return stats, fmt.Errorf("listing expired episodes: %w", err)
		}
		if len(items) == 0 {
			break
		}
		if err := r.reapBatch(ctx, items, &stats); err != nil {
			return stats, err
		}
	}

	evicted, err := r.vectors.EvictExpired(ctx, time.Now().UTC().Add(-r.retain))
	if err != nil {
		return stats, fmt.Errorf("evicting permanent vectors: %w", err)
	}
	stats.Vectors += evicted

	clusters, err := r.cat.DeleteEmptyClusters(ctx)
	if err != nil {
		return stats, fmt.Errorf("deleting empty clusters: %w", err)
	}
	stats.Clusters = clusters

	r.log.Info().
		Int("items", stats.Items).
		Int("docs", stats.Docs).
		Int("blobs", stats.Blobs).
		Int("vectors", stats.Vectors).
		Int("clusters", stats.Clusters).
		Dur("elapsed", time.Since(start)).
		Msg("sweep complete")
	return stats, nil
}

func (r *Reaper) reapBatch(ctx context.Context, items []*models.Item, stats *Stats) error {
	ids := make([]string, 0, len(items))
	keys := make([]string, 0, len(items)*3)
	for _, it := range items {
		ids = append(ids, it.ID)
		keys = append(keys, models.ItemArtifactPaths(it.ID)...)
	}

	blobs, err := r.blobs.DeleteBatch(ctx, keys)
	if err != nil {
		return fmt.Errorf("deleting blob artifacts: %w", err)
	}
	stats.Blobs += blobs

	removedDocs, err := r.docs.DeleteMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	stats.Docs += removedDocs

	if err := r.vectors.Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}

	removed, err := r.cat.DeleteItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("deleting catalog rows: %w", err)
	}
	stats.Items += removed
	metrics.ReaperDeletions.WithLabelValues("catalog").Add(float64(removed))
	return nil
}

// CleanEmpty removes episodes that never received generated audio
// within the enrichment grace window. They were crawled but no worker
// ever completed them, so nothing references their artifacts.
func (r *Reaper) CleanEmpty(ctx context.Context) (int, error) {
	items, err := r.cat.Ungenerated(ctx, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("listing ungenerated episodes: %w", err)
	}
	deadline := time.Now().UTC().Add(-enrichmentGrace)
	stale := items[:0]
	for _, it := range items {
		if it.CreatedAt.Before(deadline) {
			stale = append(stale, it)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	var stats Stats
	if err := r.reapBatch(ctx, stale, &stats); err != nil {
		return stats.Items, err
	}
	r.log.Info().Int("items", stats.Items).Msg("removed never-enriched episodes")
	return stats.Items, nil
}
