// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

// Embedder turns free text into a dense vector. Search queries go
// through it; episode embeddings come from the tiered store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Aggregator folds activity events into user profiles.
type Aggregator struct {
	cat      *catalog.DB
	vectors  *tiered.Store
	embedder Embedder
	cfg      *config.PreferenceConfig
	dim      int
}

// New creates an Aggregator.
func New(cat *catalog.DB, vectors *tiered.Store, embedder Embedder, cfg *config.PreferenceConfig) *Aggregator {
	return &Aggregator{
		cat:      cat,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
		dim:      cat.Dim(),
	}
}

// RecordActivity folds one listening session into the user's profile
// and appends it to listening history. Events for episodes with no
// stored embedding are dropped.
func (a *Aggregator) RecordActivity(ctx context.Context, ev *models.ActivityEvent) error {
	emb, _, err := a.vectors.Lookup(ctx, ev.ItemID)
	if errors.Is(err, tiered.ErrNotFound) {
		logger := logging.WithComponent("preference")
		logger.Debug().
			Str("item", ev.ItemID).Msg("Dropping activity for unknown episode")
		return nil
	}
	if err != nil {
		return fmt.Errorf("preference: looking up episode vector: %w", err)
	}

	if err := a.cat.EnsureProfile(ctx, ev.UserID); err != nil {
		return err
	}

	// Replay count comes from history before this event lands.
	replay := 1
	history, err := a.cat.History(ctx, ev.UserID, []string{ev.ItemID}, 1)
	if err != nil {
		return err
	}
	if len(history) > 0 && !history[0].Hidden {
		replay = history[0].PlayCount + 1
	}

	weight := eventWeight(ev, replay, a.cfg.MaxWeight)
	if err := a.contribute(ctx, ev.UserID, emb.Vector, weight); err != nil {
		return err
	}

	entry := &models.HistoryEntry{
		UserID:         ev.UserID,
		ItemID:         ev.ItemID,
		ListenDuration: ev.ListenDuration,
		StopPosition:   ev.StopPosition,
		Rating:         ev.Rating,
		Completed:      ev.Completeness() >= 0.9,
	}
	for _, action := range ev.Actions {
		switch action {
		case models.ActivityShare:
			entry.ShareCount = 1
		case models.ActivityDownload:
			entry.DownloadCount = 1
		case models.ActivityAddToPlaylist:
			entry.AddToPlaylist = 1
		}
		metrics.ActivityEventsTotal.WithLabelValues(string(action)).Inc()
	}
	metrics.ActivityEventsTotal.WithLabelValues("listen").Inc()

	return a.cat.RecordListen(ctx, entry)
}

// RecordSearch embeds the query, folds it into the profile with the
// search weight and appends it to search history.
func (a *Aggregator) RecordSearch(ctx context.Context, userID, query string) error {
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("preference: embedding search query: %w", err)
	}
	if err := a.cat.EnsureProfile(ctx, userID); err != nil {
		return err
	}
	if err := a.cat.RecordSearch(ctx, userID, query); err != nil {
		return err
	}
	metrics.ActivityEventsTotal.WithLabelValues(string(models.ActivitySearch)).Inc()
	return a.contribute(ctx, userID, vec, actionWeights[models.ActivitySearch])
}

// contribute folds a weighted vector into both accumulators and runs
// whichever recompute became due.
func (a *Aggregator) contribute(ctx context.Context, userID string, vec []float32, weight float64) error {
	profile, err := a.cat.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	weighted := scaled(vec, weight)

	batchSum := add(profile.Batch, weighted)
	count, err := a.cat.AccumulateBatch(ctx, userID, batchSum, weight)
	if err != nil {
		return err
	}
	if count >= a.cfg.BatchSize {
		if err := a.recomputeRealtime(ctx, userID); err != nil {
			return err
		}
	}

	dailySum := add(profile.Daily, weighted)
	lastUpdate, err := a.cat.AccumulateDaily(ctx, userID, dailySum, weight)
	if err != nil {
		return err
	}
	if lastUpdate != nil && time.Since(*lastUpdate) > 24*time.Hour {
		return a.recomputeDaily(ctx, userID)
	}
	return nil
}

// recomputeRealtime blends the batch mean into the realtime vector and
// resets the accumulator.
func (a *Aggregator) recomputeRealtime(ctx context.Context, userID string) error {
	profile, err := a.cat.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	batchMean := mean(profile.Batch, profile.BatchTotalWeight, a.dim)
	realtime := blend(profile.Realtime, batchMean, a.cfg.RealtimeKeep, a.cfg.RealtimeBlend)

	if err := a.cat.SetRealtime(ctx, userID, realtime, make([]float32, a.dim)); err != nil {
		return err
	}
	metrics.PreferenceRecomputes.WithLabelValues("realtime").Inc()
	logger := logging.WithComponent("preference")
	logger.Debug().
		Str("user", userID).Msg("Recomputed realtime vector")
	return nil
}

// recomputeDaily blends the daily mean into the previous-day vector,
// resets the accumulator and stamps the recompute time.
func (a *Aggregator) recomputeDaily(ctx context.Context, userID string) error {
	profile, err := a.cat.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	dailyMean := mean(profile.Daily, profile.DailyTotalWeight, a.dim)
	prevDay := blend(profile.PrevDay, dailyMean, a.cfg.DailyKeep, a.cfg.DailyBlend)

	if err := a.cat.SetPrevDay(ctx, userID, prevDay, make([]float32, a.dim)); err != nil {
		return err
	}
	metrics.PreferenceRecomputes.WithLabelValues("daily").Inc()
	logger := logging.WithComponent("preference")
	logger.Debug().
		Str("user", userID).Msg("Recomputed daily vector")
	return nil
}

// Rate applies a like, dislike or retraction to an episode and folds
// the corresponding signal into the profile.
func (a *Aggregator) Rate(ctx context.Context, userID, itemID string, prior, vote int) error {
	if err := a.cat.Rate(ctx, itemID, prior, vote); err != nil {
		return err
	}

	emb, _, err := a.vectors.Lookup(ctx, itemID)
	if errors.Is(err, tiered.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var kind models.ActivityKind
	switch vote {
	case 1:
		kind = models.ActivityLike
	case -1:
		kind = models.ActivityDislike
	default:
		return nil
	}
	metrics.ActivityEventsTotal.WithLabelValues(string(kind)).Inc()

	if err := a.cat.EnsureProfile(ctx, userID); err != nil {
		return err
	}
	return a.contribute(ctx, userID, emb.Vector, actionWeights[kind])
}
