// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package recommend implements the personalized read paths: similarity
// ranked episode feeds, per-user daily brief assembly and cached
// transition clips between consecutive episodes.
package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

var (
	// ErrNoPreferences means the user has no interest vector yet, so
	// nothing can be ranked for them.
	ErrNoPreferences = errors.New("recommend: no preference vector for user")

	// ErrNoCandidates means no unheard episodes matched the user's
	// preference vector.
	ErrNoCandidates = errors.New("recommend: no candidate episodes")
)

// exclusionWindow bounds how much listening history is folded into the
// exclusion filter of a single query.
const exclusionWindow = 500

// Sender dispatches a generation task and decodes the worker reply.
// Satisfied by dispatch.Dispatcher.
type Sender interface {
	SendJSON(ctx context.Context, queue string, payload *models.TaskPayload, out any) error
}

// ArtifactRemover deletes a user-scoped blob by key. Satisfied by
// blob.Store; used for compensating deletes when brief persistence
// fails after the worker already uploaded artifacts.
type ArtifactRemover interface {
	DeleteUser(ctx context.Context, key string) error
}

// Recommender serves the personalized read paths.
type Recommender struct {
	cat     *catalog.DB
	vectors *tiered.Store
	docs    *docs.Store
	rdb     *redis.Client
	sender  Sender
	blobs   ArtifactRemover
	cfg     *config.RecommendConfig
	queues  *config.DispatchConfig
	log     zerolog.Logger
}

func New(cat *catalog.DB, vectors *tiered.Store, documents *docs.Store,
	rdb *redis.Client, sender Sender, blobs ArtifactRemover,
	cfg *config.RecommendConfig, queues *config.DispatchConfig) *Recommender {
	return &Recommender{
		cat:     cat,
		vectors: vectors,
		docs:    documents,
		rdb:     rdb,
		sender:  sender,
		blobs:   blobs,
		cfg:     cfg,
		queues:  queues,
		log:     logging.WithComponent("recommend"),
	}
}

// ForUser ranks unheard episodes against the user's realtime vector,
// falling back to the previous-day vector for users whose batch has
// never filled. A limit of zero uses the configured default.
func (r *Recommender) ForUser(ctx context.Context, userID string, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	profile, err := r.cat.GetProfile(ctx, userID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrNoPreferences
	}
	if err != nil {
		return nil, err
	}
	query := profile.Realtime
	if query == nil {
		query = profile.PrevDay
	}
	if query == nil {
		return nil, ErrNoPreferences
	}
	return r.search(ctx, userID, query, limit, nil)
}

// Related ranks episodes similar to the given one, skipping the user's
// listening history and the episode itself.
func (r *Recommender) Related(ctx context.Context, userID, itemID string, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = r.cfg.Limit
	}
	emb, _, err := r.vectors.Lookup(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("looking up episode %s: %w", itemID, err)
	}
	return r.search(ctx, userID, emb.Vector, limit, []string{itemID})
}

// search runs a similarity scan over the hourly, daily and weekly
// horizons minus the user's history and resolves the hits to catalog
// rows, preserving score order.
func (r *Recommender) search(ctx context.Context, userID string, query []float32, limit int, exclude []string) ([]*models.Item, error) {
	heard, err := r.cat.ListenedItemIDs(ctx, userID, exclusionWindow)
	if err != nil {
		return nil, fmt.Errorf("loading listening history: %w", err)
	}
	matches, err := r.vectors.Search(ctx, query, tiered.SearchOptions{
		Horizons: []models.Horizon{models.HorizonHourly, models.HorizonDaily, models.HorizonWeekly},
		Exclude:  append(heard, exclude...),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ItemID)
	}
	return r.cat.GetItems(ctx, ids)
}
