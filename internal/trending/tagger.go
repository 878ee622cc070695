// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package trending tags clusters of corroborated episodes as hot or
// trending.
//
// When an episode is ingested, its title-text vector is compared
// against the fresh horizons (hourly and daily). Episodes whose text
// vectors sit within the similarity threshold are treated as coverage
// of the same story. Corroboration is counted in distinct base
// domains, so five articles syndicated from one outlet count once:
// the trending score counts every distinct domain, the hot score only
// domains on the trusted allow-list.
package trending

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

// Tagger clusters corroborating episodes and maintains their flags.
type Tagger struct {
	cat     *catalog.DB
	vectors *tiered.Store
	cfg     *config.TrendingConfig
	trusted map[string]struct{}
}

// New creates a Tagger.
func New(cat *catalog.DB, vectors *tiered.Store, cfg *config.TrendingConfig) *Tagger {
	return &Tagger{
		cat:     cat,
		vectors: vectors,
		cfg:     cfg,
		trusted: trustedSet(cfg.TrustedDomains),
	}
}

// Tag runs the corroboration pass for a newly ingested episode and
// returns the cluster it landed in, or nil when the episode has no
// stored text vector. Single-member clusters are recorded too so a
// later arrival can join them.
func (t *Tagger) Tag(ctx context.Context, itemID string) (*models.Cluster, error) {
	emb, _, err := t.vectors.Lookup(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("trending: looking up episode vector: %w", err)
	}

	// Radius search over the fresh horizons only; older coverage no
	// longer drives trending.
	matches, err := t.vectors.Search(ctx, emb.TextVector, tiered.SearchOptions{
		Horizons:   []models.Horizon{models.HorizonHourly, models.HorizonDaily},
		TextVector: true,
		MinScore:   t.cfg.Threshold,
		Limit:      t.cfg.SearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("trending: searching neighbors: %w", err)
	}

	memberIDs := make([]string, 0, len(matches)+1)
	seen := map[string]struct{}{}
	for _, m := range matches {
		memberIDs = append(memberIDs, m.ItemID)
		seen[m.ItemID] = struct{}{}
	}
	if _, ok := seen[itemID]; !ok {
		memberIDs = append(memberIDs, itemID)
	}

	existingCluster, links, err := t.cat.ClusterMemberships(ctx, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("trending: reading memberships: %w", err)
	}

	hotScore, trendingScore := t.score(links)

	cluster := &models.Cluster{
		ID:            existingCluster,
		HotScore:      hotScore,
		TrendingScore: trendingScore,
		Hot:           hotScore >= t.cfg.HotScore,
		Trending:      trendingScore >= t.cfg.TrendingScore,
	}
	if cluster.ID == "" {
		cluster.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if cluster.Hot {
		cluster.HotTime = &now
	}
	if cluster.Trending {
		cluster.TrendingTime = &now
	}

	if err := t.cat.TagCluster(ctx, cluster, memberIDs); err != nil {
		return nil, fmt.Errorf("trending: tagging cluster: %w", err)
	}

	result := "cold"
	if cluster.Hot {
		result = "hot"
	} else if cluster.Trending {
		result = "trending"
	}
	metrics.ClusterTagsTotal.WithLabelValues(result).Inc()
	metrics.ClusterMembers.Observe(float64(len(memberIDs)))

	if cluster.Hot || cluster.Trending {
		logger := logging.WithComponent("trending")
		logger.Info().
			Str("cluster", cluster.ID).
			Int("members", len(memberIDs)).
			Int("hot_score", hotScore).
			Int("trending_score", trendingScore).
			Msg("Cluster tagged")
	}
	return cluster, nil
}

// score counts distinct base domains across the member links. Every
// distinct domain raises the trending score; only trusted domains
// raise the hot score.
func (t *Tagger) score(links []string) (hotScore, trendingScore int) {
	domains := make(map[string]struct{}, len(links))
	for _, link := range links {
		base := baseDomain(link)
		if base == "" {
			continue
		}
		if _, dup := domains[base]; dup {
			continue
		}
		domains[base] = struct{}{}
		trendingScore++
		if isTrusted(t.trusted, base) {
			hotScore++
		}
	}
	return hotScore, trendingScore
}

// HotTrending returns recently published episodes whose cluster is
// flagged, hottest first.
func (t *Tagger) HotTrending(ctx context.Context, window time.Duration, limit int) ([]*models.Item, error) {
	return t.cat.HotTrendingItems(ctx, time.Now().UTC().Add(-window), limit)
}
