// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashmorgan/briefwave/internal/models"
)

// GetCluster returns a cluster by ID.
func (db *DB) GetCluster(ctx context.Context, cid string) (*models.Cluster, error) {
	var c models.Cluster
	var hotTime, trendingTime sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT cid, hot, trending, hot_score, trending_score, hot_time, trending_time
		FROM clusters WHERE cid = ?`, cid).
		Scan(&c.ID, &c.Hot, &c.Trending, &c.HotScore, &c.TrendingScore, &hotTime, &trendingTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cluster: %w", err)
	}
	if hotTime.Valid {
		c.HotTime = &hotTime.Time
	}
	if trendingTime.Valid {
		c.TrendingTime = &trendingTime.Time
	}
	return &c, nil
}

// ClusterMemberships returns the (clusterID, link) pairs of the given
// episodes that already belong to a cluster. The trending tagger uses
// the first hit to decide between reusing and minting a cluster.
func (db *DB) ClusterMemberships(ctx context.Context, ids []string) (clusterID string, links []string, err error) {
	if len(ids) == 0 {
		return "", nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT COALESCE(cluster_id, ''), link FROM items
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return "", nil, fmt.Errorf("querying cluster memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid, link string
		if err := rows.Scan(&cid, &link); err != nil {
			return "", nil, err
		}
		if clusterID == "" && cid != "" {
			clusterID = cid
		}
		links = append(links, link)
	}
	return clusterID, links, rows.Err()
}

// TagCluster upserts a cluster's scores and flags and assigns every
// listed episode to it, in a single transaction.
func (db *DB) TagCluster(ctx context.Context, c *models.Cluster, itemIDs []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tag transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hotTime, trendingTime any
	if c.HotTime != nil {
		hotTime = c.HotTime.UTC()
	}
	if c.TrendingTime != nil {
		trendingTime = c.TrendingTime.UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO clusters (cid, hot, trending, hot_score, trending_score, hot_time, trending_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cid) DO UPDATE SET
			hot = excluded.hot,
			trending = excluded.trending,
			hot_score = excluded.hot_score,
			trending_score = excluded.trending_score,
			hot_time = excluded.hot_time,
			trending_time = excluded.trending_time`,
		c.ID, c.Hot, c.Trending, c.HotScore, c.TrendingScore, hotTime, trendingTime)
	if err != nil {
		return fmt.Errorf("upserting cluster: %w", err)
	}

	for _, id := range itemIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET cluster_id = ? WHERE id = ?`, c.ID, id); err != nil {
			return fmt.Errorf("assigning item %s to cluster: %w", id, err)
		}
	}
	return tx.Commit()
}

// HotTrendingItems returns generated episodes whose cluster carries
// the hot or trending flag, most recent first.
func (db *DB) HotTrendingItems(ctx context.Context, since time.Time, limit int) ([]*models.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+prefixedItemColumns("i")+`
		FROM items i
		JOIN clusters c ON i.cluster_id = c.cid
		WHERE (c.hot OR c.trending) AND i.published_at >= ? AND i.audio_url <> ''
		ORDER BY c.hot DESC, c.trending_score DESC, i.published_at DESC
		LIMIT ?`,
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying hot and trending items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteEmptyClusters removes clusters no episode references anymore
// and returns the count. The reaper runs this after item deletion.
func (db *DB) DeleteEmptyClusters(ctx context.Context) (int, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM clusters WHERE cid NOT IN (
			SELECT DISTINCT cluster_id FROM items WHERE cluster_id IS NOT NULL
		)`)
	if err != nil {
		return 0, fmt.Errorf("deleting empty clusters: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// prefixedItemColumns is itemColumns with every column qualified by
// the given table alias, for joined queries.
func prefixedItemColumns(alias string) string {
	return fmt.Sprintf(`%[1]s.id, %[1]s.link, %[1]s.title, %[1]s.summary, %[1]s.lang,
	%[1]s.country, %[1]s.region, %[1]s.city, %[1]s.category, %[1]s.subcategory,
	COALESCE(to_json(%[1]s.keywords)::TEXT, ''), COALESCE(%[1]s.cluster_id, ''),
	%[1]s.audio_url, %[1]s.transcript_url, %[1]s.cover_image_url, %[1]s.duration_seconds,
	%[1]s.positive_rating, %[1]s.negative_rating, %[1]s.total_rating,
	%[1]s.published_at, %[1]s.created_at, %[1]s.modify_at`, alias)
}
