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

	"github.com/google/uuid"

	"github.com/ashmorgan/briefwave/internal/models"
)

const itemColumns = `id, link, title, summary, lang, country, region, city,
	category, subcategory, COALESCE(to_json(keywords)::TEXT, ''), COALESCE(cluster_id, ''),
	audio_url, transcript_url, cover_image_url, duration_seconds,
	positive_rating, negative_rating, total_rating,
	published_at, created_at, modify_at`

// CreateItem inserts an episode if its link is not already cataloged.
// The link is the de-duplication key across ingest sources; a repeat
// insert returns the existing row's ID and created=false.
func (db *DB) CreateItem(ctx context.Context, it *models.Item) (string, bool, error) {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if it.PublishedAt.IsZero() {
		it.PublishedAt = now
	}

	query := fmt.Sprintf(`INSERT INTO items (
		id, link, title, summary, lang, country, region, city,
		category, subcategory, keywords, cluster_id,
		audio_url, transcript_url, cover_image_url, duration_seconds,
		published_at, created_at, modify_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, %s, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (link) DO NOTHING
	RETURNING id`, textListLiteral(it.Keywords))

	var id string
	err := db.conn.QueryRowContext(ctx, query,
		it.ID, it.Link, it.Title, it.Summary, it.Lang, it.Country, it.Region, it.City,
		it.Category, it.Subcategory, it.ClusterID,
		it.AudioURL, it.TranscriptURL, it.CoverImageURL, it.DurationSecs,
		it.PublishedAt.UTC(), now, now).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case errors.Is(err, sql.ErrNoRows):
		// The link is already cataloged; return the winner's ID, never
		// the one minted above.
		var existing string
		if serr := db.conn.QueryRowContext(ctx,
			`SELECT id FROM items WHERE link = ?`, it.Link).Scan(&existing); serr != nil {
			return "", false, fmt.Errorf("resolving existing link: %w", serr)
		}
		return existing, false, nil
	default:
		return "", false, fmt.Errorf("inserting item: %w", err)
	}
}

// GetItem returns a single episode by ID.
func (db *DB) GetItem(ctx context.Context, id string) (*models.Item, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// GetItemByLink returns the episode cataloged under the given link.
func (db *DB) GetItemByLink(ctx context.Context, link string) (*models.Item, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE link = ?`, link)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

// GetItems returns the episodes for the given IDs, preserving the
// input order. Missing IDs are skipped.
func (db *DB) GetItems(ctx context.Context, ids []string) ([]*models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*models.Item, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.Item, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// SetGenerated records a content worker's result on the catalog row.
func (db *DB) SetGenerated(ctx context.Context, res *models.ContentResult) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE items SET audio_url = ?, transcript_url = ?, duration_seconds = ?,
			modify_at = CURRENT_TIMESTAMP WHERE id = ?`,
		res.AudioURL, res.TranscriptURL, res.DurationSecs, res.ID)
	if err != nil {
		return fmt.Errorf("updating generated data: %w", err)
	}
	return requireRow(result)
}

// SetCoverImage records an image worker's result.
func (db *DB) SetCoverImage(ctx context.Context, id, coverImageURL string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE items SET cover_image_url = ?, modify_at = CURRENT_TIMESTAMP WHERE id = ?`,
		coverImageURL, id)
	if err != nil {
		return fmt.Errorf("updating cover image: %w", err)
	}
	return requireRow(result)
}

// Rate adjusts an episode's rating counters. delta is +1 for a like,
// -1 for a dislike and 0 to retract a prior vote; prior carries the
// vote being replaced so counters stay consistent.
func (db *DB) Rate(ctx context.Context, id string, prior, delta int) error {
	posDelta, negDelta, totalDelta := 0, 0, 0
	if prior == 1 {
		posDelta--
		totalDelta--
	} else if prior == -1 {
		negDelta--
		totalDelta--
	}
	if delta == 1 {
		posDelta++
		totalDelta++
	} else if delta == -1 {
		negDelta++
		totalDelta++
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE items SET positive_rating = positive_rating + ?,
			negative_rating = negative_rating + ?,
			total_rating = total_rating + ?,
			modify_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		posDelta, negDelta, totalDelta, id)
	if err != nil {
		return fmt.Errorf("updating rating: %w", err)
	}
	return requireRow(result)
}

// ListExpired returns episodes whose publish time predates the cutoff.
// The reaper uses the result to delete catalog rows, documents and
// blob artifacts together.
func (db *DB) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]*models.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE published_at < ? ORDER BY published_at LIMIT ?`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying expired items: %w", err)
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

// DeleteItems removes catalog rows by ID and returns the count.
func (db *DB) DeleteItems(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting items: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Ungenerated returns episodes missing their audio artifact, oldest
// first. The generation scheduler drains this set.
func (db *DB) Ungenerated(ctx context.Context, limit int) ([]*models.Item, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE audio_url = '' ORDER BY published_at LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("querying ungenerated items: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var it models.Item
	var keywordsJSON string
	if err := row.Scan(
		&it.ID, &it.Link, &it.Title, &it.Summary, &it.Lang, &it.Country, &it.Region, &it.City,
		&it.Category, &it.Subcategory, &keywordsJSON, &it.ClusterID,
		&it.AudioURL, &it.TranscriptURL, &it.CoverImageURL, &it.DurationSecs,
		&it.PositiveRating, &it.NegativeRating, &it.TotalRating,
		&it.PublishedAt, &it.CreatedAt, &it.ModifiedAt,
	); err != nil {
		return nil, err
	}
	keywords, err := scanTextList(keywordsJSON)
	if err != nil {
		return nil, err
	}
	it.Keywords = keywords
	return &it, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
