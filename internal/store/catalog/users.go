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

// EnsureProfile creates an empty profile row for the user if none
// exists.
func (db *DB) EnsureProfile(ctx context.Context, userID string) error {
	// The daily clock starts at profile creation so the first daily
	// recompute fires one day in.
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, last_daily_update)
		VALUES (?, CURRENT_TIMESTAMP) ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return fmt.Errorf("ensuring profile: %w", err)
	}
	return nil
}

// GetProfile returns a user's full profile including accumulators.
func (db *DB) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	var realtime, prevday, batch, daily string
	var lastDaily sql.NullTime

	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id,
			COALESCE(to_json(realtime_embedding)::TEXT, ''),
			COALESCE(to_json(prevday_embedding)::TEXT, ''),
			COALESCE(to_json(batch_embedding)::TEXT, ''),
			batch_total_weight, batch_count,
			COALESCE(to_json(daily_embedding)::TEXT, ''),
			daily_total_weight, daily_listen_count,
			last_daily_update
		FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &realtime, &prevday, &batch,
			&p.BatchTotalWeight, &p.BatchCount,
			&daily, &p.DailyTotalWeight, &p.DailyListenCount, &lastDaily)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}

	if p.Realtime, err = scanVector(realtime); err != nil {
		return nil, err
	}
	if p.PrevDay, err = scanVector(prevday); err != nil {
		return nil, err
	}
	if p.Batch, err = scanVector(batch); err != nil {
		return nil, err
	}
	if p.Daily, err = scanVector(daily); err != nil {
		return nil, err
	}
	if lastDaily.Valid {
		t := lastDaily.Time
		p.LastDailyUpdate = &t
	}
	return &p, nil
}

// AccumulateBatch folds a weighted activity vector into the batch
// accumulator and returns the new batch count.
func (db *DB) AccumulateBatch(ctx context.Context, userID string, sum []float32, weight float64) (int, error) {
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE user_profiles SET
			batch_embedding = %s,
			batch_total_weight = batch_total_weight + ?,
			batch_count = batch_count + 1
		WHERE user_id = ?`, VectorLiteral(sum)),
		weight, userID)
	if err != nil {
		return 0, fmt.Errorf("accumulating batch vector: %w", err)
	}
	if err := requireRow(result); err != nil {
		return 0, err
	}

	var count int
	err = db.conn.QueryRowContext(ctx,
		`SELECT batch_count FROM user_profiles WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("reading batch count: %w", err)
	}
	return count, nil
}

// AccumulateDaily folds a weighted activity vector into the daily
// accumulator and returns the last daily recompute time, nil when the
// profile never recomputed.
func (db *DB) AccumulateDaily(ctx context.Context, userID string, sum []float32, weight float64) (*time.Time, error) {
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE user_profiles SET
			daily_embedding = %s,
			daily_total_weight = daily_total_weight + ?,
			daily_listen_count = daily_listen_count + 1
		WHERE user_id = ?`, VectorLiteral(sum)),
		weight, userID)
	if err != nil {
		return nil, fmt.Errorf("accumulating daily vector: %w", err)
	}
	if err := requireRow(result); err != nil {
		return nil, err
	}

	var last sql.NullTime
	err = db.conn.QueryRowContext(ctx,
		`SELECT last_daily_update FROM user_profiles WHERE user_id = ?`, userID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("reading last daily update: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// SetRealtime stores the recomputed realtime vector and clears the
// batch accumulator in one statement.
func (db *DB) SetRealtime(ctx context.Context, userID string, realtime, zero []float32) error {
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE user_profiles SET
			realtime_embedding = %s,
			batch_embedding = %s,
			batch_total_weight = 0,
			batch_count = 0
		WHERE user_id = ?`, VectorLiteral(realtime), VectorLiteral(zero)),
		userID)
	if err != nil {
		return fmt.Errorf("setting realtime vector: %w", err)
	}
	return requireRow(result)
}

// SetPrevDay stores the recomputed previous-day vector, clears the
// daily accumulator and stamps the recompute time.
func (db *DB) SetPrevDay(ctx context.Context, userID string, prevday, zero []float32) error {
	result, err := db.conn.ExecContext(ctx,
		fmt.Sprintf(`UPDATE user_profiles SET
			prevday_embedding = %s,
			daily_embedding = %s,
			daily_total_weight = 0,
			daily_listen_count = 0,
			last_daily_update = CURRENT_TIMESTAMP
		WHERE user_id = ?`, VectorLiteral(prevday), VectorLiteral(zero)),
		userID)
	if err != nil {
		return fmt.Errorf("setting prevday vector: %w", err)
	}
	return requireRow(result)
}

// LastDailyUpdate returns when the user's daily vector last
// recomputed, nil if never.
func (db *DB) LastDailyUpdate(ctx context.Context, userID string) (*time.Time, error) {
	var last sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT last_daily_update FROM user_profiles WHERE user_id = ?`, userID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying last daily update: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time
	return &t, nil
}

// RecordListen upserts a listening-history row. A replay increments
// play_count and folds the new counters in.
func (db *DB) RecordListen(ctx context.Context, h *models.HistoryEntry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO listening_history (
			user_id, item_id, listen_duration_seconds, stop_position_seconds,
			share_count, download_count, add_to_playlist, rating, play_count,
			completed, hidden, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, item_id) DO UPDATE SET
			listen_duration_seconds = listening_history.listen_duration_seconds + excluded.listen_duration_seconds,
			stop_position_seconds = excluded.stop_position_seconds,
			share_count = listening_history.share_count + excluded.share_count,
			download_count = listening_history.download_count + excluded.download_count,
			add_to_playlist = listening_history.add_to_playlist + excluded.add_to_playlist,
			rating = excluded.rating,
			play_count = listening_history.play_count + 1,
			completed = listening_history.completed OR excluded.completed,
			updated_at = CURRENT_TIMESTAMP`,
		h.UserID, h.ItemID,
		int(h.ListenDuration.Seconds()), int(h.StopPosition.Seconds()),
		h.ShareCount, h.DownloadCount, h.AddToPlaylist, h.Rating,
		h.Completed, h.Hidden)
	if err != nil {
		return fmt.Errorf("recording listen: %w", err)
	}
	return nil
}

// History returns a user's listening-history rows for the given
// episodes, or the most recent rows when ids is empty.
func (db *DB) History(ctx context.Context, userID string, ids []string, limit int) ([]*models.HistoryEntry, error) {
	query := `SELECT user_id, item_id, listen_duration_seconds, stop_position_seconds,
		share_count, download_count, add_to_playlist, rating, play_count,
		completed, hidden, updated_at
	FROM listening_history WHERE user_id = ?`
	args := []any{userID}

	if len(ids) > 0 {
		query += ` AND item_id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var listenSecs, stopSecs int
		if err := rows.Scan(&h.UserID, &h.ItemID, &listenSecs, &stopSecs,
			&h.ShareCount, &h.DownloadCount, &h.AddToPlaylist, &h.Rating, &h.PlayCount,
			&h.Completed, &h.Hidden, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.ListenDuration = time.Duration(listenSecs) * time.Second
		h.StopPosition = time.Duration(stopSecs) * time.Second
		out = append(out, &h)
	}
	return out, rows.Err()
}

// ListenedItemIDs returns episode IDs the user already heard, for
// exclusion filters on recommendation queries.
func (db *DB) ListenedItemIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT item_id FROM listening_history WHERE user_id = ?
		ORDER BY updated_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying listened items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordSearch appends a query to the user's search history.
func (db *DB) RecordSearch(ctx context.Context, userID, query string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO search_history (user_id, query) VALUES (?, ?)`, userID, query)
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	return nil
}
