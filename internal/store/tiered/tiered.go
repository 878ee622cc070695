// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package tiered implements the four-horizon vector store on DuckDB.
//
// Episodes enter the hourly horizon at ingest and migrate coarseward
// as they age: hourly (1h) to daily (24h) to weekly (7d) to permanent.
// Recommendation queries search the fine horizons first so fresh
// content ranks without date filters; the trending tagger runs radius
// searches over hourly and daily only.
//
// The store shares the catalog's DuckDB connection, so a promotion
// pass moves rows between horizons in a single transaction.
package tiered

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
)

// ErrNotFound is returned when an item has no row in any horizon.
var ErrNotFound = errors.New("tiered: not found")

// Store provides access to the horizon tables.
type Store struct {
	conn *sql.DB
	dim  int

	ttl map[models.Horizon]time.Duration
}

// New creates the horizon tables on the shared catalog connection.
func New(cat *catalog.DB, hourlyTTL, dailyTTL, weeklyTTL time.Duration) (*Store, error) {
	s := &Store{
		conn: cat.Conn(),
		dim:  cat.Dim(),
		ttl: map[models.Horizon]time.Duration{
			models.HorizonHourly: hourlyTTL,
			models.HorizonDaily:  dailyTTL,
			models.HorizonWeekly: weeklyTTL,
		},
	}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, h := range models.Horizons() {
		query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			item_id TEXT PRIMARY KEY,
			vector FLOAT[%d] NOT NULL,
			text_vector FLOAT[%d] NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			subcategory TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, tableName(h), s.dim, s.dim)
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("creating %s: %w", tableName(h), err)
		}
	}
	return nil
}

func tableName(h models.Horizon) string {
	return "vectors_" + h.String()
}

// TTL returns the retention window of a promotable horizon.
func (s *Store) TTL(h models.Horizon) time.Duration {
	return s.ttl[h]
}

// Upsert writes an embedding into the given horizon.
func (s *Store) Upsert(ctx context.Context, h models.Horizon, emb *models.Embedding) error {
	if len(emb.Vector) != s.dim || len(emb.TextVector) != s.dim {
		return fmt.Errorf("tiered: vector dimension %d/%d, want %d",
			len(emb.Vector), len(emb.TextVector), s.dim)
	}
	createdAt := emb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (item_id, vector, text_vector, category, subcategory, published_at, created_at)
		VALUES (?, %s, %s, ?, ?, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			vector = excluded.vector,
			text_vector = excluded.text_vector,
			category = excluded.category,
			subcategory = excluded.subcategory,
			published_at = excluded.published_at`,
		tableName(h), catalog.VectorLiteral(emb.Vector), catalog.VectorLiteral(emb.TextVector))

	if _, err := s.conn.ExecContext(ctx, query, emb.ItemID, emb.Category, emb.Subcategory,
		emb.PublishedAt.UTC(), createdAt); err != nil {
		return fmt.Errorf("upserting into %s: %w", tableName(h), err)
	}
	return nil
}

// Lookup returns an item's embedding, checking horizons finest to
// coarsest.
func (s *Store) Lookup(ctx context.Context, itemID string) (*models.Embedding, models.Horizon, error) {
	for _, h := range models.Horizons() {
		query := fmt.Sprintf(`SELECT to_json(vector)::TEXT, to_json(text_vector)::TEXT,
			category, subcategory, published_at, created_at FROM %s WHERE item_id = ?`, tableName(h))

		var vecJSON, textJSON string
		emb := models.Embedding{ItemID: itemID}
		err := s.conn.QueryRowContext(ctx, query, itemID).
			Scan(&vecJSON, &textJSON, &emb.Category, &emb.Subcategory, &emb.PublishedAt, &emb.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, h, fmt.Errorf("looking up %s in %s: %w", itemID, tableName(h), err)
		}
		if emb.Vector, err = decodeVector(vecJSON); err != nil {
			return nil, h, err
		}
		if emb.TextVector, err = decodeVector(textJSON); err != nil {
			return nil, h, err
		}
		return &emb, h, nil
	}
	return nil, models.HorizonPermanent, ErrNotFound
}

// Match is one similarity search hit.
type Match struct {
	ItemID  string
	Score   float64
	Horizon models.Horizon
}

// SearchOptions filter a similarity search.
type SearchOptions struct {
	// Horizons to scan, finest first. Nil means all.
	Horizons []models.Horizon

	// Exclude drops the listed item IDs. The filter runs inside the
	// per-horizon scan, so excluded rows never consume the limit.
	Exclude []string

	// Category and Subcategory restrict matches to the exact value.
	// Empty means no filter.
	Category    string
	Subcategory string

	// MinScore drops hits below the cosine similarity floor.
	MinScore float64

	// TextVector searches the title-text vectors instead of the
	// content vectors.
	TextVector bool

	Limit int
}

// Search runs a cosine similarity scan across the selected horizons
// and returns the union, deduplicated by item ID with the finest
// horizon winning, ordered by score descending.
func (s *Store) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("tiered: query dimension %d, want %d", len(query), s.dim)
	}
	horizons := opts.Horizons
	if horizons == nil {
		horizons = models.Horizons()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	column := "vector"
	if opts.TextVector {
		column = "text_vector"
	}

	var conds []string
	var args []any
	if opts.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.Subcategory != "" {
		conds = append(conds, "subcategory = ?")
		args = append(args, opts.Subcategory)
	}
	if len(opts.Exclude) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Exclude)), ", ")
		conds = append(conds, fmt.Sprintf("item_id NOT IN (%s)", placeholders))
		for _, id := range opts.Exclude {
			args = append(args, id)
		}
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	queryArgs := append(append(make([]any, 0, len(args)+1), args...), limit)

	seen := make(map[string]struct{})
	var matches []Match
	for _, h := range horizons {
		metrics.HorizonSearches.WithLabelValues(h.String()).Inc()

		stmt := fmt.Sprintf(`SELECT item_id,
			array_cosine_similarity(%s, %s) AS score
		FROM %s%s ORDER BY score DESC LIMIT ?`,
			column, catalog.VectorLiteral(query), tableName(h), where)

		rows, err := s.conn.QueryContext(ctx, stmt, queryArgs...)
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", tableName(h), err)
		}
		for rows.Next() {
			var m Match
			if err := rows.Scan(&m.ItemID, &m.Score); err != nil {
				_ = rows.Close()
				return nil, err
			}
			m.Horizon = h
			if _, dup := seen[m.ItemID]; dup {
				continue
			}
			if m.Score < opts.MinScore {
				continue
			}
			seen[m.ItemID] = struct{}{}
			matches = append(matches, m)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// sortMatches orders by score descending with item ID as the
// tie-break so equal scores rank deterministically.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ItemID < matches[j].ItemID
	})
}

// Promote moves rows older than the horizon's TTL into the next
// coarser horizon in a single transaction and returns the count.
func (s *Store) Promote(ctx context.Context, from models.Horizon) (int, error) {
	to, ok := from.Next()
	if !ok {
		return 0, fmt.Errorf("tiered: %s horizon does not promote", from)
	}
	cutoff := time.Now().UTC().Add(-s.ttl[from])

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning promotion: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (item_id, vector, text_vector, category, subcategory, published_at, created_at)
		SELECT item_id, vector, text_vector, category, subcategory, published_at, created_at
		FROM %s WHERE published_at < ?
		ON CONFLICT (item_id) DO UPDATE SET
			vector = excluded.vector,
			text_vector = excluded.text_vector,
			category = excluded.category,
			subcategory = excluded.subcategory,
			published_at = excluded.published_at`,
		tableName(to), tableName(from)), cutoff)
	if err != nil {
		return 0, fmt.Errorf("copying %s to %s: %w", tableName(from), tableName(to), err)
	}
	moved, _ := result.RowsAffected()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE published_at < ?`, tableName(from)), cutoff); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", tableName(from), err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing promotion: %w", err)
	}

	metrics.RecordPromotion(from.String(), to.String(), int(moved))
	if moved > 0 {
		logger := logging.WithComponent("tiered")
		logger.Info().
			Str("from", from.String()).
			Str("to", to.String()).
			Int64("rows", moved).
			Msg("Promoted expired vectors")
	}
	return int(moved), nil
}

// EvictExpired removes permanent-horizon rows older than the cutoff
// and returns the count. The reaper drives this alongside catalog and
// blob cleanup.
func (s *Store) EvictExpired(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE published_at < ?`, tableName(models.HorizonPermanent)),
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("evicting expired vectors: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Delete removes an item's rows from every horizon.
func (s *Store) Delete(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(itemIDs)), ", ")
	args := make([]any, len(itemIDs))
	for i, id := range itemIDs {
		args[i] = id
	}
	for _, h := range models.Horizons() {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE item_id IN (%s)`, tableName(h), placeholders), args...); err != nil {
			return fmt.Errorf("deleting from %s: %w", tableName(h), err)
		}
	}
	return nil
}

// Count returns the row count of a horizon.
func (s *Store) Count(ctx context.Context, h models.Horizon) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableName(h))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", tableName(h), err)
	}
	return n, nil
}

// Flush checkpoints the database so the fine horizons survive an
// unclean shutdown.
func (s *Store) Flush(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `CHECKPOINT`); err != nil {
		return fmt.Errorf("checkpointing: %w", err)
	}
	return nil
}

func decodeVector(raw string) ([]float32, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("decoding vector column: %w", err)
	}
	return vec, nil
}
