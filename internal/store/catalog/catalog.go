// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package catalog implements the relational episode catalog on DuckDB.
//
// The catalog is the source of truth for episode identity, artifact
// references, cluster tags, user profiles and listening history. The
// vector horizons (package tiered) share the same DuckDB connection;
// the document store (package docs) and blob store (package blob) hold
// bodies and binaries keyed by catalog IDs.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// DB wraps the DuckDB connection and provides catalog access methods.
type DB struct {
	conn *sql.DB
	dim  int
}

// Open opens (or creates) the DuckDB database and initializes the
// catalog schema. Callers own the returned DB and must Close it.
func Open(cfg *config.DatabaseConfig, dim int) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	} else {
		dbDir := filepath.Dir(path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("creating database directory %s: %w", dbDir, err)
			}
		}
	}

	// Auto-install/auto-load stays off so startup cannot hang on a
	// network fetch in restricted environments.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		path, numThreads, cfg.MaxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// DuckDB is embedded; a small pool avoids write contention.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	db := &DB{conn: conn, dim: dim}
	if err := db.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	logger := logging.WithComponent("catalog")
	logger.Info().
		Str("path", path).
		Int("threads", numThreads).
		Msg("Catalog database opened")
	return db, nil
}

// Conn returns the underlying connection. The tiered vector store
// shares it so promotions and catalog updates can join transactions.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Dim returns the embedding dimension the schema was created with.
func (db *DB) Dim() int {
	return db.dim
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range db.tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("executing query: %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			link TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			summary TEXT,
			lang TEXT,
			country TEXT,
			region TEXT,
			city TEXT,
			category TEXT,
			subcategory TEXT,
			keywords TEXT[],
			cluster_id TEXT,
			audio_url TEXT DEFAULT '',
			transcript_url TEXT DEFAULT '',
			cover_image_url TEXT DEFAULT '',
			duration_seconds INTEGER DEFAULT 0,
			positive_rating INTEGER DEFAULT 0,
			negative_rating INTEGER DEFAULT 0,
			total_rating INTEGER DEFAULT 0,
			published_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			modify_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS clusters (
			cid TEXT PRIMARY KEY,
			hot BOOLEAN DEFAULT FALSE,
			trending BOOLEAN DEFAULT FALSE,
			hot_score INTEGER DEFAULT 0,
			trending_score INTEGER DEFAULT 0,
			hot_time TIMESTAMP,
			trending_time TIMESTAMP
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			realtime_embedding FLOAT[%d],
			prevday_embedding FLOAT[%d],
			batch_embedding FLOAT[%d],
			batch_total_weight FLOAT DEFAULT 0,
			batch_count INTEGER DEFAULT 0,
			daily_embedding FLOAT[%d],
			daily_total_weight FLOAT DEFAULT 0,
			daily_listen_count INTEGER DEFAULT 0,
			last_daily_update TIMESTAMP
		)`, db.dim, db.dim, db.dim, db.dim),

		`CREATE TABLE IF NOT EXISTS listening_history (
			user_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			listen_duration_seconds INTEGER DEFAULT 0,
			stop_position_seconds INTEGER DEFAULT 0,
			share_count INTEGER DEFAULT 0,
			download_count INTEGER DEFAULT 0,
			add_to_playlist INTEGER DEFAULT 0,
			rating INTEGER DEFAULT 0,
			play_count INTEGER DEFAULT 1,
			completed BOOLEAN DEFAULT FALSE,
			hidden BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, item_id)
		)`,

		`CREATE TABLE IF NOT EXISTS search_history (
			user_id TEXT NOT NULL,
			query TEXT NOT NULL,
			searched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_items_published_at ON items (published_at)`,
		`CREATE INDEX IF NOT EXISTS idx_items_cluster ON items (cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user ON listening_history (user_id)`,
	}
}
