// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package config loads and validates the Briefwave configuration.
//
// Configuration is resolved in three layers, later layers overriding
// earlier ones:
//
//  1. Struct defaults (DefaultConfig)
//  2. An optional YAML file (config.yaml, /etc/briefwave/config.yaml,
//     or the path named by CONFIG_PATH)
//  3. Environment variables prefixed BRIEFWAVE_ with __ as the nesting
//     separator (BRIEFWAVE_REDIS__ADDR → redis.addr)
//
// The configuration is read once at process start; there is no hot
// reload.
package config

import (
	"time"
)

// Config is the root configuration for the Briefwave backend.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	Redis      RedisConfig      `koanf:"redis"`
	Blob       BlobConfig       `koanf:"blob"`
	Docs       DocsConfig       `koanf:"docs"`
	Horizons   HorizonsConfig   `koanf:"horizons"`
	Preference PreferenceConfig `koanf:"preference"`
	Trending   TrendingConfig   `koanf:"trending"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Recommend  RecommendConfig  `koanf:"recommend"`
	Reaper     ReaperConfig     `koanf:"reaper"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the
	// endpoint.
	Addr string `koanf:"addr"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// DatabaseConfig configures the embedded DuckDB store that backs both
// the relational tables and the vector horizon tables.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `koanf:"path"`

	// Threads caps DuckDB worker threads. 0 means NumCPU.
	Threads int `koanf:"threads"`

	// MaxMemory is the DuckDB memory limit, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`
}

// NATSConfig configures the dispatch and event transport.
type NATSConfig struct {
	URL string `koanf:"url"`

	// StreamName is the JetStream stream carrying activity events.
	StreamName string `koanf:"stream_name"`

	// ActivitySubject is the subject activity events are published on.
	ActivitySubject string `koanf:"activity_subject"`

	// IngestSubject is the subject new episode submissions arrive on.
	IngestSubject string `koanf:"ingest_subject"`

	// QueueGroup is the consumer queue group for activity handlers.
	QueueGroup string `koanf:"queue_group"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// RedisConfig configures the shared in-flight set and the transition
// result cache. Keyspace notifications must be enabled ("Ex") for the
// shadow-expiry reclamation path.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// BlobConfig configures the S3-compatible object store holding audio,
// transcript and image artifacts. Endpoint may point at MinIO.
type BlobConfig struct {
	Endpoint      string `koanf:"endpoint"`
	Region        string `koanf:"region"`
	AccessKey     string `koanf:"access_key"`
	SecretKey     string `koanf:"secret_key"`
	ContentBucket string `koanf:"content_bucket"`
	UserBucket    string `koanf:"user_bucket"`
	UsePathStyle  bool   `koanf:"use_path_style"`
}

// DocsConfig configures the Badger document store.
type DocsConfig struct {
	// Path is the Badger directory. Empty means in-memory (tests).
	Path string `koanf:"path"`
}

// HorizonsConfig sets the retention window of each vector horizon and
// the cadence of the promotion passes that migrate items coarseward.
type HorizonsConfig struct {
	// Dimension is the embedding vector length.
	Dimension int `koanf:"dimension"`

	HourlyTTL time.Duration `koanf:"hourly_ttl"`
	DailyTTL  time.Duration `koanf:"daily_ttl"`
	WeeklyTTL time.Duration `koanf:"weekly_ttl"`

	// StoreTime is the absolute retention of the permanent horizon.
	StoreTime time.Duration `koanf:"store_time"`

	HourlyPromoteEvery time.Duration `koanf:"hourly_promote_every"`
	DailyPromoteEvery  time.Duration `koanf:"daily_promote_every"`
	WeeklyPromoteEvery time.Duration `koanf:"weekly_promote_every"`

	// FlushEvery is the checkpoint cadence for the fine horizons.
	FlushEvery time.Duration `koanf:"flush_every"`
}

// PreferenceConfig tunes the per-user interest vector maintenance.
type PreferenceConfig struct {
	// BatchSize is the activity count that triggers a realtime
	// recompute.
	BatchSize int `koanf:"batch_size"`

	// RealtimeKeep and RealtimeBlend are the EMA weights for the
	// realtime vector: new = keep*prev + blend*batchMean.
	RealtimeKeep  float64 `koanf:"realtime_keep"`
	RealtimeBlend float64 `koanf:"realtime_blend"`

	// DailyKeep and DailyBlend are the EMA weights for the daily
	// vector.
	DailyKeep  float64 `koanf:"daily_keep"`
	DailyBlend float64 `koanf:"daily_blend"`

	// MaxWeight clamps a single activity's derived weight.
	MaxWeight float64 `koanf:"max_weight"`
}

// TrendingConfig tunes cross-source corroboration tagging.
type TrendingConfig struct {
	// Threshold is the minimum cosine similarity for a text-vector
	// match to join a cluster.
	Threshold float64 `koanf:"threshold"`

	// HotScore and TrendingScore are the distinct-domain counts at
	// which a cluster is marked hot / trending.
	HotScore      int `koanf:"hot_score"`
	TrendingScore int `koanf:"trending_score"`

	// SearchLimit bounds the per-horizon neighbor scan.
	SearchLimit int `koanf:"search_limit"`

	// TrustedDomains is the allow-list of high-trust base domains
	// contributing to the hot score.
	TrustedDomains []string `koanf:"trusted_domains"`
}

// DispatchConfig tunes the task dispatcher.
type DispatchConfig struct {
	// RequestTimeout bounds the blocking wait for a worker reply.
	// Zero blocks until the request context is done.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// StreamName is the JetStream work-queue stream carrying the task
	// queues.
	StreamName string `koanf:"stream_name"`

	ImageQueue      string `koanf:"image_queue"`
	ContentQueue    string `koanf:"content_queue"`
	TransitionQueue string `koanf:"transition_queue"`
	BriefQueue      string `koanf:"brief_queue"`
	EmbedQueue      string `koanf:"embed_queue"`
}

// Queues lists the task queue subjects.
func (c *DispatchConfig) Queues() []string {
	return []string{c.ContentQueue, c.ImageQueue, c.TransitionQueue, c.BriefQueue, c.EmbedQueue}
}

// RecommendConfig tunes the personalized read paths.
type RecommendConfig struct {
	// Limit caps a recommendation result set.
	Limit int `koanf:"limit"`

	// BriefItems is the number of episodes stitched into a daily brief.
	BriefItems int `koanf:"brief_items"`

	// TransitionTTL is the lifetime of a cached transition clip. The
	// shadow entry outlives it by ShadowGrace so the expiry listener
	// can still resolve the clip's blob keys after the primary is gone.
	TransitionTTL time.Duration `koanf:"transition_ttl"`
	ShadowGrace   time.Duration `koanf:"shadow_grace"`
}

// ReaperConfig tunes TTL-driven cleanup.
type ReaperConfig struct {
	// Interval is the sweep cadence.
	Interval time.Duration `koanf:"interval"`

	// BufferTime is added to the store time before a row is eligible
	// for deletion, so blob references outlive their vector rows.
	BufferTime time.Duration `koanf:"buffer_time"`
}

// DefaultConfig returns a Config with production defaults. These match
// the reference deployment: 768-dim vectors, 1h/24h/7d horizon TTLs,
// 60-day permanent retention, batch size 10, 0.9/0.1 and 0.8/0.2
// blends, hot >= 2 and trending >= 4.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			Path:      "briefwave.db",
			Threads:   0,
			MaxMemory: "2GB",
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			StreamName:      "BRIEFWAVE_ACTIVITY",
			ActivitySubject: "activity.events",
			IngestSubject:   "catalog.submitted",
			QueueGroup:      "briefwave",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Blob: BlobConfig{
			Endpoint:      "http://localhost:9000",
			Region:        "us-east-1",
			ContentBucket: "briefwave",
			UserBucket:    "briefwaveuser",
			UsePathStyle:  true,
		},
		Docs: DocsConfig{
			Path: "docs-store",
		},
		Horizons: HorizonsConfig{
			Dimension:          768,
			HourlyTTL:          time.Hour,
			DailyTTL:           24 * time.Hour,
			WeeklyTTL:          7 * 24 * time.Hour,
			StoreTime:          60 * 24 * time.Hour,
			HourlyPromoteEvery: time.Hour,
			DailyPromoteEvery:  24 * time.Hour,
			WeeklyPromoteEvery: 24 * time.Hour,
			FlushEvery:         30 * time.Second,
		},
		Preference: PreferenceConfig{
			BatchSize:     10,
			RealtimeKeep:  0.9,
			RealtimeBlend: 0.1,
			DailyKeep:     0.8,
			DailyBlend:    0.2,
			MaxWeight:     3.0,
		},
		Trending: TrendingConfig{
			Threshold:     0.7,
			HotScore:      2,
			TrendingScore: 4,
			SearchLimit:   50,
			TrustedDomains: []string{
				"reuters.com", "apnews.com", "cnn.com", "bbc.com",
				"nytimes.com", "wsj.com", "cnbc.com", "ft.com",
				"theguardian.com", "washingtonpost.com", "scmp.com",
				"news.cn", "cbc.ca", "forbes.com",
			},
		},
		Dispatch: DispatchConfig{
			RequestTimeout:  2 * time.Minute,
			StreamName:      "BRIEFWAVE_TASKS",
			ImageQueue:      "image_task_queue",
			ContentQueue:    "content_task_queue",
			TransitionQueue: "transition_task_queue",
			BriefQueue:      "daily_brief_task_queue",
			EmbedQueue:      "embed_task_queue",
		},
		Recommend: RecommendConfig{
			Limit:         10,
			BriefItems:    5,
			TransitionTTL: 24 * time.Hour,
			ShadowGrace:   4 * time.Hour,
		},
		Reaper: ReaperConfig{
			Interval:   24 * time.Hour,
			BufferTime: 24 * time.Hour,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}
