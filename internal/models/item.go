// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package models defines the shared domain types: episodes, clusters,
// user profiles, activity events and the task envelopes exchanged with
// generation workers.
package models

import (
	"time"
)

// Item is an episode. The relational row in the catalog is the source
// of truth for identity and artifact references; the document store
// holds the long-form body and the vector horizons hold the
// embeddings.
type Item struct {
	ID          string   `json:"id"`
	Link        string   `json:"link"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	Country     string   `json:"country,omitempty"`
	Region      string   `json:"region,omitempty"`
	City        string   `json:"city,omitempty"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	// ClusterID links corroborated episodes covering the same story.
	ClusterID string `json:"cluster_id,omitempty"`

	AudioURL      string `json:"audio_url,omitempty"`
	TranscriptURL string `json:"transcript_url,omitempty"`
	CoverImageURL string `json:"cover_image_url,omitempty"`
	DurationSecs  int    `json:"duration_seconds,omitempty"`

	PositiveRating int `json:"positive_rating"`
	NegativeRating int `json:"negative_rating"`
	TotalRating    int `json:"total_rating"`

	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modify_at"`
}

// Generated reports whether the episode's audio artifact exists.
func (it *Item) Generated() bool {
	return it.AudioURL != ""
}

// Embedding carries an episode's dense vectors. Vector encodes the
// full content, TextVector only the title text; the tagger clusters on
// the latter.
type Embedding struct {
	ItemID      string
	Vector      []float32
	TextVector  []float32
	Category    string
	Subcategory string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// Horizon identifies one of the tiered vector stores, ordered finest
// to coarsest.
type Horizon int

const (
	HorizonHourly Horizon = iota
	HorizonDaily
	HorizonWeekly
	HorizonPermanent
)

// String returns the table suffix of the horizon.
func (h Horizon) String() string {
	switch h {
	case HorizonHourly:
		return "hourly"
	case HorizonDaily:
		return "daily"
	case HorizonWeekly:
		return "weekly"
	case HorizonPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Next returns the coarser horizon an expired row promotes into, and
// false for the permanent horizon which never promotes.
func (h Horizon) Next() (Horizon, bool) {
	switch h {
	case HorizonHourly:
		return HorizonDaily, true
	case HorizonDaily:
		return HorizonWeekly, true
	case HorizonWeekly:
		return HorizonPermanent, true
	default:
		return h, false
	}
}

// Horizons lists all horizons finest to coarsest.
func Horizons() []Horizon {
	return []Horizon{HorizonHourly, HorizonDaily, HorizonWeekly, HorizonPermanent}
}

// Cluster groups episodes covering the same story. Hot and Trending
// are set once their distinct-domain scores pass the configured
// thresholds; the timestamps record when each flag was first raised.
type Cluster struct {
	ID            string     `json:"cid"`
	Hot           bool       `json:"hot"`
	Trending      bool       `json:"trending"`
	HotScore      int        `json:"hot_score"`
	TrendingScore int        `json:"trending_score"`
	HotTime       *time.Time `json:"hot_time,omitempty"`
	TrendingTime  *time.Time `json:"trending_time,omitempty"`
}
