// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package models

import (
	"time"
)

// UserProfile holds a user's decayed interest vectors. Realtime moves
// with every full activity batch, PrevDay folds the daily accumulator
// in at most once per day. Batch and Daily are weighted-sum
// accumulators; their means are taken against the tracked total
// weights when the respective recompute fires.
type UserProfile struct {
	UserID string `json:"user_id"`

	Realtime []float32 `json:"realtime_embedding,omitempty"`
	PrevDay  []float32 `json:"prevday_embedding,omitempty"`

	Batch            []float32 `json:"batch_embedding,omitempty"`
	BatchTotalWeight float64   `json:"batch_total_weight"`
	BatchCount       int       `json:"batch_count"`

	Daily            []float32 `json:"daily_embedding,omitempty"`
	DailyTotalWeight float64   `json:"daily_total_weight"`
	DailyListenCount int       `json:"daily_listen_count"`

	LastDailyUpdate *time.Time `json:"last_daily_update,omitempty"`
}

// ActivityKind names a discrete user action.
type ActivityKind string

const (
	ActivityLike          ActivityKind = "like"
	ActivityDislike       ActivityKind = "dislike"
	ActivityShare         ActivityKind = "share"
	ActivityDownload      ActivityKind = "download"
	ActivityAddToPlaylist ActivityKind = "add_to_playlist"
	ActivitySearch        ActivityKind = "search"
	ActivityRating        ActivityKind = "rating"
)

// ActivityEvent is one listening session's worth of signals for a
// single episode, published on the activity subject and consumed by
// the preference aggregator.
type ActivityEvent struct {
	UserID string `json:"user_id" validate:"required"`
	ItemID string `json:"item_id" validate:"required"`

	Actions []ActivityKind `json:"actions,omitempty"`

	ListenDuration time.Duration `json:"listen_duration_seconds"`
	StopPosition   time.Duration `json:"stop_position_seconds"`
	TotalDuration  time.Duration `json:"total_duration_seconds"`

	Rating     int       `json:"rating,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Completeness returns how much of the episode was reached, 0 when the
// duration is unknown.
func (e *ActivityEvent) Completeness() float64 {
	if e.TotalDuration <= 0 {
		return 0
	}
	return float64(e.StopPosition) / float64(e.TotalDuration)
}

// HistoryEntry is one row of a user's listening history.
type HistoryEntry struct {
	UserID         string        `json:"user_id"`
	ItemID         string        `json:"item_id"`
	ListenDuration time.Duration `json:"listen_duration_seconds"`
	StopPosition   time.Duration `json:"stop_position_seconds"`
	ShareCount     int           `json:"share_count"`
	DownloadCount  int           `json:"download_count"`
	AddToPlaylist  int           `json:"add_to_playlist"`
	Rating         int           `json:"rating"`
	PlayCount      int           `json:"play_count"`
	Completed      bool          `json:"completed"`
	Hidden         bool          `json:"hidden"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
