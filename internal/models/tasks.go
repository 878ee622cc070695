// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package models

import (
	"time"
)

// TaskPayload is the envelope dispatched to a generation worker. ID is
// the de-duplication key for the queue; the dispatcher refuses a
// second dispatch while a payload with the same ID is in flight on the
// same queue. Embeddings never ride the wire.
type TaskPayload struct {
	ID          string   `json:"id" validate:"required"`
	Link        string   `json:"link,omitempty"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	// Content is the long-form body for script generation tasks. On
	// transition tasks it carries the two episode scripts to bridge.
	Content []string `json:"content,omitempty"`

	// UserID is set on per-user tasks (daily briefs, transitions).
	UserID string `json:"user_id,omitempty"`

	// SourceIDs are the episodes feeding an assembly task.
	SourceIDs []string `json:"ids,omitempty"`

	PublishedAt time.Time `json:"published_at,omitempty"`
}

// PayloadFromItem builds a dispatchable envelope from an episode.
func PayloadFromItem(it *Item) *TaskPayload {
	return &TaskPayload{
		ID:          it.ID,
		Link:        it.Link,
		Title:       it.Title,
		Summary:     it.Summary,
		Lang:        it.Lang,
		Category:    it.Category,
		Subcategory: it.Subcategory,
		Keywords:    it.Keywords,
		PublishedAt: it.PublishedAt,
	}
}

// ContentResult is a worker's reply to a content generation task.
type ContentResult struct {
	ID             string `json:"id"`
	AudioURL       string `json:"audio_url"`
	TranscriptURL  string `json:"transcript_url"`
	TranscriptText string `json:"transcript_text,omitempty"`
	DurationSecs   int    `json:"duration_seconds"`
}

// ImageResult is a worker's reply to a cover image task.
type ImageResult struct {
	ID            string `json:"id"`
	CoverImageURL string `json:"cover_image_url"`
}

// TransitionResult is the generated bridge audio between two episodes.
type TransitionResult struct {
	FromID        string `json:"from_id"`
	ToID          string `json:"to_id"`
	AudioURL      string `json:"audio_url"`
	TranscriptURL string `json:"transcript_url"`
	DurationSecs  int    `json:"duration_seconds"`
}

// EmbedResult is a worker's reply to a text embedding task.
type EmbedResult struct {
	ID     string    `json:"id"`
	Vector []float32 `json:"vector"`
}

// BriefResult is a worker's reply to a daily brief assembly task.
type BriefResult struct {
	ID             string   `json:"id"`
	UserID         string   `json:"user_id"`
	Title          string   `json:"title"`
	AudioURL       string   `json:"audio_url"`
	TranscriptURL  string   `json:"transcript_url"`
	CoverImageURL  string   `json:"cover_image_url,omitempty"`
	TranscriptText string   `json:"transcript_text,omitempty"`
	Content        []string `json:"content,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	DurationSecs   int      `json:"duration_seconds"`
}
