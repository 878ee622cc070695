// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package ingest turns episode submissions into playable catalog
// entries: a relational row, a source document, vectors in the hourly
// horizon, a corroboration tag, and dispatched audio and cover-art
// generation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/dispatch"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
)

// Submission is one episode handed to the pipeline, typically by a
// crawler publishing on the ingest subject.
type Submission struct {
	Link        string   `json:"link" validate:"required,url"`
	Title       string   `json:"title" validate:"required"`
	Summary     string   `json:"summary,omitempty"`
	Lang        string   `json:"lang,omitempty"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`

	// Content is the long-form source text the script is generated
	// from.
	Content []string `json:"content,omitempty"`

	PublishedAt time.Time `json:"published_at,omitempty"`
}

// Sender dispatches a generation task and blocks for the reply.
// Satisfied by dispatch.Dispatcher.
type Sender interface {
	SendJSON(ctx context.Context, queue string, payload *models.TaskPayload, out any) error
}

// Embedder resolves text to a dense vector. Satisfied by
// dispatch.Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tagger assigns an episode to a corroboration cluster. Satisfied by
// trending.Tagger.
type Tagger interface {
	Tag(ctx context.Context, itemID string) (*models.Cluster, error)
}

// Pipeline persists and enriches submitted episodes.
type Pipeline struct {
	cat      *catalog.DB
	vectors  *tiered.Store
	docs     *docs.Store
	sender   Sender
	embedder Embedder
	tagger   Tagger
	queues   *config.DispatchConfig
	log      zerolog.Logger
}

func New(cat *catalog.DB, vectors *tiered.Store, documents *docs.Store,
	sender Sender, embedder Embedder, tagger Tagger, queues *config.DispatchConfig) *Pipeline {
	return &Pipeline{
		cat:      cat,
		vectors:  vectors,
		docs:     documents,
		sender:   sender,
		embedder: embedder,
		tagger:   tagger,
		queues:   queues,
		log:      logging.WithComponent("ingest"),
	}
}

// Submit runs one episode through the pipeline and returns its catalog
// ID. Resubmitting a link is safe: an already generated episode is a
// no-op, an ungenerated one resumes enrichment. A generation already
// running elsewhere leaves the episode ungenerated for a later retry.
func (p *Pipeline) Submit(ctx context.Context, sub *Submission) (string, error) {
	publishedAt := sub.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now().UTC()
	}

	item := &models.Item{
		Link:        sub.Link,
		Title:       sub.Title,
		Summary:     sub.Summary,
		Lang:        sub.Lang,
		Category:    sub.Category,
		Subcategory: sub.Subcategory,
		Keywords:    sub.Keywords,
		PublishedAt: publishedAt,
	}
	id, created, err := p.cat.CreateItem(ctx, item)
	if err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("creating item: %w", err)
	}
	item.ID = id

	if !created {
		existing, err := p.cat.GetItem(ctx, id)
		if err != nil {
			return "", fmt.Errorf("loading existing item: %w", err)
		}
		if existing.AudioURL != "" {
			metrics.IngestTotal.WithLabelValues("duplicate").Inc()
			p.log.Debug().Str("item_id", id).Str("link", sub.Link).Msg("episode already ingested")
			return id, nil
		}
		// Fall through and resume the interrupted enrichment.
	}

	if err := p.docs.Put(ctx, &docs.Document{
		ID:          id,
		Link:        sub.Link,
		Title:       sub.Title,
		Content:     sub.Content,
		Keywords:    sub.Keywords,
		PublishedAt: publishedAt,
	}); err != nil {
		return "", fmt.Errorf("storing document: %w", err)
	}

	if err := p.index(ctx, id, sub, publishedAt); err != nil {
		return "", err
	}

	// Corroboration scoring is advisory; a failed pass never blocks
	// the episode.
	if _, err := p.tagger.Tag(ctx, id); err != nil {
		p.log.Warn().Err(err).Str("item_id", id).Msg("cluster tagging failed")
	}

	if err := p.enrich(ctx, item, sub); err != nil {
		if errors.Is(err, dispatch.ErrInFlight) {
			metrics.IngestTotal.WithLabelValues("in_flight").Inc()
			p.log.Info().Str("item_id", id).Msg("generation already in flight")
			return id, nil
		}
		metrics.IngestTotal.WithLabelValues("error").Inc()
		return "", err
	}

	metrics.IngestTotal.WithLabelValues("created").Inc()
	return id, nil
}

// index embeds the episode text and writes both vectors to the hourly
// horizon.
func (p *Pipeline) index(ctx context.Context, id string, sub *Submission, publishedAt time.Time) error {
	textVec, err := p.embedder.Embed(ctx, sub.Title)
	if err != nil {
		return fmt.Errorf("embedding title: %w", err)
	}
	contentText := sub.Summary
	if len(sub.Content) > 0 {
		contentText = strings.Join(sub.Content, "\n")
	}
	if contentText == "" {
		contentText = sub.Title
	}
	vec, err := p.embedder.Embed(ctx, contentText)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}
	if err := p.vectors.Upsert(ctx, models.HorizonHourly, &models.Embedding{
		ItemID:      id,
		Vector:      vec,
		TextVector:  textVec,
		Category:    sub.Category,
		Subcategory: sub.Subcategory,
		PublishedAt: publishedAt,
	}); err != nil {
		return fmt.Errorf("indexing vectors: %w", err)
	}
	return nil
}

// enrich dispatches script/audio generation and cover art, recording
// the artifact references as workers reply. Cover art is optional;
// its failure only logs.
func (p *Pipeline) enrich(ctx context.Context, item *models.Item, sub *Submission) error {
	payload := models.PayloadFromItem(item)
	payload.Content = sub.Content

	var content models.ContentResult
	if err := p.sender.SendJSON(ctx, p.queues.ContentQueue, payload, &content); err != nil {
		return fmt.Errorf("content generation for %s: %w", item.ID, err)
	}
	if content.AudioURL == "" || content.TranscriptURL == "" {
		return fmt.Errorf("content worker returned incomplete result for %s", item.ID)
	}
	content.ID = item.ID
	if err := p.cat.SetGenerated(ctx, &content); err != nil {
		return fmt.Errorf("recording generated artifacts: %w", err)
	}
	if content.TranscriptText != "" {
		if err := p.docs.SetTranscript(ctx, item.ID, content.TranscriptText); err != nil {
			p.log.Warn().Err(err).Str("item_id", item.ID).Msg("transcript text not stored")
		}
	}

	var image models.ImageResult
	if err := p.sender.SendJSON(ctx, p.queues.ImageQueue, payload, &image); err != nil {
		p.log.Warn().Err(err).Str("item_id", item.ID).Msg("cover image generation failed")
		return nil
	}
	if image.CoverImageURL == "" {
		return nil
	}
	if err := p.cat.SetCoverImage(ctx, item.ID, image.CoverImageURL); err != nil {
		p.log.Warn().Err(err).Str("item_id", item.ID).Msg("cover image not recorded")
	}
	return nil
}
