// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package recommend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
)

// DailyBrief returns the user's brief for the current day, assembling a
// new one when none exists yet. With force set a fresh brief is always
// assembled.
func (r *Recommender) DailyBrief(ctx context.Context, userID string, force bool) (*models.Item, error) {
	if !force {
		doc, err := r.docs.LatestByOwner(ctx, userID)
		if err != nil && !errors.Is(err, docs.ErrNotFound) {
			return nil, fmt.Errorf("loading latest brief: %w", err)
		}
		if doc != nil && !doc.CreatedAt.Before(startOfDay(time.Now().UTC())) {
			item, err := r.cat.GetItem(ctx, doc.ID)
			if err == nil {
				return item, nil
			}
			if !errors.Is(err, catalog.ErrNotFound) {
				return nil, err
			}
			// Orphaned document; fall through and rebuild.
		}
	}
	return r.assembleBrief(ctx, userID)
}

// assembleBrief picks the top episodes for the user's previous-day
// vector, hands them to the brief worker and persists the resulting
// user episode. The catalog row is written first; the document, the
// brief's own embedding and the hidden history marks follow. A
// document write failure rolls everything back with compensating
// deletes so a half-persisted brief never surfaces.
func (r *Recommender) assembleBrief(ctx context.Context, userID string) (*models.Item, error) {
	profile, err := r.cat.GetProfile(ctx, userID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, ErrNoPreferences
	}
	if err != nil {
		return nil, err
	}
	query := profile.PrevDay
	if query == nil {
		query = profile.Realtime
	}
	if query == nil {
		return nil, ErrNoPreferences
	}

	sources, err := r.search(ctx, userID, query, r.cfg.BriefItems, nil)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, ErrNoCandidates
	}
	ids := make([]string, 0, len(sources))
	keywords := make([]string, 0)
	for _, it := range sources {
		ids = append(ids, it.ID)
		keywords = append(keywords, it.Keywords...)
	}

	var result models.BriefResult
	err = r.sender.SendJSON(ctx, r.queues.BriefQueue, &models.TaskPayload{
		ID:        userID,
		UserID:    userID,
		SourceIDs: ids,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("dispatching brief for %s: %w", userID, err)
	}
	if result.AudioURL == "" || result.TranscriptURL == "" {
		return nil, fmt.Errorf("brief worker returned incomplete artifacts for %s", userID)
	}

	id := result.ID
	if id == "" {
		id = uuid.NewString()
	}
	title := result.Title
	now := time.Now().UTC()
	if title == "" {
		title = "Briefwave Daily " + now.Format("01-02")
	}
	if len(result.Keywords) > 0 {
		keywords = result.Keywords
	}

	item := &models.Item{
		ID:            id,
		Link:          "https://briefwave.app/?episode=" + id,
		Title:         title,
		Category:      "daily",
		Subcategory:   "news",
		Keywords:      keywords,
		AudioURL:      result.AudioURL,
		TranscriptURL: result.TranscriptURL,
		CoverImageURL: result.CoverImageURL,
		DurationSecs:  result.DurationSecs,
		PublishedAt:   now,
	}
	if _, _, err := r.cat.CreateItem(ctx, item); err != nil {
		r.removeArtifacts(&result)
		return nil, fmt.Errorf("persisting brief row: %w", err)
	}

	// Index the brief itself with the mean embedding of its sources so
	// it participates in related-episode lookups.
	if emb := r.meanEmbedding(ctx, ids); emb != nil {
		upsertErr := r.vectors.Upsert(ctx, models.HorizonHourly, &models.Embedding{
			ItemID:      id,
			Vector:      emb,
			TextVector:  emb,
			PublishedAt: now,
		})
		if upsertErr != nil {
			r.log.Warn().Err(upsertErr).Str("item_id", id).
				Msg("brief embedding not indexed")
		}
	}

	doc := &docs.Document{
		ID:             id,
		Link:           item.Link,
		Title:          title,
		Content:        ids,
		TranscriptText: result.TranscriptText,
		Keywords:       keywords,
		OwnerID:        userID,
		PublishedAt:    now,
	}
	if err := r.docs.Put(ctx, doc); err != nil {
		r.compensate(ctx, id, &result)
		return nil, fmt.Errorf("persisting brief document: %w", err)
	}

	// The sources fed today's brief; hide them from future feeds.
	for _, sid := range ids {
		entry := &models.HistoryEntry{UserID: userID, ItemID: sid, Hidden: true}
		if err := r.cat.RecordListen(ctx, entry); err != nil {
			r.log.Warn().Err(err).Str("item_id", sid).
				Msg("brief source not hidden")
		}
	}
	return item, nil
}

// meanEmbedding averages the source embeddings, skipping sources whose
// vectors already expired. Nil when none remain.
func (r *Recommender) meanEmbedding(ctx context.Context, ids []string) []float32 {
	var sum []float32
	n := 0
	for _, id := range ids {
		emb, _, err := r.vectors.Lookup(ctx, id)
		if err != nil {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(emb.Vector))
		}
		for i, v := range emb.Vector {
			sum[i] += v
		}
		n++
	}
	if n == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float32(n)
	}
	return sum
}

// compensate undoes a partially persisted brief. Best effort; every
// failure is logged and the original error still reaches the caller.
func (r *Recommender) compensate(ctx context.Context, id string, result *models.BriefResult) {
	if _, err := r.cat.DeleteItems(ctx, []string{id}); err != nil {
		r.log.Warn().Err(err).Str("item_id", id).Msg("brief row not rolled back")
	}
	if err := r.vectors.Delete(ctx, []string{id}); err != nil {
		r.log.Warn().Err(err).Str("item_id", id).Msg("brief embedding not rolled back")
	}
	r.removeArtifacts(result)
}

// removeArtifacts deletes the worker-uploaded blobs of an abandoned
// brief. Runs on a background context so a cancelled request cannot
// leak artifacts.
func (r *Recommender) removeArtifacts(result *models.BriefResult) {
	if r.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range []string{result.AudioURL, result.TranscriptURL, result.CoverImageURL} {
		if key == "" {
			continue
		}
		if err := r.blobs.DeleteUser(ctx, key); err != nil {
			r.log.Warn().Err(err).Str("key", key).Msg("brief artifact not removed")
		}
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
