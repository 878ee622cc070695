// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package recommend

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"

	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/store/docs"
)

// Transition cache keys. The shadow entry carries the same value with a
// longer TTL: when the primary expires nobody hands the clip out
// anymore, and when the shadow expires the expiry listener still finds
// the blob keys in its keyspace notification and reclaims them.
const (
	TransitionKeyPrefix = "transition:"
	ShadowKeyPrefix     = "shadow:transition:"
)

// Transition returns the spoken bridge between two consecutive
// episodes, serving from the Redis cache when a clip is still live and
// otherwise dispatching a generation task. A dispatch.ErrInFlight
// passes through; the caller retries once the concurrent generation
// lands in the cache.
func (r *Recommender) Transition(ctx context.Context, userID, fromID, toID string) (*models.TransitionResult, error) {
	key := TransitionKeyPrefix + fromID + toID
	raw, err := r.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached models.TransitionResult
		if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil &&
			cached.AudioURL != "" && cached.TranscriptURL != "" {
			return &cached, nil
		}
		// Corrupt entry; regenerate over it.
		r.log.Warn().Str("key", key).Msg("discarding malformed transition cache entry")
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("reading transition cache: %w", err)
	}

	scripts, err := r.transitionScripts(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}

	var result models.TransitionResult
	err = r.sender.SendJSON(ctx, r.queues.TransitionQueue, &models.TaskPayload{
		ID:        fromID + toID,
		UserID:    userID,
		SourceIDs: []string{fromID, toID},
		Content:   scripts,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("dispatching transition %s->%s: %w", fromID, toID, err)
	}
	result.FromID, result.ToID = fromID, toID
	// A worker replies with empty artifact URLs when an endpoint script
	// is blank. That reply is passed through and never cached, so the
	// pair regenerates once the script exists.
	if result.AudioURL == "" || result.TranscriptURL == "" {
		return &result, nil
	}

	body, err := json.Marshal(&result)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.Set(ctx, key, body, r.cfg.TransitionTTL).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("transition not cached")
	}
	shadow := ShadowKeyPrefix + fromID + toID
	if err := r.rdb.Set(ctx, shadow, body, r.cfg.TransitionTTL+r.cfg.ShadowGrace).Err(); err != nil {
		r.log.Warn().Err(err).Str("key", shadow).Msg("transition shadow not cached")
	}
	return &result, nil
}

// transitionScripts resolves the spoken text of both endpoints,
// preferring the stored transcript and falling back to the title.
func (r *Recommender) transitionScripts(ctx context.Context, fromID, toID string) ([]string, error) {
	scripts := make([]string, 0, 2)
	for _, id := range []string{fromID, toID} {
		doc, err := r.docs.Get(ctx, id)
		switch {
		case err == nil && doc.TranscriptText != "":
			scripts = append(scripts, doc.TranscriptText)
		case err == nil:
			scripts = append(scripts, doc.Title)
		case errors.Is(err, docs.ErrNotFound):
			item, ierr := r.cat.GetItem(ctx, id)
			if ierr != nil {
				return nil, fmt.Errorf("resolving transition endpoint %s: %w", id, ierr)
			}
			scripts = append(scripts, item.Title)
		default:
			return nil, err
		}
	}
	return scripts, nil
}
