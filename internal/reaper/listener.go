// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package reaper

import (
	"context"
	"errors"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/recommend"
)

// expiredPattern matches Redis keyspace notifications for expired keys
// on any database. Requires notify-keyspace-events to include "Ex".
const expiredPattern = "__keyevent@*__:expired"

// BlobRemover deletes a single content blob. Satisfied by blob.Store.
type BlobRemover interface {
	Delete(ctx context.Context, key string) error
}

// ExpiryListener reclaims the tmp blobs behind expired transition
// clips. When a primary transition cache key expires its shadow entry
// is still live for the grace window; the listener resolves the blob
// keys from the shadow, deletes the blobs and drops the shadow.
type ExpiryListener struct {
	rdb   *redis.Client
	blobs BlobRemover
	log   zerolog.Logger
}

func NewExpiryListener(rdb *redis.Client, blobs BlobRemover) *ExpiryListener {
	return &ExpiryListener{
		rdb:   rdb,
		blobs: blobs,
		log:   logging.WithComponent("expiry-listener"),
	}
}

// Run consumes expiry notifications until the context is cancelled.
func (l *ExpiryListener) Run(ctx context.Context) error {
	sub := l.rdb.PSubscribe(ctx, expiredPattern)
	defer func() { _ = sub.Close() }()

	// Force the subscription onto the wire before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handleExpired(ctx, msg.Payload)
		}
	}
}

// handleExpired reclaims blobs for an expired primary transition key.
// Shadow expirations mean the grace window lapsed with nothing to do.
func (l *ExpiryListener) handleExpired(ctx context.Context, key string) {
	if !strings.HasPrefix(key, recommend.TransitionKeyPrefix) ||
		strings.HasPrefix(key, recommend.ShadowKeyPrefix) {
		return
	}
	shadow := "shadow:" + key
	raw, err := l.rdb.Get(ctx, shadow).Result()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		l.log.Warn().Err(err).Str("key", shadow).Msg("shadow lookup failed")
		return
	}

	var clip models.TransitionResult
	if err := json.Unmarshal([]byte(raw), &clip); err != nil {
		l.log.Warn().Err(err).Str("key", shadow).Msg("malformed shadow entry")
		_ = l.rdb.Del(ctx, shadow).Err()
		return
	}
	for _, blobKey := range []string{clip.AudioURL, clip.TranscriptURL} {
		if blobKey == "" {
			continue
		}
		if err := l.blobs.Delete(ctx, blobKey); err != nil {
			l.log.Warn().Err(err).Str("key", blobKey).Msg("transition blob not reclaimed")
			return
		}
	}
	if err := l.rdb.Del(ctx, shadow).Err(); err != nil {
		l.log.Warn().Err(err).Str("key", shadow).Msg("shadow not dropped")
		return
	}
	l.log.Debug().Str("key", key).Msg("reclaimed expired transition clip")
}
