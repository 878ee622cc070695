// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ashmorgan/briefwave/internal/models"
)

// ErrEmptyEmbedding is returned when a worker replies without a vector.
var ErrEmptyEmbedding = errors.New("dispatch: worker returned an empty embedding")

// Embedder resolves free text to a dense vector by round-tripping the
// text through the embed worker queue. The payload ID is a digest of
// the text, so identical texts share one in-flight slot.
type Embedder struct {
	d     *Dispatcher
	queue string
}

// NewEmbedder wires an Embedder onto the given worker queue.
func NewEmbedder(d *Dispatcher, queue string) *Embedder {
	return &Embedder{d: d, queue: queue}
}

// Embed dispatches the text and blocks for the worker's vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	payload := &models.TaskPayload{
		ID:      hex.EncodeToString(sum[:16]),
		Content: []string{text},
	}

	var result models.EmbedResult
	if err := e.d.SendJSON(ctx, e.queue, payload, &result); err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(result.Vector) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return result.Vector, nil
}
