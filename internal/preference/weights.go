// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package preference maintains per-user interest vectors from listening
// activity.
//
// Every activity event contributes its episode's embedding scaled by a
// signal weight into two accumulators. The realtime vector recomputes
// once a batch fills; the previous-day vector recomputes on the first
// contribution after a day has passed. Replays decay exponentially so
// repeat listens of the same episode stop moving the profile.
package preference

import (
	"math"

	"github.com/ashmorgan/briefwave/internal/models"
)

// actionWeights maps discrete actions to their signal weight.
var actionWeights = map[models.ActivityKind]float64{
	models.ActivityLike:          1.0,
	models.ActivityDislike:       -1.0,
	models.ActivityShare:         1.8,
	models.ActivityDownload:      1.3,
	models.ActivityAddToPlaylist: 1.4,
	models.ActivitySearch:        0.75,
}

// listenWeight maps listening completeness to a weight bucket. The
// band below 5 percent is treated as an accidental tap and carries no
// signal at all; 5 to 30 percent is an active negative.
func listenWeight(completeness float64) float64 {
	switch {
	case completeness < 0.05:
		return 0
	case completeness < 0.3:
		return -0.5
	case completeness < 0.5:
		return 0
	case completeness < 0.8:
		return 0.5
	default:
		return 1.0
	}
}

// actionWeight sums the weights of the distinct actions in the event.
func actionWeight(actions []models.ActivityKind) float64 {
	seen := make(map[models.ActivityKind]struct{}, len(actions))
	total := 0.0
	for _, a := range actions {
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		if w, ok := actionWeights[a]; ok {
			total += w
		}
	}
	return total
}

// replayDecay scales a weight by e^-(replay-1): the first listen
// passes through unchanged, each replay shrinks the contribution.
func replayDecay(weight float64, replay int) float64 {
	if replay <= 1 {
		return weight
	}
	return weight * math.Exp(-float64(replay-1))
}

// eventWeight computes the final signal weight of an activity event:
// distinct-action weights plus the listen bucket, clamped to maxWeight
// and decayed by the replay count.
func eventWeight(ev *models.ActivityEvent, replay int, maxWeight float64) float64 {
	w := actionWeight(ev.Actions) + listenWeight(ev.Completeness())
	if w > maxWeight {
		w = maxWeight
	}
	return replayDecay(w, replay)
}

// scaled returns vec * weight.
func scaled(vec []float32, weight float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * weight)
	}
	return out
}

// add returns a + b. A nil a is treated as zero.
func add(a, b []float32) []float32 {
	if a == nil {
		out := make([]float32, len(b))
		copy(out, b)
		return out
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// mean returns vec / totalWeight, or a zero vector when totalWeight is
// zero.
func mean(vec []float32, totalWeight float64, dim int) []float32 {
	out := make([]float32, dim)
	if totalWeight == 0 || vec == nil {
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / totalWeight)
	}
	return out
}

// blend returns keep*prev + mix*current. A nil prev passes current
// through.
func blend(prev, current []float32, keep, mix float64) []float32 {
	if prev == nil {
		out := make([]float32, len(current))
		copy(out, current)
		return out
	}
	out := make([]float32, len(prev))
	for i := range prev {
		out[i] = float32(keep*float64(prev[i]) + mix*float64(current[i]))
	}
	return out
}
