// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package models

import (
	"fmt"
)

// ArtifactKind names a class of generated blob.
type ArtifactKind string

const (
	ArtifactAudio      ArtifactKind = "audio"
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactImage      ArtifactKind = "image"
)

// ext returns the file extension for the artifact kind.
func (k ArtifactKind) ext() string {
	switch k {
	case ArtifactAudio:
		return "wav"
	case ArtifactTranscript:
		return "lrc"
	case ArtifactImage:
		return "png"
	default:
		return "bin"
	}
}

// ArtifactPath returns the content-bucket key of an episode artifact:
// {kind}/{id}.{ext}.
func ArtifactPath(kind ArtifactKind, id string) string {
	return fmt.Sprintf("%s/%s.%s", kind, id, kind.ext())
}

// TmpArtifactPath returns the content-bucket key of a scratch
// artifact: tmp/{id}.{ext}. Scratch objects are not referenced from
// the catalog and are reclaimed opportunistically.
func TmpArtifactPath(kind ArtifactKind, id string) string {
	return fmt.Sprintf("tmp/%s.%s", id, kind.ext())
}

// UserArtifactPath returns the user-bucket key of a per-user artifact:
// {uid}/{kind}/{id}.{ext}.
func UserArtifactPath(userID string, kind ArtifactKind, id string) string {
	return fmt.Sprintf("%s/%s/%s.%s", userID, kind, id, kind.ext())
}

// ItemArtifactPaths lists every content-bucket key an episode may own.
// The reaper deletes these alongside the catalog row.
func ItemArtifactPaths(id string) []string {
	return []string{
		ArtifactPath(ArtifactAudio, id),
		ArtifactPath(ArtifactTranscript, id),
		ArtifactPath(ArtifactImage, id),
	}
}
