// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/config"
)

// activityRetention bounds how long unconsumed activity events are
// kept. Preference updates older than this have lost their value.
const activityRetention = 48 * time.Hour

// EnsureStream creates the JetStream stream carrying activity events
// and episode submissions. Idempotent; an existing stream with the
// same name is left untouched.
func EnsureStream(nc *nats.Conn, cfg *config.NATSConfig) error {
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("opening jetstream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.ActivitySubject, cfg.IngestSubject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    activityRetention,
		Discard:   nats.DiscardOld,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("creating stream %s: %w", cfg.StreamName, err)
	}
	return nil
}
