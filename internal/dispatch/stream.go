// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/config"
)

// taskRetention bounds how long an unclaimed envelope is kept. Every
// dispatcher abandons its reply wait well before this, so an older
// envelope has no caller left.
const taskRetention = time.Hour

// EnsureTaskStream creates the work-queue stream backing the task
// queues. Envelopes are removed on acknowledgment and redelivered
// after a negative one. Idempotent; an existing stream with the same
// name is left untouched.
func EnsureTaskStream(nc *nats.Conn, cfg *config.DispatchConfig) error {
	js, err := nc.JetStream()
	if err != nil {
		return fmt.Errorf("opening jetstream context: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.Queues(),
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    taskRetention,
		Discard:   nats.DiscardOld,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("creating stream %s: %w", cfg.StreamName, err)
	}
	return nil
}
