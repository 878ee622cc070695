// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Flusher checkpoints buffered store state. Satisfied by tiered.Store.
type Flusher interface {
	Flush(ctx context.Context) error
}

// FlushService checkpoints the vector store on a fixed cadence so a
// crash loses at most one interval of writes.
type FlushService struct {
	flusher  Flusher
	interval time.Duration
	logger   zerolog.Logger
}

func NewFlushService(flusher Flusher, interval time.Duration, logger zerolog.Logger) *FlushService {
	return &FlushService{
		flusher:  flusher,
		interval: interval,
		logger:   logger.With().Str("service", "flush").Logger(),
	}
}

// Serve implements suture.Service.
func (s *FlushService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("flush service starting")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// One final checkpoint on the way out.
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.flusher.Flush(flushCtx); err != nil {
				s.logger.Warn().Err(err).Msg("shutdown flush failed")
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := s.flusher.Flush(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("flush failed")
			}
		}
	}
}

// String returns the service name for supervisor logging.
func (s *FlushService) String() string {
	return "flush-service"
}
