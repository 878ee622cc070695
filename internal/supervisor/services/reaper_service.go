// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/reaper"
)

// Sweeper runs retention cleanup. Satisfied by reaper.Reaper.
type Sweeper interface {
	Sweep(ctx context.Context) (reaper.Stats, error)
	CleanEmpty(ctx context.Context) (int, error)
}

// sweepTimeout bounds one full sweep including blob deletes.
const sweepTimeout = 30 * time.Minute

// ReaperService runs the retention sweep on its cadence.
type ReaperService struct {
	sweeper  Sweeper
	interval time.Duration
	logger   zerolog.Logger
}

func NewReaperService(sweeper Sweeper, interval time.Duration, logger zerolog.Logger) *ReaperService {
	return &ReaperService{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger.With().Str("service", "reaper").Logger(),
	}
}

// Serve implements suture.Service. The first sweep runs on start so a
// long outage does not defer cleanup by another interval.
func (s *ReaperService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("reaper service starting")

	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reaper service shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ReaperService) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	if _, err := s.sweeper.Sweep(sweepCtx); err != nil {
		s.logger.Warn().Err(err).Msg("sweep failed")
	}
	if removed, err := s.sweeper.CleanEmpty(sweepCtx); err != nil {
		s.logger.Warn().Err(err).Msg("empty cleanup failed")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("never-enriched episodes removed")
	}
}

// String returns the service name for supervisor logging.
func (s *ReaperService) String() string {
	return "reaper-service"
}
