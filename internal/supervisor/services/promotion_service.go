// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package services provides suture service wrappers around the
// background loops.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/models"
)

// Promoter moves expired rows into the next coarser horizon. Satisfied
// by tiered.Store.
type Promoter interface {
	Promote(ctx context.Context, from models.Horizon) (int, error)
}

// promoteTimeout bounds one promotion pass.
const promoteTimeout = 5 * time.Minute

// PromotionService runs the promotion pass of one horizon on its
// cadence. One instance exists per promotable horizon.
type PromotionService struct {
	promoter Promoter
	horizon  models.Horizon
	interval time.Duration
	logger   zerolog.Logger
	name     string
}

func NewPromotionService(promoter Promoter, horizon models.Horizon, interval time.Duration, logger zerolog.Logger) *PromotionService {
	name := "promotion-" + horizon.String()
	return &PromotionService{
		promoter: promoter,
		horizon:  horizon,
		interval: interval,
		logger:   logger.With().Str("service", name).Logger(),
		name:     name,
	}
}

// Serve implements suture.Service. A pass runs immediately on start so
// a restart catches up on anything that aged out while the process was
// down, then on every tick.
func (s *PromotionService) Serve(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("promotion service starting")

	s.promote(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("promotion service shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.promote(ctx)
		}
	}
}

func (s *PromotionService) promote(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, promoteTimeout)
	defer cancel()

	moved, err := s.promoter.Promote(passCtx, s.horizon)
	if err != nil {
		s.logger.Warn().Err(err).Msg("promotion pass failed")
		return
	}
	if moved > 0 {
		s.logger.Info().Int("moved", moved).Msg("promotion pass complete")
	}
}

// String returns the service name for supervisor logging.
func (s *PromotionService) String() string {
	return s.name
}
