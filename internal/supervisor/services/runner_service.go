// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package services

import (
	"context"

	"github.com/rs/zerolog"
)

// Runner is a blocking consumer loop. Satisfied by events.Consumer and
// reaper.ExpiryListener.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a blocking Run loop to suture supervision. The
// supervisor restarts the loop when it returns with an error other
// than the context's.
type RunnerService struct {
	runner Runner
	logger zerolog.Logger
	name   string
}

func NewRunnerService(name string, runner Runner, logger zerolog.Logger) *RunnerService {
	return &RunnerService{
		runner: runner,
		logger: logger.With().Str("service", name).Logger(),
		name:   name,
	}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	s.logger.Info().Msg("consumer starting")
	err := s.runner.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("consumer exited, supervisor will restart it")
	}
	return err
}

// String returns the service name for supervisor logging.
func (s *RunnerService) String() string {
	return s.name
}
