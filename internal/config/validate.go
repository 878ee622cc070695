// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate checks cross-field constraints the koanf layers cannot
// express. It returns the first violation found.
func (c *Config) Validate() error {
	if c.Horizons.Dimension <= 0 {
		return fmt.Errorf("horizons.dimension must be positive, got %d", c.Horizons.Dimension)
	}
	if c.Horizons.HourlyTTL <= 0 || c.Horizons.DailyTTL <= 0 || c.Horizons.WeeklyTTL <= 0 {
		return errors.New("horizon TTLs must be positive")
	}
	if c.Horizons.HourlyTTL >= c.Horizons.DailyTTL {
		return fmt.Errorf("hourly_ttl (%s) must be shorter than daily_ttl (%s)",
			c.Horizons.HourlyTTL, c.Horizons.DailyTTL)
	}
	if c.Horizons.DailyTTL >= c.Horizons.WeeklyTTL {
		return fmt.Errorf("daily_ttl (%s) must be shorter than weekly_ttl (%s)",
			c.Horizons.DailyTTL, c.Horizons.WeeklyTTL)
	}
	if c.Horizons.WeeklyTTL >= c.Horizons.StoreTime {
		return fmt.Errorf("weekly_ttl (%s) must be shorter than store_time (%s)",
			c.Horizons.WeeklyTTL, c.Horizons.StoreTime)
	}

	if c.Preference.BatchSize <= 0 {
		return fmt.Errorf("preference.batch_size must be positive, got %d", c.Preference.BatchSize)
	}
	if err := validateBlend("realtime", c.Preference.RealtimeKeep, c.Preference.RealtimeBlend); err != nil {
		return err
	}
	if err := validateBlend("daily", c.Preference.DailyKeep, c.Preference.DailyBlend); err != nil {
		return err
	}
	if c.Preference.MaxWeight <= 0 {
		return fmt.Errorf("preference.max_weight must be positive, got %g", c.Preference.MaxWeight)
	}

	if c.Trending.Threshold <= 0 || c.Trending.Threshold >= 1 {
		return fmt.Errorf("trending.threshold must be in (0, 1), got %g", c.Trending.Threshold)
	}
	if c.Trending.HotScore <= 0 {
		return fmt.Errorf("trending.hot_score must be positive, got %d", c.Trending.HotScore)
	}
	if c.Trending.TrendingScore < c.Trending.HotScore {
		return fmt.Errorf("trending.trending_score (%d) must be at least hot_score (%d)",
			c.Trending.TrendingScore, c.Trending.HotScore)
	}

	if c.Dispatch.RequestTimeout < 0 {
		return errors.New("dispatch.request_timeout must not be negative")
	}
	if c.Dispatch.StreamName == "" {
		return errors.New("dispatch.stream_name must not be empty")
	}
	for name, q := range map[string]string{
		"image_queue":      c.Dispatch.ImageQueue,
		"content_queue":    c.Dispatch.ContentQueue,
		"transition_queue": c.Dispatch.TransitionQueue,
		"brief_queue":      c.Dispatch.BriefQueue,
		"embed_queue":      c.Dispatch.EmbedQueue,
	} {
		if q == "" {
			return fmt.Errorf("dispatch.%s must not be empty", name)
		}
	}

	if c.Recommend.Limit <= 0 || c.Recommend.BriefItems <= 0 {
		return errors.New("recommend.limit and recommend.brief_items must be positive")
	}
	if c.Recommend.TransitionTTL <= 0 || c.Recommend.ShadowGrace <= 0 {
		return errors.New("recommend transition TTLs must be positive")
	}

	if c.Reaper.Interval <= 0 {
		return errors.New("reaper.interval must be positive")
	}
	if c.Reaper.BufferTime < 0 {
		return errors.New("reaper.buffer_time must not be negative")
	}

	if c.Blob.ContentBucket == "" || c.Blob.UserBucket == "" {
		return errors.New("blob.content_bucket and blob.user_bucket must not be empty")
	}
	if c.NATS.URL == "" {
		return errors.New("nats.url must not be empty")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr must not be empty")
	}
	return nil
}

func validateBlend(name string, keep, blend float64) error {
	if keep < 0 || blend < 0 {
		return fmt.Errorf("preference.%s blend weights must not be negative", name)
	}
	if math.Abs(keep+blend-1.0) > 1e-9 {
		return fmt.Errorf("preference.%s blend weights must sum to 1, got %g", name, keep+blend)
	}
	return nil
}
