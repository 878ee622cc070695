// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultHorizonOrdering(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Horizons.HourlyTTL != time.Hour {
		t.Errorf("hourly TTL = %s, want 1h", cfg.Horizons.HourlyTTL)
	}
	if cfg.Horizons.DailyTTL != 24*time.Hour {
		t.Errorf("daily TTL = %s, want 24h", cfg.Horizons.DailyTTL)
	}
	if cfg.Horizons.WeeklyTTL != 7*24*time.Hour {
		t.Errorf("weekly TTL = %s, want 168h", cfg.Horizons.WeeklyTTL)
	}
	if cfg.Horizons.StoreTime != 60*24*time.Hour {
		t.Errorf("store time = %s, want 1440h", cfg.Horizons.StoreTime)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "zero dimension",
			mutate: func(c *Config) { c.Horizons.Dimension = 0 },
		},
		{
			name:   "hourly not shorter than daily",
			mutate: func(c *Config) { c.Horizons.HourlyTTL = 48 * time.Hour },
		},
		{
			name:   "weekly not shorter than store time",
			mutate: func(c *Config) { c.Horizons.StoreTime = 2 * 24 * time.Hour },
		},
		{
			name:   "zero batch size",
			mutate: func(c *Config) { c.Preference.BatchSize = 0 },
		},
		{
			name:   "blend weights not summing to one",
			mutate: func(c *Config) { c.Preference.RealtimeBlend = 0.5 },
		},
		{
			name:   "threshold out of range",
			mutate: func(c *Config) { c.Trending.Threshold = 1.5 },
		},
		{
			name:   "trending below hot",
			mutate: func(c *Config) { c.Trending.TrendingScore = 1 },
		},
		{
			name:   "negative dispatch timeout",
			mutate: func(c *Config) { c.Dispatch.RequestTimeout = -time.Second },
		},
		{
			name:   "empty queue name",
			mutate: func(c *Config) { c.Dispatch.ContentQueue = "" },
		},
		{
			name:   "empty task stream name",
			mutate: func(c *Config) { c.Dispatch.StreamName = "" },
		},
		{
			name:   "empty redis addr",
			mutate: func(c *Config) { c.Redis.Addr = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestZeroDispatchTimeoutIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatch.RequestTimeout = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero timeout means block forever and must validate, got: %v", err)
	}
}

func TestLoadAppliesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte("redis:\n  addr: file-redis:6379\npreference:\n  batch_size: 25\n")
	if err := os.WriteFile(path, yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("BRIEFWAVE_REDIS__ADDR", "env-redis:6379")
	t.Setenv("BRIEFWAVE_TRENDING__HOT_SCORE", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Env overrides the file, the file overrides defaults.
	if cfg.Redis.Addr != "env-redis:6379" {
		t.Errorf("redis.addr = %q, want env-redis:6379", cfg.Redis.Addr)
	}
	if cfg.Preference.BatchSize != 25 {
		t.Errorf("preference.batch_size = %d, want 25", cfg.Preference.BatchSize)
	}
	if cfg.Trending.HotScore != 3 {
		t.Errorf("trending.hot_score = %d, want 3", cfg.Trending.HotScore)
	}
	// Untouched keys keep their defaults.
	if cfg.Horizons.Dimension != 768 {
		t.Errorf("horizons.dimension = %d, want 768", cfg.Horizons.Dimension)
	}
}

func TestEnvToKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BRIEFWAVE_REDIS__ADDR", "redis.addr"},
		{"BRIEFWAVE_HORIZONS__HOURLY_TTL", "horizons.hourly_ttl"},
		{"BRIEFWAVE_LOG__LEVEL", "log.level"},
	}
	for _, tt := range tests {
		if got := envToKey(tt.in); got != tt.want {
			t.Errorf("envToKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
