// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package metrics exposes Prometheus instrumentation for the
// Briefwave backend: task dispatch outcomes, horizon promotion and
// search volume, preference recomputes, trending tags and reaper
// deletions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Dispatch Metrics
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of task dispatch attempts",
		},
		[]string{"queue", "outcome"}, // "ok", "in_flight", "timeout", "error"
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time from dispatch to worker reply in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"queue"},
	)

	DispatchInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatch_in_flight",
			Help: "Current number of in-flight tasks per queue",
		},
		[]string{"queue"},
	)

	// Vector Horizon Metrics
	HorizonPromotions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horizon_promotions_total",
			Help: "Total number of rows promoted between horizons",
		},
		[]string{"from", "to"},
	)

	HorizonSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "horizon_searches_total",
			Help: "Total number of vector similarity searches",
		},
		[]string{"horizon"},
	)

	HorizonRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "horizon_rows",
			Help: "Current row count per vector horizon",
		},
		[]string{"horizon"},
	)

	// Preference Aggregator Metrics
	ActivityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_events_total",
			Help: "Total number of processed user activity events",
		},
		[]string{"kind"},
	)

	PreferenceRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "preference_recomputes_total",
			Help: "Total number of user vector recomputes",
		},
		[]string{"kind"}, // "realtime", "daily"
	)

	// Trending Tagger Metrics
	ClusterTagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_tags_total",
			Help: "Total number of cluster tagging passes by result",
		},
		[]string{"result"}, // "hot", "trending", "cold"
	)

	ClusterMembers = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_member_count",
			Help:    "Corroborating episode count per tagged cluster",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 20},
		},
	)

	// Ingest Pipeline Metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_items_total",
			Help: "Total number of episode submissions by outcome",
		},
		[]string{"outcome"}, // "created", "duplicate", "in_flight", "error"
	)

	// Reaper Metrics
	ReaperDeletions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reaper_deletions_total",
			Help: "Total number of objects deleted by the expiry reaper",
		},
		[]string{"store"}, // "catalog", "docs", "blob", "vector", "cache"
	)

	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaper_sweep_duration_seconds",
			Help:    "Duration of a full reaper sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Blob Store Metrics
	BlobOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_operations_total",
			Help: "Total number of blob store operations",
		},
		[]string{"operation", "success"},
	)

	BlobBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blob_breaker_open",
			Help: "1 when the blob store circuit breaker is open",
		},
	)
)

// RecordDispatch records a dispatch attempt outcome.
func RecordDispatch(queue, outcome string) {
	DispatchTotal.WithLabelValues(queue, outcome).Inc()
}

// ObserveDispatch records the round-trip time of a completed dispatch.
func ObserveDispatch(queue string, d time.Duration) {
	DispatchDuration.WithLabelValues(queue).Observe(d.Seconds())
}

// RecordPromotion records rows moved from one horizon to the next.
func RecordPromotion(from, to string, count int) {
	HorizonPromotions.WithLabelValues(from, to).Add(float64(count))
}

// RecordBlobOperation records a blob store call.
func RecordBlobOperation(operation string, success bool) {
	successStr := "true"
	if !success {
		successStr = "false"
	}
	BlobOperations.WithLabelValues(operation, successStr).Inc()
}

// SetBlobBreakerOpen flips the breaker gauge.
func SetBlobBreakerOpen(open bool) {
	if open {
		BlobBreakerState.Set(1)
	} else {
		BlobBreakerState.Set(0)
	}
}
