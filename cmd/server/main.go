// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package main is the entry point for the Briefwave backend server.
//
// Briefwave turns crawled articles into personalized audio briefings:
// episodes are embedded and stored across tiered vector horizons, user
// interest vectors decay over realtime and daily blends, corroborated
// stories are tagged hot or trending, and generation work (scripts,
// audio, cover art, transitions, daily briefs) is dispatched to worker
// pools exactly once per task.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layers (defaults, config.yaml, BRIEFWAVE_ env)
//  2. Stores: DuckDB catalog + vector horizons, Badger documents,
//     Redis cache/in-flight sets, S3 blob buckets
//  3. NATS: core connection, JetStream activity/ingest stream
//  4. Components: dispatcher, preference aggregator, trending tagger,
//     ingest pipeline, recommender, reaper
//  5. Supervisor tree: storage loops (promotions, flush, reaper) and
//     messaging loops (consumers, expiry listener, rpc responder)
//  6. Metrics: Prometheus endpoint on its own listener
//
// # Configuration
//
// Environment variables use the BRIEFWAVE_ prefix with __ nesting:
//
//	export BRIEFWAVE_DATABASE__PATH=/data/briefwave.db
//	export BRIEFWAVE_NATS__URL=nats://nats:4222
//	export BRIEFWAVE_REDIS__ADDR=redis:6379
//	export BRIEFWAVE_BLOB__ENDPOINT=http://minio:9000
//	./briefwave
//
// Redis must run with keyspace notifications enabled (notify-keyspace-
// events Ex) for transition blob reclamation.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: consumers stop pulling,
// a final vector checkpoint runs, and stores close after the tree
// drains.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/dispatch"
	"github.com/ashmorgan/briefwave/internal/events"
	"github.com/ashmorgan/briefwave/internal/ingest"
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/preference"
	"github.com/ashmorgan/briefwave/internal/reaper"
	"github.com/ashmorgan/briefwave/internal/recommend"
	"github.com/ashmorgan/briefwave/internal/rpc"
	"github.com/ashmorgan/briefwave/internal/store/blob"
	"github.com/ashmorgan/briefwave/internal/store/catalog"
	"github.com/ashmorgan/briefwave/internal/store/docs"
	"github.com/ashmorgan/briefwave/internal/store/tiered"
	"github.com/ashmorgan/briefwave/internal/supervisor"
	"github.com/ashmorgan/briefwave/internal/supervisor/services"
	"github.com/ashmorgan/briefwave/internal/trending"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})
	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("nats_url", cfg.NATS.URL).
		Int("dimension", cfg.Horizons.Dimension).
		Msg("Starting Briefwave backend")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === STORES ===

	cat, err := catalog.Open(&cfg.Database, cfg.Horizons.Dimension)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open catalog database")
	}
	defer func() {
		if err := cat.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing catalog database")
		}
	}()

	vectors, err := tiered.New(cat, cfg.Horizons.HourlyTTL, cfg.Horizons.DailyTTL, cfg.Horizons.WeeklyTTL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize vector horizons")
	}

	documents, err := docs.Open(cfg.Docs.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open document store")
	}
	defer func() {
		if err := documents.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing document store")
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	if err := connectRetry(ctx, "redis", func() error { return rdb.Ping(ctx).Err() }); err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	logging.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	blobs, err := blob.New(ctx, &cfg.Blob)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize blob store")
	}
	if err := connectRetry(ctx, "blob", func() error { return blobs.EnsureBuckets(ctx) }); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure blob buckets")
	}
	logging.Info().Str("endpoint", cfg.Blob.Endpoint).Msg("Blob store ready")

	nc, err := natsgo.Connect(cfg.NATS.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.NATS.MaxReconnects),
		natsgo.ReconnectWait(cfg.NATS.ReconnectWait),
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer func() {
		if err := nc.Drain(); err != nil {
			logging.Error().Err(err).Msg("Error draining NATS connection")
		}
	}()
	if err := connectRetry(ctx, "jetstream", func() error { return events.EnsureStream(nc, &cfg.NATS) }); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision activity stream")
	}
	if err := connectRetry(ctx, "jetstream", func() error { return dispatch.EnsureTaskStream(nc, &cfg.Dispatch) }); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision task stream")
	}
	logging.Info().Str("stream", cfg.NATS.StreamName).Msg("Connected to NATS")

	// === COMPONENTS ===

	dispatcher := dispatch.New(nc, rdb, cfg.Dispatch.RequestTimeout)
	embedder := dispatch.NewEmbedder(dispatcher, cfg.Dispatch.EmbedQueue)
	aggregator := preference.New(cat, vectors, embedder, &cfg.Preference)
	tagger := trending.New(cat, vectors, &cfg.Trending)
	pipeline := ingest.New(cat, vectors, documents, dispatcher, embedder, tagger, &cfg.Dispatch)
	recommender := recommend.New(cat, vectors, documents, rdb, dispatcher, blobs,
		&cfg.Recommend, &cfg.Dispatch)
	sweeper := reaper.New(cat, vectors, documents, blobs, &cfg.Reaper, cfg.Horizons.StoreTime)

	activityConsumer, err := events.NewNATSConsumer(&cfg.NATS, aggregator)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create activity consumer")
	}
	defer func() { _ = activityConsumer.Close() }()

	ingestConsumer, err := ingest.NewNATSConsumer(&cfg.NATS, pipeline)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ingest consumer")
	}
	defer func() { _ = ingestConsumer.Close() }()

	expiryListener := reaper.NewExpiryListener(rdb, blobs)
	responder := rpc.NewResponder(nc, recommender, tagger, aggregator)

	// === SUPERVISOR TREE ===

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	svcLog := logging.WithComponent("supervisor")

	tree.AddStorageService(services.NewPromotionService(vectors, models.HorizonHourly, cfg.Horizons.HourlyPromoteEvery, svcLog))
	tree.AddStorageService(services.NewPromotionService(vectors, models.HorizonDaily, cfg.Horizons.DailyPromoteEvery, svcLog))
	tree.AddStorageService(services.NewPromotionService(vectors, models.HorizonWeekly, cfg.Horizons.WeeklyPromoteEvery, svcLog))
	tree.AddStorageService(services.NewFlushService(vectors, cfg.Horizons.FlushEvery, svcLog))
	tree.AddStorageService(services.NewReaperService(sweeper, cfg.Reaper.Interval, svcLog))

	tree.AddMessagingService(services.NewRunnerService("activity-consumer", activityConsumer, svcLog))
	tree.AddMessagingService(services.NewRunnerService("ingest-consumer", ingestConsumer, svcLog))
	tree.AddMessagingService(services.NewRunnerService("expiry-listener", expiryListener, svcLog))
	tree.AddMessagingService(services.NewRunnerService("rpc-responder", responder, svcLog))

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server := &http.Server{
			Addr:         cfg.Metrics.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		tree.Root().Add(services.NewHTTPServerService(server, 10*time.Second))
		logging.Info().Str("addr", cfg.Metrics.Addr).Msg("Metrics endpoint enabled")
	}

	// === RUN ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Briefwave stopped gracefully")
}

// connectRetry retries a startup connection probe with exponential
// backoff until it succeeds, the retry budget runs out or the context
// is cancelled.
func connectRetry(ctx context.Context, target string, probe func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(func() error {
		if err := probe(); err != nil {
			logging.Warn().Err(err).Str("target", target).Msg("Connection attempt failed, retrying")
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
}
