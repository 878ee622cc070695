// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package dispatch implements de-duplicated request/reply task
// dispatch to generation workers over NATS.
//
// Each dispatch is keyed by (queue, payload ID) in a shared Redis set:
// a second dispatch for the same key is refused with ErrInFlight while
// the first is pending, and the key is released on every exit path.
// Replies are matched on a correlation ID header over a per-request
// inbox subject.
//
// Task queues are subjects of a JetStream work-queue stream
// (EnsureTaskStream): an envelope survives a worker crash and is
// redelivered after a negative acknowledgment instead of being lost.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/metrics"
	"github.com/ashmorgan/briefwave/internal/models"
)

// HeaderCorrelationID carries the request's correlation ID on both the
// task message and the worker's reply.
const HeaderCorrelationID = "Briefwave-Correlation-Id"

// HeaderReplyTo carries the reply inbox on the task message. JetStream
// persists headers but not the core reply subject, so a redelivered
// envelope keeps its reply destination only through this header.
const HeaderReplyTo = "Briefwave-Reply-To"

var (
	// ErrInFlight is returned when the same payload is already being
	// processed on the queue.
	ErrInFlight = errors.New("dispatch: task already in flight")

	// ErrTimeout is returned when no worker replied within the
	// configured window.
	ErrTimeout = errors.New("dispatch: timed out waiting for reply")

	// ErrEmptyPayload is returned for payloads without an ID.
	ErrEmptyPayload = errors.New("dispatch: empty payload")
)

// Dispatcher sends tasks and blocks for the worker's reply.
type Dispatcher struct {
	nc       *nats.Conn
	rdb      *redis.Client
	timeout  time.Duration
	validate *validator.Validate
}

// New creates a Dispatcher. timeout bounds the wait for a reply; zero
// blocks until the context is done.
func New(nc *nats.Conn, rdb *redis.Client, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		nc:       nc,
		rdb:      rdb,
		timeout:  timeout,
		validate: validator.New(),
	}
}

// Send dispatches the payload on the queue and returns the worker's
// raw reply. The in-flight key is released before return on every
// path, including timeout and context cancellation.
func (d *Dispatcher) Send(ctx context.Context, queue string, payload *models.TaskPayload) ([]byte, error) {
	if payload == nil || payload.ID == "" {
		metrics.RecordDispatch(queue, "error")
		return nil, ErrEmptyPayload
	}
	if err := d.validate.Struct(payload); err != nil {
		metrics.RecordDispatch(queue, "error")
		return nil, fmt.Errorf("dispatch: invalid payload: %w", err)
	}

	logger := logging.WithComponent("dispatch")

	// SAdd is the check-and-set: Redis serializes the command, so of
	// two racing callers exactly one observes added == 1 and owns the
	// key.
	added, err := d.rdb.SAdd(ctx, queue, payload.ID).Result()
	if err != nil {
		metrics.RecordDispatch(queue, "error")
		return nil, fmt.Errorf("dispatch: marking in flight: %w", err)
	}
	if added == 0 {
		metrics.RecordDispatch(queue, "in_flight")
		logger.Debug().Str("queue", queue).Str("id", payload.ID).Msg("Task already in flight")
		return nil, ErrInFlight
	}
	metrics.DispatchInFlight.WithLabelValues(queue).Inc()
	defer func() {
		// The release must not ride the request context, which may
		// already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.rdb.SRem(releaseCtx, queue, payload.ID).Err(); err != nil {
			logger.Error().Err(err).Str("queue", queue).Str("id", payload.ID).
				Msg("Failed to release in-flight key")
		}
		metrics.DispatchInFlight.WithLabelValues(queue).Dec()
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.RecordDispatch(queue, "error")
		return nil, fmt.Errorf("dispatch: encoding payload: %w", err)
	}

	corrID := uuid.NewString()
	inbox := d.nc.NewRespInbox()
	sub, err := d.nc.SubscribeSync(inbox)
	if err != nil {
		metrics.RecordDispatch(queue, "error")
		return nil, fmt.Errorf("dispatch: subscribing reply inbox: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	msg := &nats.Msg{
		Subject: queue,
		Reply:   inbox,
		Data:    data,
		Header: nats.Header{
			HeaderCorrelationID: []string{corrID},
			HeaderReplyTo:       []string{inbox},
		},
	}
	if err := d.nc.PublishMsg(msg); err != nil {
		metrics.RecordDispatch(queue, "error")
		return nil, fmt.Errorf("dispatch: publishing task: %w", err)
	}

	waitCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Info().Str("queue", queue).Str("id", payload.ID).Msg("Task dispatched")

	for {
		reply, err := sub.NextMsgWithContext(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.RecordDispatch(queue, "timeout")
				return nil, ErrTimeout
			}
			metrics.RecordDispatch(queue, "error")
			return nil, fmt.Errorf("dispatch: waiting for reply: %w", err)
		}
		// A stale reply from a previous attempt carries a different
		// correlation ID; keep waiting.
		if reply.Header.Get(HeaderCorrelationID) != corrID {
			continue
		}

		metrics.RecordDispatch(queue, "ok")
		metrics.ObserveDispatch(queue, time.Since(start))
		logger.Info().Str("queue", queue).Str("id", payload.ID).
			Dur("elapsed", time.Since(start)).Msg("Task completed")
		return reply.Data, nil
	}
}

// SendJSON dispatches and decodes the reply into out.
func (d *Dispatcher) SendJSON(ctx context.Context, queue string, payload *models.TaskPayload, out any) error {
	data, err := d.Send(ctx, queue, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("dispatch: decoding reply: %w", err)
	}
	return nil
}
