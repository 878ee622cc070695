// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
)

// ackWait is the redelivery deadline for an unacknowledged envelope.
// Generation tasks run for minutes, so this must exceed the slowest
// handler.
const ackWait = 10 * time.Minute

// Handler processes one task payload and returns the reply body.
type Handler func(ctx context.Context, payload *models.TaskPayload) (any, error)

// Worker consumes a task queue through the work-queue stream. Members
// of the same queue group share one durable consumer; each envelope is
// delivered to one member and acknowledged manually, with at most one
// unacknowledged delivery outstanding. A failed handler negatively
// acknowledges so the broker redelivers instead of dropping the task.
type Worker struct {
	nc      *nats.Conn
	queue   string
	group   string
	handler Handler
	sub     *nats.Subscription
}

// NewWorker creates a worker for the queue. group names the queue
// group; workers of the same group load-balance.
func NewWorker(nc *nats.Conn, queue, group string, handler Handler) *Worker {
	return &Worker{nc: nc, queue: queue, group: group, handler: handler}
}

// Start subscribes the worker. The provided context bounds each
// handler invocation, not the subscription lifetime; call Stop to
// unsubscribe.
func (w *Worker) Start(ctx context.Context) error {
	logger := logging.WithComponent("worker").With().Str("queue", w.queue).Logger()

	js, err := w.nc.JetStream()
	if err != nil {
		return fmt.Errorf("dispatch: opening jetstream context: %w", err)
	}
	sub, err := js.QueueSubscribe(w.queue, w.group, func(msg *nats.Msg) {
		var payload models.TaskPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.Error().Err(err).Msg("Discarding malformed task")
			_ = msg.Term()
			return
		}

		result, err := w.handler(ctx, &payload)
		if err != nil {
			logger.Error().Err(err).Str("id", payload.ID).Msg("Task handler failed, requeueing")
			_ = msg.Nak()
			return
		}

		replyTo := msg.Header.Get(HeaderReplyTo)
		if replyTo == "" {
			_ = msg.Ack()
			return
		}
		body, err := json.Marshal(result)
		if err != nil {
			logger.Error().Err(err).Str("id", payload.ID).Msg("Failed to encode reply")
			_ = msg.Term()
			return
		}
		reply := &nats.Msg{
			Subject: replyTo,
			Data:    body,
			Header:  nats.Header{HeaderCorrelationID: []string{msg.Header.Get(HeaderCorrelationID)}},
		}
		if err := w.nc.PublishMsg(reply); err != nil {
			logger.Error().Err(err).Str("id", payload.ID).Msg("Failed to publish reply, requeueing")
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.AckWait(ackWait), nats.MaxAckPending(1))
	if err != nil {
		return fmt.Errorf("dispatch: subscribing worker to %s: %w", w.queue, err)
	}
	w.sub = sub
	logger.Info().Str("group", w.group).Msg("Worker started")
	return nil
}

// Stop unsubscribes the worker. Safe to call before Start.
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Unsubscribe()
}
