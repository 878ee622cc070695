// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package ingest

import (
	"context"
	"fmt"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/events"
	"github.com/ashmorgan/briefwave/internal/logging"
)

// Consumer drains the ingest subject into the pipeline. Instances
// sharing a queue group split the load; a pipeline error nacks the
// message for redelivery.
type Consumer struct {
	sub      message.Subscriber
	subject  string
	pipeline *Pipeline
	validate *validator.Validate
	log      zerolog.Logger
}

// NewConsumer wraps an existing Watermill subscriber. Used directly in
// tests with an in-process pub/sub.
func NewConsumer(sub message.Subscriber, subject string, pipeline *Pipeline) *Consumer {
	return &Consumer{
		sub:      sub,
		subject:  subject,
		pipeline: pipeline,
		validate: validator.New(),
		log:      logging.WithComponent("ingest-consumer"),
	}
}

// NewNATSConsumer builds a durable queue-group consumer bound to the
// ingest subject of the activity stream.
func NewNATSConsumer(cfg *config.NATSConfig, pipeline *Pipeline) (*Consumer, error) {
	sub, err := wmnats.NewSubscriber(wmnats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(cfg.MaxReconnects),
			natsgo.ReconnectWait(cfg.ReconnectWait),
		},
		Unmarshaler: &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(cfg.StreamName),
				natsgo.DeliverNew(),
			},
			DurablePrefix: "briefwave-ingest",
		},
	}, events.NewLoggerAdapter())
	if err != nil {
		return nil, fmt.Errorf("creating ingest subscriber: %w", err)
	}
	return NewConsumer(sub, cfg.IngestSubject, pipeline), nil
}

// Run consumes submissions until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.sub.Subscribe(ctx, c.subject)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", c.subject, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(msg)
		}
	}
}

// handle processes one message. Malformed submissions are acked and
// dropped; pipeline failures nack for redelivery.
func (c *Consumer) handle(msg *message.Message) {
	var sub Submission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed submission")
		msg.Ack()
		return
	}
	if err := c.validate.Struct(&sub); err != nil {
		c.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping invalid submission")
		msg.Ack()
		return
	}
	if _, err := c.pipeline.Submit(msg.Context(), &sub); err != nil {
		c.log.Error().Err(err).Str("link", sub.Link).Msg("submission not processed, requeueing")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close releases the underlying subscriber.
func (c *Consumer) Close() error {
	return c.sub.Close()
}
