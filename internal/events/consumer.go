// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package events

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
	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
)

// ActivityRecorder folds one activity event into the user's profile.
// Satisfied by preference.Aggregator.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, ev *models.ActivityEvent) error
}

// Consumer drains the activity subject into the preference aggregator.
// Instances sharing a queue group split the load; a handler error
// nacks the message for redelivery.
type Consumer struct {
	sub      message.Subscriber
	subject  string
	recorder ActivityRecorder
	validate *validator.Validate
	log      zerolog.Logger
}

// NewConsumer wraps an existing Watermill subscriber. Used directly in
// tests with an in-process pub/sub.
func NewConsumer(sub message.Subscriber, subject string, recorder ActivityRecorder) *Consumer {
	return &Consumer{
		sub:      sub,
		subject:  subject,
		recorder: recorder,
		validate: validator.New(),
		log:      logging.WithComponent("activity-consumer"),
	}
}

// NewNATSConsumer builds a durable queue-group consumer bound to the
// activity stream.
func NewNATSConsumer(cfg *config.NATSConfig, recorder ActivityRecorder) (*Consumer, error) {
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
			DurablePrefix: "briefwave-activity",
		},
	}, NewLoggerAdapter())
	if err != nil {
		return nil, fmt.Errorf("creating activity subscriber: %w", err)
	}
	return NewConsumer(sub, cfg.ActivitySubject, recorder), nil
}

// Run consumes activity events until the context is cancelled.
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

// handle processes one message. Malformed payloads are acked and
// dropped; redelivering them cannot make them parse. Recorder failures
// nack for redelivery.
func (c *Consumer) handle(msg *message.Message) {
	var ev models.ActivityEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		c.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed activity event")
		msg.Ack()
		return
	}
	if err := c.validate.Struct(&ev); err != nil {
		c.log.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping invalid activity event")
		msg.Ack()
		return
	}
	if err := c.recorder.RecordActivity(msg.Context(), &ev); err != nil {
		c.log.Error().Err(err).
			Str("user_id", ev.UserID).
			Str("item_id", ev.ItemID).
			Msg("activity event not recorded, requeueing")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close releases the underlying subscriber.
func (c *Consumer) Close() error {
	return c.sub.Close()
}
