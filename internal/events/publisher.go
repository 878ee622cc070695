// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package events carries user activity from the edge to the preference
// aggregator over a JetStream subject, so listening signals survive a
// consumer restart.
package events

import (
	"context"
	"fmt"
	"time"

	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/ashmorgan/briefwave/internal/config"
	"github.com/ashmorgan/briefwave/internal/models"
)

// Publisher emits activity events on the configured subject.
type Publisher struct {
	pub     message.Publisher
	subject string
}

// NewPublisher wraps an existing Watermill publisher. Used directly in
// tests with an in-process pub/sub.
func NewPublisher(pub message.Publisher, subject string) *Publisher {
	return &Publisher{pub: pub, subject: subject}
}

// NewNATSPublisher builds a JetStream-backed activity publisher. The
// message UUID doubles as the Nats-Msg-Id so the broker deduplicates
// redelivered publishes.
func NewNATSPublisher(cfg *config.NATSConfig) (*Publisher, error) {
	pub, err := wmnats.NewPublisher(wmnats.PublisherConfig{
		URL: cfg.URL,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(cfg.MaxReconnects),
			natsgo.ReconnectWait(cfg.ReconnectWait),
		},
		Marshaler: &wmnats.NATSMarshaler{},
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, NewLoggerAdapter())
	if err != nil {
		return nil, fmt.Errorf("creating activity publisher: %w", err)
	}
	return NewPublisher(pub, cfg.ActivitySubject), nil
}

// PublishActivity emits one activity event. A zero OccurredAt is
// stamped with the current time.
func (p *Publisher) PublishActivity(_ context.Context, ev *models.ActivityEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding activity event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), body)
	if err := p.pub.Publish(p.subject, msg); err != nil {
		return fmt.Errorf("publishing activity event: %w", err)
	}
	return nil
}

// Close releases the underlying publisher.
func (p *Publisher) Close() error {
	return p.pub.Close()
}
