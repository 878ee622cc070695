// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

// Package rpc answers the gateway's read and feedback requests over
// NATS request/reply. Each subject carries a JSON request and returns
// a JSON response with an error field instead of a transport error, so
// the gateway can distinguish "no results" from "backend down".
package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ashmorgan/briefwave/internal/logging"
	"github.com/ashmorgan/briefwave/internal/models"
	"github.com/ashmorgan/briefwave/internal/preference"
	"github.com/ashmorgan/briefwave/internal/recommend"
	"github.com/ashmorgan/briefwave/internal/trending"
)

// Subjects served by the responder.
const (
	SubjectForUser    = "rpc.recommend.foruser"
	SubjectRelated    = "rpc.recommend.related"
	SubjectBrief      = "rpc.recommend.brief"
	SubjectTransition = "rpc.recommend.transition"
	SubjectHot        = "rpc.trending.hot"
	SubjectRate       = "rpc.user.rate"
	SubjectSearch     = "rpc.user.search"
)

// queueGroup splits request load across backend instances.
const queueGroup = "briefwave-rpc"

// defaultHotWindow bounds the trending fallback scan when the request
// does not name one.
const defaultHotWindow = 24 * time.Hour

// defaultLimit caps list responses when the request does not name one.
const defaultLimit = 20

// FeedRequest asks for a personalized episode feed.
type FeedRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// BriefRequest asks for the user's daily brief, optionally forcing a
// rebuild.
type BriefRequest struct {
	UserID string `json:"user_id"`
	Force  bool   `json:"force,omitempty"`
}

// TransitionRequest asks for the bridge clip between two episodes.
type TransitionRequest struct {
	UserID string `json:"user_id"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
}

// HotRequest asks for recently corroborated episodes.
type HotRequest struct {
	WindowHours int `json:"window_hours,omitempty"`
	Limit       int `json:"limit,omitempty"`
}

// RateRequest records an explicit episode rating.
type RateRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	Prior  int    `json:"prior"`
	Vote   int    `json:"vote"`
}

// SearchRequest records a search query for preference blending.
type SearchRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// ItemsResponse carries an episode list or an error.
type ItemsResponse struct {
	Error string         `json:"error,omitempty"`
	Items []*models.Item `json:"items,omitempty"`
}

// ItemResponse carries a single episode or an error.
type ItemResponse struct {
	Error string       `json:"error,omitempty"`
	Item  *models.Item `json:"item,omitempty"`
}

// TransitionResponse carries a bridge clip or an error.
type TransitionResponse struct {
	Error  string                   `json:"error,omitempty"`
	Result *models.TransitionResult `json:"result,omitempty"`
}

// AckResponse acknowledges a feedback write.
type AckResponse struct {
	Error string `json:"error,omitempty"`
}

// Responder subscribes the rpc subjects and serves them until its
// context is cancelled.
type Responder struct {
	nc         *nats.Conn
	rec        *recommend.Recommender
	tagger     *trending.Tagger
	aggregator *preference.Aggregator
	log        zerolog.Logger
}

func NewResponder(nc *nats.Conn, rec *recommend.Recommender, tagger *trending.Tagger,
	aggregator *preference.Aggregator) *Responder {
	return &Responder{
		nc:         nc,
		rec:        rec,
		tagger:     tagger,
		aggregator: aggregator,
		log:        logging.WithComponent("rpc"),
	}
}

// Run subscribes all subjects and blocks until the context is done.
func (r *Responder) Run(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		SubjectForUser:    r.handleForUser,
		SubjectRelated:    r.handleRelated,
		SubjectBrief:      r.handleBrief,
		SubjectTransition: r.handleTransition,
		SubjectHot:        r.handleHot,
		SubjectRate:       r.handleRate,
		SubjectSearch:     r.handleSearch,
	}

	subs := make([]*nats.Subscription, 0, len(handlers))
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for subject, handler := range handlers {
		sub, err := r.nc.QueueSubscribe(subject, queueGroup, handler)
		if err != nil {
			return fmt.Errorf("subscribing %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	r.log.Info().Int("subjects", len(subs)).Msg("rpc responder serving")

	<-ctx.Done()
	return ctx.Err()
}

func (r *Responder) handleForUser(msg *nats.Msg) {
	var req FeedRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &ItemsResponse{Error: "malformed request"})
		return
	}
	ctx, cancel := r.requestContext()
	defer cancel()

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	items, err := r.rec.ForUser(ctx, req.UserID, limit)
	if errors.Is(err, recommend.ErrNoPreferences) {
		// Cold start: fall back to corroborated episodes.
		items, err = r.tagger.HotTrending(ctx, defaultHotWindow, limit)
	}
	if err != nil {
		r.replyError(msg, &ItemsResponse{}, err)
		return
	}
	r.reply(msg, &ItemsResponse{Items: items})
}

func (r *Responder) handleRelated(msg *nats.Msg) {
	var req FeedRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &ItemsResponse{Error: "malformed request"})
		return
	}
	ctx, cancel := r.requestContext()
	defer cancel()

	items, err := r.rec.Related(ctx, req.UserID, req.ItemID, req.Limit)
	if err != nil {
		r.replyError(msg, &ItemsResponse{}, err)
		return
	}
	r.reply(msg, &ItemsResponse{Items: items})
}

func (r *Responder) handleBrief(msg *nats.Msg) {
	var req BriefRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &ItemResponse{Error: "malformed request"})
		return
	}
	// Brief assembly blocks on a generation worker, so it gets the
	// long deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	item, err := r.rec.DailyBrief(ctx, req.UserID, req.Force)
	if err != nil {
		r.replyError(msg, &ItemResponse{}, err)
		return
	}
	r.reply(msg, &ItemResponse{Item: item})
}

func (r *Responder) handleTransition(msg *nats.Msg) {
	var req TransitionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &TransitionResponse{Error: "malformed request"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := r.rec.Transition(ctx, req.UserID, req.FromID, req.ToID)
	if err != nil {
		r.replyError(msg, &TransitionResponse{}, err)
		return
	}
	r.reply(msg, &TransitionResponse{Result: result})
}

func (r *Responder) handleHot(msg *nats.Msg) {
	var req HotRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &ItemsResponse{Error: "malformed request"})
		return
	}
	window := defaultHotWindow
	if req.WindowHours > 0 {
		window = time.Duration(req.WindowHours) * time.Hour
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	ctx, cancel := r.requestContext()
	defer cancel()

	items, err := r.tagger.HotTrending(ctx, window, limit)
	if err != nil {
		r.replyError(msg, &ItemsResponse{}, err)
		return
	}
	r.reply(msg, &ItemsResponse{Items: items})
}

func (r *Responder) handleRate(msg *nats.Msg) {
	var req RateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &AckResponse{Error: "malformed request"})
		return
	}
	ctx, cancel := r.requestContext()
	defer cancel()

	if err := r.aggregator.Rate(ctx, req.UserID, req.ItemID, req.Prior, req.Vote); err != nil {
		r.replyError(msg, &AckResponse{}, err)
		return
	}
	r.reply(msg, &AckResponse{})
}

func (r *Responder) handleSearch(msg *nats.Msg) {
	var req SearchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, &AckResponse{Error: "malformed request"})
		return
	}
	ctx, cancel := r.requestContext()
	defer cancel()

	if err := r.aggregator.RecordSearch(ctx, req.UserID, req.Query); err != nil {
		r.replyError(msg, &AckResponse{}, err)
		return
	}
	r.reply(msg, &AckResponse{})
}

// requestContext bounds a store-only request.
func (r *Responder) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (r *Responder) replyError(msg *nats.Msg, resp any, err error) {
	switch v := resp.(type) {
	case *ItemsResponse:
		v.Error = err.Error()
	case *ItemResponse:
		v.Error = err.Error()
	case *TransitionResponse:
		v.Error = err.Error()
	case *AckResponse:
		v.Error = err.Error()
	}
	r.log.Warn().Err(err).Str("subject", msg.Subject).Msg("request failed")
	r.reply(msg, resp)
}

func (r *Responder) reply(msg *nats.Msg, resp any) {
	body, err := json.Marshal(resp)
	if err != nil {
		r.log.Error().Err(err).Str("subject", msg.Subject).Msg("response not marshalable")
		return
	}
	if err := msg.Respond(body); err != nil {
		r.log.Warn().Err(err).Str("subject", msg.Subject).Msg("reply not delivered")
	}
}
