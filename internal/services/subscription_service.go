package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/metrics"
	"subtrack/internal/storage"
)

// EventPublisher announces subscription changes. *amqp.Client implements it.
type EventPublisher interface {
	PublishSubscriptionEvent(ctx context.Context, evt *amqp.SubscriptionEvent) error
}

// SubscriptionService validates input, writes to the store and announces the
// change. Validation failures never reach the store.
type SubscriptionService struct {
	store   storage.SubscriptionStore
	events  EventPublisher
	metrics metrics.Recorder
}

// NewSubscriptionService wires the service. events may be nil when no message
// bus is configured.
func NewSubscriptionService(store storage.SubscriptionStore, events EventPublisher, rec metrics.Recorder) *SubscriptionService {
	return &SubscriptionService{
		store:   store,
		events:  events,
		metrics: metrics.OrNop(rec),
	}
}

func (s *SubscriptionService) List(ctx context.Context, userID string) ([]core.Subscription, error) {
	start := time.Now()
	subs, err := s.store.ListByUser(ctx, userID)
	s.record("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *SubscriptionService) Create(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error) {
	if err := in.Validate(); err != nil {
		s.metrics.IncSubscriptionOp("create", metrics.ResultInvalid)
		return core.Subscription{}, err
	}

	start := time.Now()
	sub, err := s.store.Insert(ctx, userID, in.Normalize())
	s.record("create", start, err)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("create subscription: %w", err)
	}

	slog.InfoContext(ctx, "Subscription created",
		"subscription_id", sub.ID,
		"user_id", userID,
		"billing_period", sub.BillingPeriod)
	s.publish(ctx, amqp.EventCreated, sub.ID, userID)
	return sub, nil
}

func (s *SubscriptionService) Update(ctx context.Context, userID, id string, patch core.SubscriptionPatch) (core.Subscription, error) {
	if err := patch.Validate(); err != nil {
		s.metrics.IncSubscriptionOp("update", metrics.ResultInvalid)
		return core.Subscription{}, err
	}

	start := time.Now()
	sub, err := s.store.Update(ctx, id, userID, patch)
	s.record("update", start, err)
	if err != nil {
		return core.Subscription{}, fmt.Errorf("update subscription %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Subscription updated", "subscription_id", id, "user_id", userID)
	s.publish(ctx, amqp.EventUpdated, id, userID)
	return sub, nil
}

func (s *SubscriptionService) Delete(ctx context.Context, userID, id string) error {
	start := time.Now()
	err := s.store.Delete(ctx, id, userID)
	s.record("delete", start, err)
	if err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}

	slog.InfoContext(ctx, "Subscription deleted", "subscription_id", id, "user_id", userID)
	s.publish(ctx, amqp.EventDeleted, id, userID)
	return nil
}

// Preferences returns the stored preferences or the defaults when none exist.
func (s *SubscriptionService) Preferences(ctx context.Context, userID string) (core.UserPreferences, error) {
	start := time.Now()
	prefs, err := s.store.GetPreferences(ctx, userID)
	s.record("get_preferences", start, err)
	if err != nil {
		return core.UserPreferences{}, fmt.Errorf("get preferences: %w", err)
	}
	if prefs == nil {
		return core.DefaultPreferences(userID), nil
	}
	return *prefs, nil
}

func (s *SubscriptionService) UpsertPreferences(ctx context.Context, userID string, patch core.PreferencesPatch) (core.UserPreferences, error) {
	start := time.Now()
	prefs, err := s.store.UpsertPreferences(ctx, userID, patch)
	s.record("upsert_preferences", start, err)
	if err != nil {
		return core.UserPreferences{}, fmt.Errorf("upsert preferences: %w", err)
	}
	return prefs, nil
}

// Upcoming lists the subscriptions renewing within horizon days, soonest
// first, capped at limit when limit > 0.
func (s *SubscriptionService) Upcoming(ctx context.Context, userID string, now time.Time, horizon, limit int) ([]core.UpcomingItem, error) {
	subs, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	upcoming := Limit(Upcoming(subs, now, horizon), limit)
	items := make([]core.UpcomingItem, len(upcoming))
	for i, sub := range upcoming {
		items[i] = project(sub, now)
	}
	return items, nil
}

// Overview is the dashboard for a user: the portfolio summary together with
// their notification preferences.
type Overview struct {
	core.PortfolioOverview
	Preferences core.UserPreferences `json:"preferences"`
}

// Overview loads subscriptions and preferences concurrently and summarizes
// them against a single now.
func (s *SubscriptionService) Overview(ctx context.Context, userID string, now time.Time, horizon, limit int) (Overview, error) {
	var (
		subs  []core.Subscription
		prefs core.UserPreferences
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subs, err = s.List(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		prefs, err = s.Preferences(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	return Overview{
		PortfolioOverview: Summarize(subs, now, horizon, limit),
		Preferences:       prefs,
	}, nil
}

func (s *SubscriptionService) publish(ctx context.Context, eventType amqp.EventType, id, userID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSubscriptionEvent(ctx, amqp.NewSubscriptionEvent(eventType, id, userID)); err != nil {
		// The write already succeeded; the event is best effort.
		slog.ErrorContext(ctx, "Failed to publish subscription event",
			"type", eventType,
			"subscription_id", id,
			"error", err)
	}
}

func (s *SubscriptionService) record(op string, start time.Time, err error) {
	s.metrics.ObserveStoreLatency(op, time.Since(start))
	switch {
	case err == nil:
		s.metrics.IncSubscriptionOp(op, metrics.ResultOK)
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrNotFound):
		s.metrics.IncSubscriptionOp(op, metrics.ResultInvalid)
	default:
		s.metrics.IncSubscriptionOp(op, metrics.ResultError)
	}
}
