package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/metrics"
	"subtrack/internal/storage"
)

// ReminderPublisher hands reminders to the delivery side. *amqp.Client
// implements it.
type ReminderPublisher interface {
	PublishReminder(ctx context.Context, msg *amqp.ReminderMessage) error
}

// Reminder outcomes, used as metric labels.
const (
	ReminderSent    = "sent"
	ReminderSkipped = "skipped"
	ReminderFailed  = "failed"
)

type RenewalOptions struct {
	// Concurrency bounds how many users are processed at once.
	Concurrency int
	// AutoAdvance rolls overdue renewal dates forward by whole billing periods.
	AutoAdvance bool
}

// RenewalStats summarizes one processing run.
type RenewalStats struct {
	Users    int
	Sent     int
	Skipped  int
	Advanced int
	Failed   int
}

func (s *RenewalStats) add(o RenewalStats) {
	s.Sent += o.Sent
	s.Skipped += o.Skipped
	s.Advanced += o.Advanced
	s.Failed += o.Failed
}

// RenewalProcessor scans every user's subscriptions, publishes the reminders
// that are due and, optionally, rolls overdue renewals forward.
type RenewalProcessor struct {
	store     storage.ReminderStore
	publisher ReminderPublisher
	metrics   metrics.Recorder
	opts      RenewalOptions
}

// NewRenewalProcessor wires the processor. Without a publisher, due reminders
// are only logged.
func NewRenewalProcessor(store storage.ReminderStore, publisher ReminderPublisher, rec metrics.Recorder, opts RenewalOptions) *RenewalProcessor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &RenewalProcessor{
		store:     store,
		publisher: publisher,
		metrics:   metrics.OrNop(rec),
		opts:      opts,
	}
}

// Process runs one pass against now. A failure for one user is logged and
// counted; it does not stop the others.
func (p *RenewalProcessor) Process(ctx context.Context, now time.Time) (RenewalStats, error) {
	userIDs, err := p.store.ListUserIDs(ctx)
	if err != nil {
		return RenewalStats{}, fmt.Errorf("list users: %w", err)
	}

	slog.InfoContext(ctx, "Processing renewals",
		"users", len(userIDs),
		"processing_date", core.Today(now).String())

	var (
		mu    sync.Mutex
		stats = RenewalStats{Users: len(userIDs)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			userStats, err := p.processUser(gctx, userID, now)
			if err != nil {
				slog.ErrorContext(gctx, "Failed to process user renewals", "user_id", userID, "error", err)
				userStats.Failed++
			}
			mu.Lock()
			stats.add(userStats)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	slog.InfoContext(ctx, "Renewal pass complete",
		"users", stats.Users,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"advanced", stats.Advanced,
		"failed", stats.Failed)
	return stats, nil
}

func (p *RenewalProcessor) processUser(ctx context.Context, userID string, now time.Time) (RenewalStats, error) {
	var stats RenewalStats

	subs, err := p.store.ListByUser(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("list subscriptions: %w", err)
	}
	prefsRow, err := p.store.GetPreferences(ctx, userID)
	if err != nil {
		return stats, fmt.Errorf("get preferences: %w", err)
	}
	prefs := core.DefaultPreferences(userID)
	if prefsRow != nil {
		prefs = *prefsRow
	}

	if p.opts.AutoAdvance {
		today := core.Today(now)
		for i := range subs {
			sub := &subs[i]
			if !sub.RenewalDate.Before(today) {
				continue
			}
			next := core.AdvanceUntil(sub.RenewalDate, sub.BillingPeriod, sub.CustomPeriodDays, today)
			if next.Equal(sub.RenewalDate) {
				continue
			}
			if err := p.store.SetRenewalDate(ctx, sub.ID, userID, next); err != nil {
				slog.ErrorContext(ctx, "Failed to advance renewal date",
					"subscription_id", sub.ID, "error", err)
				stats.Failed++
				continue
			}
			slog.InfoContext(ctx, "Advanced renewal date",
				"subscription_id", sub.ID,
				"from", sub.RenewalDate.String(),
				"to", next.String())
			sub.RenewalDate = next
			stats.Advanced++
			p.metrics.IncRenewalAdvanced()
		}
	}

	for _, sub := range DueReminders(subs, now) {
		if !prefs.NotificationsEnabled() {
			stats.Skipped++
			p.metrics.IncReminder(ReminderSkipped)
			continue
		}

		days := core.DaysUntil(sub.RenewalDate, now)
		if err := p.deliver(ctx, amqp.NewReminderMessage(sub, days, prefs)); err != nil {
			slog.ErrorContext(ctx, "Failed to publish reminder",
				"subscription_id", sub.ID, "error", err)
			stats.Failed++
			p.metrics.IncReminder(ReminderFailed)
			continue
		}
		if err := p.store.MarkReminded(ctx, sub.ID, userID, sub.RenewalDate); err != nil {
			// Published but not recorded: the next pass sends it again.
			slog.ErrorContext(ctx, "Failed to record reminder",
				"subscription_id", sub.ID, "error", err)
			stats.Failed++
			continue
		}
		stats.Sent++
		p.metrics.IncReminder(ReminderSent)
	}

	return stats, nil
}

func (p *RenewalProcessor) deliver(ctx context.Context, msg *amqp.ReminderMessage) error {
	if p.publisher == nil {
		slog.InfoContext(ctx, "Reminder due",
			"subscription_id", msg.SubscriptionID,
			"user_id", msg.UserID,
			"name", msg.Name,
			"days_until", msg.DaysUntil)
		return nil
	}
	return p.publisher.PublishReminder(ctx, msg)
}
