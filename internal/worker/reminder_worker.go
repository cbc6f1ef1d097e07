package worker

import (
	"context"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/log"
	"subtrack/internal/metrics"
	"subtrack/internal/services"
	"subtrack/internal/storage"
)

// Processor runs one reminder pass. *services.RenewalProcessor implements it.
type Processor interface {
	Process(ctx context.Context, now time.Time) (services.RenewalStats, error)
}

// Ticker starts a ticker and returns its channel with a stop func.
type Ticker func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler runs the processor once at startup and then on every tick until
// its context is cancelled. Each pass sees a single now: the tick time.
type Scheduler struct {
	processor Processor
	interval  time.Duration
	logger    *log.Logger
	purger    storage.SessionPurger
	now       func() time.Time
	ticker    Ticker
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithTicker(t Ticker) Option {
	return func(s *Scheduler) { s.ticker = t }
}

// WithSessionPurger drops expired session revocations after every pass.
func WithSessionPurger(p storage.SessionPurger) Option {
	return func(s *Scheduler) { s.purger = p }
}

func NewScheduler(processor Processor, interval time.Duration, logger *log.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	s := &Scheduler{
		processor: processor,
		interval:  interval,
		logger:    logger.WithComponent(log.ComponentWorker),
		now:       time.Now,
		ticker:    realTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is done. A failed pass is logged and retried on the
// next tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Reminder scheduler started", "interval", s.interval)

	s.runOnce(ctx, s.now())

	ticks, stop := s.ticker(s.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder scheduler stopped")
			return
		case now := <-ticks:
			s.runOnce(ctx, now)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	s.process(ctx, now)
	s.purgeSessions(ctx, now)
}

func (s *Scheduler) process(ctx context.Context, now time.Time) {
	start := time.Now()
	stats, err := s.processor.Process(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.LogError(ctx, "Reminder pass failed", log.OpRemind, err, nil)
		return
	}
	s.logger.InfoContext(ctx, "Reminder pass complete",
		"users", stats.Users,
		"sent", stats.Sent,
		"skipped", stats.Skipped,
		"advanced", stats.Advanced,
		"failed", stats.Failed,
		log.FieldDuration, time.Since(start).Milliseconds(),
		"next_check", now.Add(s.interval).Format(time.RFC3339))
}

func (s *Scheduler) purgeSessions(ctx context.Context, now time.Time) {
	if s.purger == nil || ctx.Err() != nil {
		return
	}
	n, err := s.purger.PurgeExpiredSessions(ctx, now)
	if err != nil {
		s.logger.LogError(ctx, "Session purge failed", log.OpRemind, err, nil)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Expired session revocations purged", "count", n)
	}
}

// DeliveryLog consumes published reminders and records them. It stands in
// for a notification channel until one is wired.
type DeliveryLog struct {
	logger  *log.Logger
	metrics metrics.Recorder
}

func NewDeliveryLog(logger *log.Logger, rec metrics.Recorder) *DeliveryLog {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DeliveryLog{logger: logger.WithComponent(log.ComponentAMQP), metrics: metrics.OrNop(rec)}
}

// HandleReminder is the amqp.Client.ConsumeReminders handler.
func (d *DeliveryLog) HandleReminder(ctx context.Context, msg *amqp.ReminderMessage) error {
	channels := make([]string, 0, 2)
	if msg.Email {
		channels = append(channels, "email")
	}
	if msg.Push {
		channels = append(channels, "push")
	}
	if len(channels) == 0 {
		d.metrics.IncReminder(ReminderDropped)
		d.logger.InfoContext(ctx, "Reminder has no delivery channel, dropping",
			log.FieldSubscriptionID, msg.SubscriptionID,
			log.FieldUserID, msg.UserID)
		return nil
	}

	d.metrics.IncReminder(ReminderDelivered)
	d.logger.InfoContext(ctx, "Reminder delivered",
		log.FieldSubscriptionID, msg.SubscriptionID,
		log.FieldUserID, msg.UserID,
		"name", msg.Name,
		"amount", msg.Amount.String(),
		log.FieldRenewalDate, msg.RenewalDate.String(),
		"days_until", msg.DaysUntil,
		"channels", channels)
	return nil
}

// Delivery outcomes, used as metric labels next to the processor's.
const (
	ReminderDelivered = "delivered"
	ReminderDropped   = "dropped"
)
