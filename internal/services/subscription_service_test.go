package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/storage"
	"subtrack/internal/storage/memory"
)

// spyStore records which store methods were reached.
type spyStore struct {
	storage.ReminderStore
	mu    sync.Mutex
	calls []string
	err   error
}

func newSpyStore() *spyStore {
	return &spyStore{ReminderStore: memory.New()}
}

func (s *spyStore) called(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.err
}

func (s *spyStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *spyStore) ListByUser(ctx context.Context, userID string) ([]core.Subscription, error) {
	if err := s.called("list"); err != nil {
		return nil, err
	}
	return s.ReminderStore.ListByUser(ctx, userID)
}

func (s *spyStore) Insert(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error) {
	if err := s.called("insert"); err != nil {
		return core.Subscription{}, err
	}
	return s.ReminderStore.Insert(ctx, userID, in)
}

func (s *spyStore) Update(ctx context.Context, id, userID string, patch core.SubscriptionPatch) (core.Subscription, error) {
	if err := s.called("update"); err != nil {
		return core.Subscription{}, err
	}
	return s.ReminderStore.Update(ctx, id, userID, patch)
}

func (s *spyStore) Delete(ctx context.Context, id, userID string) error {
	if err := s.called("delete"); err != nil {
		return err
	}
	return s.ReminderStore.Delete(ctx, id, userID)
}

type spyPublisher struct {
	mu        sync.Mutex
	events    []amqp.SubscriptionEvent
	reminders []amqp.ReminderMessage
	err       error
}

func (p *spyPublisher) PublishSubscriptionEvent(_ context.Context, evt *amqp.SubscriptionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, *evt)
	return nil
}

func (p *spyPublisher) PublishReminder(_ context.Context, msg *amqp.ReminderMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.reminders = append(p.reminders, *msg)
	return nil
}

func netflix() core.SubscriptionInput {
	return core.SubscriptionInput{
		Name:          "Netflix",
		Amount:        core.Money{Cents: 1299},
		BillingPeriod: core.Monthly,
		RenewalDate:   core.NewDate(2025, 3, 10),
	}
}

func TestSubscriptionServiceRejectsInvalidInputWithoutStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*core.SubscriptionInput)
	}{
		{"empty name", func(in *core.SubscriptionInput) { in.Name = "  " }},
		{"zero amount", func(in *core.SubscriptionInput) { in.Amount = core.Money{} }},
		{"custom without days", func(in *core.SubscriptionInput) { in.BillingPeriod = core.Custom }},
		{"custom zero days", func(in *core.SubscriptionInput) {
			in.BillingPeriod = core.Custom
			in.CustomPeriodDays = intPtr(0)
		}},
		{"days on monthly", func(in *core.SubscriptionInput) { in.CustomPeriodDays = intPtr(30) }},
		{"unknown period", func(in *core.SubscriptionInput) { in.BillingPeriod = "weekly" }},
		{"negative reminder", func(in *core.SubscriptionInput) { in.ReminderDaysBefore = intPtr(-2) }},
		{"missing date", func(in *core.SubscriptionInput) { in.RenewalDate = core.Date{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newSpyStore()
			pub := &spyPublisher{}
			svc := NewSubscriptionService(store, pub, nil)

			in := netflix()
			tt.mutate(&in)
			_, err := svc.Create(ctx, "user-1", in)

			var verr *core.ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, core.ErrValidation) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if calls := store.Calls(); len(calls) != 0 {
				t.Errorf("store was called: %v", calls)
			}
			if len(pub.events) != 0 {
				t.Errorf("events published for rejected input: %v", pub.events)
			}
		})
	}
}

func TestSubscriptionServiceWritesPublishEvents(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	pub := &spyPublisher{}
	svc := NewSubscriptionService(store, pub, nil)

	created, err := svc.Create(ctx, "user-1", netflix())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ReminderDaysBefore != core.DefaultReminderDaysBefore {
		t.Errorf("ReminderDaysBefore = %d, want default", created.ReminderDaysBefore)
	}

	name := "Netflix Premium"
	if _, err := svc.Update(ctx, "user-1", created.ID, core.SubscriptionPatch{Name: &name}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := svc.Delete(ctx, "user-1", created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	want := []amqp.EventType{amqp.EventCreated, amqp.EventUpdated, amqp.EventDeleted}
	if len(pub.events) != len(want) {
		t.Fatalf("events = %+v", pub.events)
	}
	for i, evt := range pub.events {
		if evt.Type != want[i] || evt.SubscriptionID != created.ID || evt.UserID != "user-1" {
			t.Errorf("event[%d] = %+v", i, evt)
		}
	}
}

func TestSubscriptionServiceSurvivesPublishFailure(t *testing.T) {
	svc := NewSubscriptionService(newSpyStore(), &spyPublisher{err: errors.New("broker down")}, nil)
	if _, err := svc.Create(context.Background(), "user-1", netflix()); err != nil {
		t.Fatalf("Create() error = %v, publish failures must not fail the write", err)
	}
}

func TestSubscriptionServiceScopesByUser(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)

	created, err := svc.Create(ctx, "alice", netflix())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, "mallory", created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign Delete() error = %v, want ErrNotFound", err)
	}
	days := 7
	if _, err := svc.Update(ctx, "mallory", created.ID, core.SubscriptionPatch{ReminderDaysBefore: &days}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign Update() error = %v, want ErrNotFound", err)
	}
	subs, err := svc.List(ctx, "mallory")
	if err != nil || len(subs) != 0 {
		t.Errorf("List(mallory) = %v, %v", subs, err)
	}
}

func TestSubscriptionServiceUpdateValidation(t *testing.T) {
	ctx := context.Background()
	store := newSpyStore()
	svc := NewSubscriptionService(store, nil, nil)

	if _, err := svc.Update(ctx, "user-1", "id", core.SubscriptionPatch{}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty patch error = %v", err)
	}
	if len(store.Calls()) != 0 {
		t.Errorf("store was called: %v", store.Calls())
	}

	created, err := svc.Create(ctx, "user-1", netflix())
	if err != nil {
		t.Fatal(err)
	}
	custom := core.Custom
	if _, err := svc.Update(ctx, "user-1", created.ID, core.SubscriptionPatch{BillingPeriod: &custom}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("switch to custom without days error = %v, want validation", err)
	}
}

func TestSubscriptionServiceWrapsStoreErrors(t *testing.T) {
	store := newSpyStore()
	store.err = core.NewStoreError("list subscriptions", errors.New("connection reset"))
	svc := NewSubscriptionService(store, nil, nil)

	_, err := svc.List(context.Background(), "user-1")
	var storeErr *core.StoreError
	if !errors.As(err, &storeErr) || !errors.Is(err, core.ErrStore) {
		t.Fatalf("List() error = %v, want StoreError", err)
	}
}

func TestSubscriptionServicePreferences(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)

	prefs, err := svc.Preferences(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !prefs.EmailNotifications || !prefs.PushNotifications {
		t.Errorf("default preferences = %+v", prefs)
	}

	off := false
	updated, err := svc.UpsertPreferences(ctx, "user-1", core.PreferencesPatch{EmailNotifications: &off})
	if err != nil {
		t.Fatal(err)
	}
	if updated.EmailNotifications || !updated.PushNotifications {
		t.Errorf("UpsertPreferences() = %+v", updated)
	}
}

func TestSubscriptionServiceOverviewAndUpcoming(t *testing.T) {
	ctx := context.Background()
	svc := NewSubscriptionService(newSpyStore(), nil, nil)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	inputs := []core.SubscriptionInput{
		{Name: "Gym", Amount: core.Money{Cents: 3000}, BillingPeriod: core.Monthly, RenewalDate: core.NewDate(2025, 3, 2)},
		{Name: "Domain", Amount: core.Money{Cents: 1200}, BillingPeriod: core.Yearly, RenewalDate: core.NewDate(2025, 12, 1)},
		{Name: "Backup", Amount: core.Money{Cents: 900}, BillingPeriod: core.Custom, CustomPeriodDays: intPtr(90), RenewalDate: core.NewDate(2025, 2, 20)},
	}
	for _, in := range inputs {
		if _, err := svc.Create(ctx, "user-1", in); err != nil {
			t.Fatal(err)
		}
	}

	overview, err := svc.Overview(ctx, "user-1", now, DefaultHorizonDays, 0)
	if err != nil {
		t.Fatalf("Overview() error = %v", err)
	}
	if overview.ActiveCount != 3 {
		t.Errorf("ActiveCount = %d", overview.ActiveCount)
	}
	// 30 + 1 + 9*30/90
	if overview.MonthlyTotal.String() != "34" {
		t.Errorf("MonthlyTotal = %s, want 34", overview.MonthlyTotal)
	}
	if overview.ByUrgency[core.UrgencyOverdue] != 1 || overview.ByUrgency[core.UrgencyDueTomorrow] != 1 {
		t.Errorf("ByUrgency = %v", overview.ByUrgency)
	}
	if overview.NextRenewal == nil || !overview.NextRenewal.Equal(core.NewDate(2025, 3, 2)) {
		t.Errorf("NextRenewal = %v", overview.NextRenewal)
	}
	if !overview.Preferences.EmailNotifications {
		t.Errorf("Preferences = %+v", overview.Preferences)
	}

	items, err := svc.Upcoming(ctx, "user-1", now, 30, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Subscription.Name != "Gym" || items[0].DaysUntil != 1 {
		t.Errorf("Upcoming() = %+v", items)
	}
}
