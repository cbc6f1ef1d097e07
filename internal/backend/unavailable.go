package backend

import (
	"context"
	"fmt"
	"time"

	"subtrack/internal/core"
	"subtrack/internal/storage"
)

var (
	_ storage.ReminderStore = (*UnavailableStore)(nil)
	_ storage.UserStore     = (*UnavailableStore)(nil)
)

// UnavailableStore stands in for a store that was not configured. Every call
// fails with a StoreError wrapping core.ErrStoreUnavailable.
type UnavailableStore struct {
	reason string
}

func NewUnavailableStore(reason string) *UnavailableStore {
	return &UnavailableStore{reason: reason}
}

func (s *UnavailableStore) fail(op string) error {
	return core.NewStoreError(op, fmt.Errorf("%w: %s", core.ErrStoreUnavailable, s.reason))
}

func (s *UnavailableStore) ListByUser(context.Context, string) ([]core.Subscription, error) {
	return nil, s.fail("list subscriptions")
}

func (s *UnavailableStore) Insert(context.Context, string, core.SubscriptionInput) (core.Subscription, error) {
	return core.Subscription{}, s.fail("create subscription")
}

func (s *UnavailableStore) Update(context.Context, string, string, core.SubscriptionPatch) (core.Subscription, error) {
	return core.Subscription{}, s.fail("update subscription")
}

func (s *UnavailableStore) Delete(context.Context, string, string) error {
	return s.fail("delete subscription")
}

func (s *UnavailableStore) GetPreferences(context.Context, string) (*core.UserPreferences, error) {
	return nil, s.fail("get preferences")
}

func (s *UnavailableStore) UpsertPreferences(context.Context, string, core.PreferencesPatch) (core.UserPreferences, error) {
	return core.UserPreferences{}, s.fail("upsert preferences")
}

func (s *UnavailableStore) ListUserIDs(context.Context) ([]string, error) {
	return nil, s.fail("list users")
}

func (s *UnavailableStore) MarkReminded(context.Context, string, string, core.Date) error {
	return s.fail("mark reminded")
}

func (s *UnavailableStore) SetRenewalDate(context.Context, string, string, core.Date) error {
	return s.fail("set renewal date")
}

func (s *UnavailableStore) CreateUser(context.Context, core.User) error {
	return s.fail("create user")
}

func (s *UnavailableStore) GetUserByEmail(context.Context, string) (*core.User, error) {
	return nil, s.fail("get user")
}

func (s *UnavailableStore) RevokeSession(context.Context, string, time.Time) error {
	return s.fail("revoke session")
}

func (s *UnavailableStore) IsSessionRevoked(context.Context, string) (bool, error) {
	return false, s.fail("check session")
}

func (s *UnavailableStore) Ping(context.Context) error {
	return s.fail("ping")
}
