package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"subtrack/internal/cache"
	"subtrack/internal/core"
	"subtrack/internal/metrics"
)

const (
	userSubscriptionsKeyPrefix = "user_subscriptions:"
	userGenerationKeyPrefix    = "user_subscriptions_gen:"
)

var errRemindersUnsupported = errors.New("store does not support reminder bookkeeping")

// CachedSubscription is the cache encoding of a subscription. It carries the
// reminder bookkeeping that the API representation hides.
type CachedSubscription struct {
	core.Subscription
	LastRemindedFor core.Date `json:"last_reminded_for"`
}

// CachedStore is a read-through cache for ListByUser. Cache failures are
// logged and never fail the call.
//
// Lists are cached under the user's current generation token, and every
// write replaces the token. A list read from the store while a write lands is
// filed under the old token, so no later reader can pick it up.
type CachedStore struct {
	inner       SubscriptionStore
	cache       cache.Backend[[]CachedSubscription]
	generations cache.Backend[string]
	metrics     metrics.Recorder
}

var _ ReminderStore = (*CachedStore)(nil)

func NewCachedStore(inner SubscriptionStore, lists cache.Backend[[]CachedSubscription], generations cache.Backend[string], rec metrics.Recorder) *CachedStore {
	return &CachedStore{inner: inner, cache: lists, generations: generations, metrics: metrics.OrNop(rec)}
}

func listKey(userID, generation string) string {
	return userSubscriptionsKeyPrefix + userID + ":" + generation
}

func generationKey(userID string) string {
	return userGenerationKeyPrefix + userID
}

// generation returns the user's current token, minting one when none is
// cached. ok is false when the cache cannot be used for this read.
func (s *CachedStore) generation(ctx context.Context, userID string) (string, bool) {
	gen, ok, err := s.generations.Get(ctx, generationKey(userID))
	if err != nil {
		slog.WarnContext(ctx, "Error reading cache generation", "user_id", userID, "error", err)
		return "", false
	}
	if ok {
		return gen, true
	}
	gen = uuid.NewString()
	if err := s.generations.Set(ctx, generationKey(userID), gen); err != nil {
		slog.WarnContext(ctx, "Failed to store cache generation", "user_id", userID, "error", err)
		return "", false
	}
	return gen, true
}

func (s *CachedStore) ListByUser(ctx context.Context, userID string) ([]core.Subscription, error) {
	gen, usable := s.generation(ctx, userID)
	if !usable {
		s.metrics.IncCacheLookup("error")
		return s.inner.ListByUser(ctx, userID)
	}

	cached, ok, err := s.cache.Get(ctx, listKey(userID, gen))
	switch {
	case err != nil:
		s.metrics.IncCacheLookup("error")
		slog.WarnContext(ctx, "Error reading subscriptions from cache", "user_id", userID, "error", err)
	case ok:
		s.metrics.IncCacheLookup("hit")
		return fromCached(cached), nil
	default:
		s.metrics.IncCacheLookup("miss")
	}

	subs, err := s.inner.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, listKey(userID, gen), toCached(subs)); err != nil {
		slog.WarnContext(ctx, "Failed to cache user subscriptions", "user_id", userID, "error", err)
	}
	return subs, nil
}

func (s *CachedStore) Insert(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error) {
	sub, err := s.inner.Insert(ctx, userID, in)
	if err != nil {
		return core.Subscription{}, err
	}
	s.invalidate(ctx, userID)
	return sub, nil
}

func (s *CachedStore) Update(ctx context.Context, id, userID string, patch core.SubscriptionPatch) (core.Subscription, error) {
	sub, err := s.inner.Update(ctx, id, userID, patch)
	if err != nil {
		return core.Subscription{}, err
	}
	s.invalidate(ctx, userID)
	return sub, nil
}

func (s *CachedStore) Delete(ctx context.Context, id, userID string) error {
	if err := s.inner.Delete(ctx, id, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *CachedStore) GetPreferences(ctx context.Context, userID string) (*core.UserPreferences, error) {
	return s.inner.GetPreferences(ctx, userID)
}

func (s *CachedStore) UpsertPreferences(ctx context.Context, userID string, patch core.PreferencesPatch) (core.UserPreferences, error) {
	return s.inner.UpsertPreferences(ctx, userID, patch)
}

func (s *CachedStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rs, ok := s.inner.(ReminderStore)
	if !ok {
		return nil, errRemindersUnsupported
	}
	return rs.ListUserIDs(ctx)
}

func (s *CachedStore) MarkReminded(ctx context.Context, id, userID string, renewal core.Date) error {
	rs, ok := s.inner.(ReminderStore)
	if !ok {
		return errRemindersUnsupported
	}
	if err := rs.MarkReminded(ctx, id, userID, renewal); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *CachedStore) SetRenewalDate(ctx context.Context, id, userID string, renewal core.Date) error {
	rs, ok := s.inner.(ReminderStore)
	if !ok {
		return errRemindersUnsupported
	}
	if err := rs.SetRenewalDate(ctx, id, userID, renewal); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// Ping forwards to the wrapped store when it supports readiness checks.
func (s *CachedStore) Ping(ctx context.Context) error {
	if p, ok := s.inner.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// invalidate moves the user to a fresh generation. Lists filed under the old
// one are left to expire.
func (s *CachedStore) invalidate(ctx context.Context, userID string) {
	if err := s.generations.Set(ctx, generationKey(userID), uuid.NewString()); err != nil {
		slog.WarnContext(ctx, "Failed to invalidate user subscriptions cache", "user_id", userID, "error", err)
		if err := s.generations.Delete(ctx, generationKey(userID)); err != nil {
			slog.WarnContext(ctx, "Failed to drop cache generation", "user_id", userID, "error", err)
		}
	}
}

func toCached(subs []core.Subscription) []CachedSubscription {
	out := make([]CachedSubscription, len(subs))
	for i, sub := range subs {
		out[i] = CachedSubscription{Subscription: sub, LastRemindedFor: sub.LastRemindedFor}
	}
	return out
}

func fromCached(cached []CachedSubscription) []core.Subscription {
	out := make([]core.Subscription, len(cached))
	for i, c := range cached {
		out[i] = c.Subscription
		out[i].LastRemindedFor = c.LastRemindedFor
	}
	return out
}
