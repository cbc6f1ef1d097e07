package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"subtrack/internal/cache"
	"subtrack/internal/core"
)

// subscriptionWriter is the part of SubscriptionService a list needs.
type subscriptionWriter interface {
	List(ctx context.Context, userID string) ([]core.Subscription, error)
	Create(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error)
	Update(ctx context.Context, userID, id string, patch core.SubscriptionPatch) (core.Subscription, error)
	Delete(ctx context.Context, userID, id string) error
}

// SubscriptionList is one session's local projection of a user's
// subscriptions. It loads once, then patches itself with the rows its own
// writes return instead of re-querying. Reads see the session's own writes;
// writes from other sessions show up after Refresh, or once the projection
// is older than its max age.
type SubscriptionList struct {
	svc    subscriptionWriter
	userID string
	maxAge time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	items    []core.Subscription
	loaded   bool
	loadedAt time.Time
}

type ListOption func(*SubscriptionList)

// WithMaxAge reloads the projection on the next read once it is older than d.
// Zero keeps it until Refresh.
func WithMaxAge(d time.Duration) ListOption {
	return func(l *SubscriptionList) { l.maxAge = d }
}

func WithListClock(now func() time.Time) ListOption {
	return func(l *SubscriptionList) { l.now = now }
}

func NewSubscriptionList(svc subscriptionWriter, userID string, opts ...ListOption) *SubscriptionList {
	l := &SubscriptionList{svc: svc, userID: userID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Refresh replaces the projection with the store's current rows.
func (l *SubscriptionList) Refresh(ctx context.Context) error {
	subs, err := l.svc.List(ctx, l.userID)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.items = subs
	l.loaded = true
	l.loadedAt = l.now()
	l.mu.Unlock()
	return nil
}

// Items returns a copy of the projection, loading it on first use.
func (l *SubscriptionList) Items(ctx context.Context) ([]core.Subscription, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Subscription, len(l.items))
	copy(out, l.items)
	return out, nil
}

func (l *SubscriptionList) Create(ctx context.Context, in core.SubscriptionInput) (core.Subscription, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return core.Subscription{}, err
	}
	sub, err := l.svc.Create(ctx, l.userID, in)
	if err != nil {
		return core.Subscription{}, err
	}
	l.mu.Lock()
	l.items = append(l.items, sub)
	sortByRenewal(l.items)
	l.mu.Unlock()
	return sub, nil
}

func (l *SubscriptionList) Update(ctx context.Context, id string, patch core.SubscriptionPatch) (core.Subscription, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return core.Subscription{}, err
	}
	sub, err := l.svc.Update(ctx, l.userID, id, patch)
	if errors.Is(err, core.ErrNotFound) {
		l.remove(id)
	}
	if err != nil {
		return core.Subscription{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items[i] = sub
			sortByRenewal(l.items)
			return sub, nil
		}
	}
	// Written by another session since the last load.
	l.items = append(l.items, sub)
	sortByRenewal(l.items)
	return sub, nil
}

// Delete removes the row from the store and the projection. A row the store
// no longer has is dropped locally as well before the error is returned.
func (l *SubscriptionList) Delete(ctx context.Context, id string) error {
	err := l.svc.Delete(ctx, l.userID, id)
	if err == nil || errors.Is(err, core.ErrNotFound) {
		l.remove(id)
	}
	return err
}

// Overview summarizes the projection without touching the store.
func (l *SubscriptionList) Overview(ctx context.Context, now time.Time, horizon, limit int) (core.PortfolioOverview, error) {
	items, err := l.Items(ctx)
	if err != nil {
		return core.PortfolioOverview{}, err
	}
	return Summarize(items, now, horizon, limit), nil
}

func (l *SubscriptionList) ensureLoaded(ctx context.Context) error {
	l.mu.RLock()
	fresh := l.loaded && (l.maxAge <= 0 || l.now().Sub(l.loadedAt) < l.maxAge)
	l.mu.RUnlock()
	if fresh {
		return nil
	}
	return l.Refresh(ctx)
}

func (l *SubscriptionList) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

// SessionLists keeps one SubscriptionList per session, bounded by an LRU
// with the session lifetime as TTL.
type SessionLists struct {
	svc   subscriptionWriter
	opts  []ListOption
	mu    sync.Mutex
	lists *cache.LRUCache[*SubscriptionList]
}

// NewSessionLists applies opts to every list it creates.
func NewSessionLists(svc subscriptionWriter, maxSessions int, ttl time.Duration, opts ...ListOption) *SessionLists {
	return &SessionLists{
		svc:   svc,
		opts:  opts,
		lists: cache.NewLRUCache[*SubscriptionList](maxSessions, ttl),
	}
}

// For returns the session's list, creating it on first use.
func (s *SessionLists) For(sessionID, userID string) *SubscriptionList {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.lists.Get(sessionID); ok && l.userID == userID {
		return l
	}
	l := NewSubscriptionList(s.svc, userID, s.opts...)
	s.lists.Set(sessionID, l)
	return l
}

// Forget drops the session's list, typically on sign-out.
func (s *SessionLists) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists.Delete(sessionID)
}

// Cache exposes the backing LRU so a cache.Manager can sweep it.
func (s *SessionLists) Cache() *cache.LRUCache[*SubscriptionList] {
	return s.lists
}

func (s *SessionLists) Len() int {
	return s.lists.Size()
}
