package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"subtrack/internal/core"
	"subtrack/internal/storage"

	"github.com/google/uuid"
)

var (
	_ storage.ReminderStore = (*Store)(nil)
	_ storage.UserStore     = (*Store)(nil)
)

// Store keeps subscriptions, preferences, users and revoked sessions in
// process memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	now     func() time.Time
	newID   func() string
	seq     int64
	items   []entry
	prefs   map[string]core.UserPreferences
	users   map[string]core.User
	revoked map[string]time.Time
}

type entry struct {
	seq int64
	sub core.Subscription
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the identifier source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		prefs:   map[string]core.UserPreferences{},
		users:   map[string]core.User{},
		revoked: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var owned []entry
	for _, e := range s.items {
		if e.sub.UserID == userID {
			owned = append(owned, e)
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		a, b := owned[i], owned[j]
		if !a.sub.RenewalDate.Equal(b.sub.RenewalDate) {
			return a.sub.RenewalDate.Before(b.sub.RenewalDate)
		}
		return a.seq < b.seq
	})
	out := make([]core.Subscription, 0, len(owned))
	for _, e := range owned {
		out = append(out, e.sub)
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error) {
	if err := in.Validate(); err != nil {
		return core.Subscription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sub := core.NewSubscription(s.newID(), userID, in, s.now())
	s.items = append(s.items, entry{seq: s.seq, sub: sub})
	return sub, nil
}

func (s *Store) Update(_ context.Context, id, userID string, patch core.SubscriptionPatch) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id, userID)
	if i < 0 {
		return core.Subscription{}, core.ErrNotFound
	}
	updated, err := patch.Apply(s.items[i].sub)
	if err != nil {
		return core.Subscription{}, err
	}
	updated.UpdatedAt = s.now()
	s.items[i].sub = updated
	return updated, nil
}

func (s *Store) Delete(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id, userID)
	if i < 0 {
		return core.ErrNotFound
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

func (s *Store) GetPreferences(_ context.Context, userID string) (*core.UserPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Store) UpsertPreferences(_ context.Context, userID string, patch core.PreferencesPatch) (core.UserPreferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	p, ok := s.prefs[userID]
	if !ok {
		p = core.DefaultPreferences(userID)
		p.CreatedAt = now
	}
	p = patch.Apply(p)
	p.UpdatedAt = now
	s.prefs[userID] = p
	return p, nil
}

// ListUserIDs returns every user owning at least one subscription.
func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, e := range s.items {
		if _, ok := seen[e.sub.UserID]; ok {
			continue
		}
		seen[e.sub.UserID] = struct{}{}
		out = append(out, e.sub.UserID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) MarkReminded(_ context.Context, id, userID string, renewal core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id, userID)
	if i < 0 {
		return core.ErrNotFound
	}
	s.items[i].sub.LastRemindedFor = renewal
	return nil
}

func (s *Store) SetRenewalDate(_ context.Context, id, userID string, renewal core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id, userID)
	if i < 0 {
		return core.ErrNotFound
	}
	s.items[i].sub.RenewalDate = renewal
	s.items[i].sub.UpdatedAt = s.now()
	return nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.users[key]; ok {
		return core.ErrEmailTaken
	}
	s.users[key] = u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(email)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

func (s *Store) RevokeSession(_ context.Context, sessionID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[sessionID] = expiresAt
	return nil
}

func (s *Store) IsSessionRevoked(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.revoked[sessionID]
	return ok, nil
}

// PurgeExpiredSessions drops revocations that expired before now.
func (s *Store) PurgeExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, expiresAt := range s.revoked {
		if expiresAt.Before(now) {
			delete(s.revoked, id)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) indexOf(id, userID string) int {
	for i, e := range s.items {
		if e.sub.ID == id && e.sub.UserID == userID {
			return i
		}
	}
	return -1
}
