package auth

import (
	"sync"
	"time"
)

// SessionState tells signed-in sessions from sign-out notifications.
type SessionState string

const (
	SessionSignedIn  SessionState = "signed_in"
	SessionSignedOut SessionState = "signed_out"
)

// AuthSession is an immutable snapshot of a user's session.
type AuthSession struct {
	State     SessionState `json:"state"`
	UserID    string       `json:"user_id"`
	Email     string       `json:"email,omitempty"`
	SessionID string       `json:"-"`
	Token     string       `json:"token,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (s AuthSession) Authenticated() bool {
	return s.State == SessionSignedIn && s.UserID != ""
}

// SessionStream fans session changes out to subscribers. Each subscriber has a
// one-slot buffer holding the latest change; Publish never blocks.
type SessionStream struct {
	mu     sync.Mutex
	subs   map[int]chan AuthSession
	nextID int
	closed bool
}

func NewSessionStream() *SessionStream {
	return &SessionStream{subs: make(map[int]chan AuthSession)}
}

// Subscribe registers a subscriber. Calling cancel unregisters it and closes
// the channel; it is safe to call more than once.
func (s *SessionStream) Subscribe() (<-chan AuthSession, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan AuthSession, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers session to every subscriber, replacing any value a slow
// subscriber has not read yet.
func (s *SessionStream) Publish(session AuthSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- session:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- session:
		default:
		}
	}
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (s *SessionStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Subscribers reports how many subscribers are registered.
func (s *SessionStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
