// Package auth signs users up and in, issues session tokens and publishes
// session changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"subtrack/internal/core"
	"subtrack/internal/metrics"
	"subtrack/internal/storage"
)

// Credentials are the sign-up and sign-in form.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

func (c Credentials) normalized() Credentials {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	return c
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service implements sign-up, sign-in, sign-out and token authentication.
type Service struct {
	users    storage.UserStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	sessions *SessionStream
	metrics  metrics.Recorder
	cost     int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Service) { s.metrics = metrics.OrNop(rec) }
}

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(users storage.UserStore, secret []byte, ttl time.Duration, opts ...Option) *Service {
	s := &Service{
		users:    users,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		sessions: NewSessionStream(),
		metrics:  metrics.Nop{},
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sessions returns the stream of sign-in and sign-out changes.
// SessionTTL is how long an issued token stays valid.
func (s *Service) SessionTTL() time.Duration {
	return s.ttl
}

func (s *Service) Sessions() *SessionStream {
	return s.sessions
}

func (s *Service) SignUp(ctx context.Context, creds Credentials) (AuthSession, error) {
	creds = creds.normalized()
	if err := core.ValidateStruct(creds); err != nil {
		s.metrics.IncAuthEvent("signup", metrics.ResultInvalid)
		return AuthSession{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cost)
	if err != nil {
		s.metrics.IncAuthEvent("signup", metrics.ResultError)
		return AuthSession{}, fmt.Errorf("hash password: %w", err)
	}

	user := core.User{
		ID:           uuid.NewString(),
		Email:        creds.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		s.metrics.IncAuthEvent("signup", resultOf(err))
		return AuthSession{}, fmt.Errorf("create user: %w", err)
	}

	slog.InfoContext(ctx, "User signed up", "user_id", user.ID)
	return s.startSession(ctx, "signup", user)
}

func (s *Service) SignIn(ctx context.Context, creds Credentials) (AuthSession, error) {
	creds = creds.normalized()
	if err := core.ValidateStruct(creds); err != nil {
		s.metrics.IncAuthEvent("signin", metrics.ResultInvalid)
		return AuthSession{}, err
	}

	user, err := s.users.GetUserByEmail(ctx, creds.Email)
	if errors.Is(err, core.ErrNotFound) {
		s.metrics.IncAuthEvent("signin", metrics.ResultInvalid)
		return AuthSession{}, core.ErrInvalidCredentials
	}
	if err != nil {
		s.metrics.IncAuthEvent("signin", metrics.ResultError)
		return AuthSession{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.metrics.IncAuthEvent("signin", metrics.ResultInvalid)
			return AuthSession{}, core.ErrInvalidCredentials
		}
		s.metrics.IncAuthEvent("signin", metrics.ResultError)
		return AuthSession{}, fmt.Errorf("compare password: %w", err)
	}

	return s.startSession(ctx, "signin", *user)
}

// SignOut revokes the session behind token and announces the sign-out.
func (s *Service) SignOut(ctx context.Context, token string) error {
	session, err := s.Authenticate(ctx, token)
	if err != nil {
		s.metrics.IncAuthEvent("signout", resultOf(err))
		return err
	}

	if err := s.users.RevokeSession(ctx, session.SessionID, session.ExpiresAt); err != nil {
		s.metrics.IncAuthEvent("signout", metrics.ResultError)
		return fmt.Errorf("revoke session: %w", err)
	}

	s.metrics.IncAuthEvent("signout", metrics.ResultOK)
	slog.InfoContext(ctx, "User signed out", "user_id", session.UserID)

	s.sessions.Publish(AuthSession{
		State:     SessionSignedOut,
		UserID:    session.UserID,
		Email:     session.Email,
		SessionID: session.SessionID,
		ExpiresAt: session.ExpiresAt,
	})
	return nil
}

// Authenticate resolves a bearer token to its session. Any malformed, expired
// or revoked token yields core.ErrUnauthenticated.
func (s *Service) Authenticate(ctx context.Context, token string) (AuthSession, error) {
	if token == "" {
		return AuthSession{}, core.ErrUnauthenticated
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		slog.DebugContext(ctx, "Rejected session token", "error", err)
		return AuthSession{}, fmt.Errorf("%w: %v", core.ErrUnauthenticated, err)
	}
	if c.Subject == "" || c.ID == "" {
		return AuthSession{}, fmt.Errorf("%w: token missing subject or id", core.ErrUnauthenticated)
	}

	revoked, err := s.users.IsSessionRevoked(ctx, c.ID)
	if err != nil {
		return AuthSession{}, fmt.Errorf("check session: %w", err)
	}
	if revoked {
		return AuthSession{}, fmt.Errorf("%w: session revoked", core.ErrUnauthenticated)
	}

	return AuthSession{
		State:     SessionSignedIn,
		UserID:    c.Subject,
		Email:     c.Email,
		SessionID: c.ID,
		Token:     token,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

func (s *Service) startSession(ctx context.Context, event string, user core.User) (AuthSession, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	sessionID := uuid.NewString()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		s.metrics.IncAuthEvent(event, metrics.ResultError)
		return AuthSession{}, fmt.Errorf("sign token: %w", err)
	}

	session := AuthSession{
		State:     SessionSignedIn,
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: sessionID,
		Token:     signed,
		// Token expiry has second precision.
		ExpiresAt: expiresAt.Truncate(time.Second),
	}
	s.metrics.IncAuthEvent(event, metrics.ResultOK)
	s.sessions.Publish(session)
	slog.DebugContext(ctx, "Session started", "user_id", user.ID, "event", event)
	return session, nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrEmailTaken),
		errors.Is(err, core.ErrUnauthenticated),
		errors.Is(err, core.ErrInvalidCredentials):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
