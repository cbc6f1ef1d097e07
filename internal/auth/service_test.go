package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"subtrack/internal/core"
	"subtrack/internal/storage/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc := NewService(memory.New(), testSecret, time.Hour, WithClock(c.now), WithHashCost(bcrypt.MinCost))
	return svc, c
}

func TestSignUpAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	session, err := svc.SignUp(ctx, Credentials{Email: "  Alice@Example.com ", Password: "secret1"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if !session.Authenticated() || session.Email != "alice@example.com" || session.Token == "" {
		t.Fatalf("SignUp() session = %+v", session)
	}

	got, err := svc.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.UserID != session.UserID || got.SessionID != session.SessionID {
		t.Errorf("Authenticate() = %+v, want %+v", got, session)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
}

func TestSignUpErrors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	if _, err := svc.SignUp(ctx, Credentials{Email: "bob@example.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		creds Credentials
		want  error
	}{
		{"invalid email", Credentials{Email: "not-an-email", Password: "secret1"}, core.ErrValidation},
		{"short password", Credentials{Email: "carol@example.com", Password: "12345"}, core.ErrValidation},
		{"missing password", Credentials{Email: "carol@example.com"}, core.ErrValidation},
		{"duplicate email", Credentials{Email: "BOB@example.com", Password: "secret1"}, core.ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignUp(ctx, tt.creds); !errors.Is(err, tt.want) {
				t.Errorf("SignUp() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	signup, err := svc.SignUp(ctx, Credentials{Email: "dave@example.com", Password: "hunter22"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		creds   Credentials
		wantErr error
	}{
		{"valid", Credentials{Email: "Dave@example.com", Password: "hunter22"}, nil},
		{"wrong password", Credentials{Email: "dave@example.com", Password: "hunter23"}, core.ErrInvalidCredentials},
		{"unknown user", Credentials{Email: "erin@example.com", Password: "hunter22"}, core.ErrInvalidCredentials},
		{"invalid input", Credentials{Email: "dave", Password: "hunter22"}, core.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := svc.SignIn(ctx, tt.creds)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SignIn() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SignIn() error = %v", err)
			}
			if session.UserID != signup.UserID || session.SessionID == signup.SessionID {
				t.Errorf("SignIn() session = %+v", session)
			}
		})
	}
}

func TestSignOutRevokesOnlyThatSession(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	creds := Credentials{Email: "frank@example.com", Password: "secret1"}
	first, err := svc.SignUp(ctx, creds)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.SignIn(ctx, creds)
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.SignOut(ctx, first.Token); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, first.Token); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Authenticate(revoked) error = %v", err)
	}
	if _, err := svc.Authenticate(ctx, second.Token); err != nil {
		t.Errorf("Authenticate(other session) error = %v", err)
	}
	if err := svc.SignOut(ctx, first.Token); !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("second SignOut() error = %v", err)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	ctx := context.Background()
	svc, c := newTestService(t)
	session, err := svc.SignUp(ctx, Credentials{Email: "gina@example.com", Password: "secret1"})
	if err != nil {
		t.Fatal(err)
	}
	other := NewService(memory.New(), []byte("another-secret-of-32-bytes......"), time.Hour, WithClock(c.now))

	tests := []struct {
		name  string
		svc   *Service
		token string
		setup func()
	}{
		{name: "empty token", svc: svc, token: ""},
		{name: "garbage", svc: svc, token: "not.a.jwt"},
		{name: "foreign signature", svc: other, token: session.Token},
		{name: "expired", svc: svc, token: session.Token, setup: func() { c.t = c.t.Add(2 * time.Hour) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			if _, err := tt.svc.Authenticate(ctx, tt.token); !errors.Is(err, core.ErrUnauthenticated) {
				t.Errorf("Authenticate() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestSessionStreamDeliversSignInAndSignOut(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	ch, cancel := svc.Sessions().Subscribe()

	session, err := svc.SignUp(ctx, Credentials{Email: "hank@example.com", Password: "secret1"})
	if err != nil {
		t.Fatal(err)
	}
	got := <-ch
	if got.State != SessionSignedIn || got.UserID != session.UserID {
		t.Fatalf("first event = %+v", got)
	}

	if err := svc.SignOut(ctx, session.Token); err != nil {
		t.Fatal(err)
	}
	got = <-ch
	if got.State != SessionSignedOut || got.Authenticated() || got.Token != "" {
		t.Fatalf("second event = %+v", got)
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	if n := svc.Sessions().Subscribers(); n != 0 {
		t.Fatalf("Subscribers() = %d after cancel", n)
	}
}
