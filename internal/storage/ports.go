package storage

import (
	"context"
	"time"

	"subtrack/internal/core"
)

// Ports for the persistence adapters. Every subscription read and write is
// scoped by the owning user.
type (
	SubscriptionStore interface {
		// ListByUser returns the user's subscriptions ordered by renewal date,
		// then by creation order.
		ListByUser(ctx context.Context, userID string) ([]core.Subscription, error)
		Insert(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error)
		// Update returns core.ErrNotFound when (id, userID) has no row.
		Update(ctx context.Context, id, userID string, patch core.SubscriptionPatch) (core.Subscription, error)
		// Delete returns core.ErrNotFound when (id, userID) has no row.
		Delete(ctx context.Context, id, userID string) error
		// GetPreferences returns nil, nil when the user has no preferences row.
		GetPreferences(ctx context.Context, userID string) (*core.UserPreferences, error)
		UpsertPreferences(ctx context.Context, userID string, patch core.PreferencesPatch) (core.UserPreferences, error)
	}

	// ReminderStore is the extra surface used by the reminder worker.
	ReminderStore interface {
		SubscriptionStore
		ListUserIDs(ctx context.Context) ([]string, error)
		MarkReminded(ctx context.Context, id, userID string, renewal core.Date) error
		SetRenewalDate(ctx context.Context, id, userID string, renewal core.Date) error
	}

	// UserStore persists accounts and revoked sessions.
	UserStore interface {
		// CreateUser returns core.ErrEmailTaken when the email is registered.
		CreateUser(ctx context.Context, u core.User) error
		// GetUserByEmail returns core.ErrNotFound when no account matches.
		GetUserByEmail(ctx context.Context, email string) (*core.User, error)
		RevokeSession(ctx context.Context, sessionID string, expiresAt time.Time) error
		IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
	}

	// SessionPurger is implemented by user stores that can drop revocations
	// for tokens past their expiry.
	SessionPurger interface {
		PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	}

	// Pinger is implemented by stores that can report readiness.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)
