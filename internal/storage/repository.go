package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"subtrack/internal/core"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const timestampLayout = time.RFC3339Nano

const subscriptionColumns = `id, user_id, name, amount_cents, billing_period, custom_period_days,
	renewal_date, reminder_days_before, last_reminded_for, created_at, updated_at`

var (
	_ ReminderStore = (*SQLiteRepository)(nil)
	_ UserStore     = (*SQLiteRepository)(nil)
)

// SQLiteRepository implements every store port on a single SQLite database.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return core.NewStoreError("ping", err)
	}
	return nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]core.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = ? ORDER BY renewal_date ASC, seq ASC`, userID)
	if err != nil {
		return nil, core.NewStoreError("list subscriptions", err)
	}
	defer rows.Close()

	subs := make([]core.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, core.NewStoreError("scan subscription", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStoreError("list subscriptions", err)
	}
	return subs, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, userID string, in core.SubscriptionInput) (core.Subscription, error) {
	if err := in.Validate(); err != nil {
		return core.Subscription{}, err
	}
	sub := core.NewSubscription(uuid.NewString(), userID, in, r.now())

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, name, amount_cents, billing_period, custom_period_days,
			renewal_date, reminder_days_before, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.Name, sub.Amount.Cents, string(sub.BillingPeriod), nullInt(sub.CustomPeriodDays),
		sub.RenewalDate.String(), sub.ReminderDaysBefore,
		sub.CreatedAt.Format(timestampLayout), sub.UpdatedAt.Format(timestampLayout))
	if err != nil {
		return core.Subscription{}, core.NewStoreError("create subscription", err)
	}

	slog.InfoContext(ctx, "Subscription saved to SQLite",
		"subscription_id", sub.ID,
		"user_id", userID,
		"billing_period", sub.BillingPeriod,
		"amount_cents", sub.Amount.Cents,
		"renewal_date", sub.RenewalDate.String())

	return sub, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, id, userID string, patch core.SubscriptionPatch) (core.Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Subscription{}, core.NewStoreError("begin update", err)
	}
	defer tx.Rollback()

	current, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Subscription{}, core.ErrNotFound
	}
	if err != nil {
		return core.Subscription{}, core.NewStoreError("get subscription", err)
	}

	updated, err := patch.Apply(current)
	if err != nil {
		return core.Subscription{}, err
	}
	updated.UpdatedAt = r.now()

	_, err = tx.ExecContext(ctx,
		`UPDATE subscriptions SET name = ?, amount_cents = ?, billing_period = ?, custom_period_days = ?,
			renewal_date = ?, reminder_days_before = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		updated.Name, updated.Amount.Cents, string(updated.BillingPeriod), nullInt(updated.CustomPeriodDays),
		updated.RenewalDate.String(), updated.ReminderDaysBefore, updated.UpdatedAt.Format(timestampLayout),
		id, userID)
	if err != nil {
		return core.Subscription{}, core.NewStoreError("update subscription", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Subscription{}, core.NewStoreError("commit update", err)
	}

	slog.InfoContext(ctx, "Subscription updated", "subscription_id", id, "user_id", userID)
	return updated, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return core.NewStoreError("delete subscription", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Subscription deleted", "subscription_id", id, "user_id", userID)
	return nil
}

func (r *SQLiteRepository) GetPreferences(ctx context.Context, userID string) (*core.UserPreferences, error) {
	p, err := r.getPreferences(ctx, r.db, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStoreError("get preferences", err)
	}
	return &p, nil
}

func (r *SQLiteRepository) UpsertPreferences(ctx context.Context, userID string, patch core.PreferencesPatch) (core.UserPreferences, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.UserPreferences{}, core.NewStoreError("begin upsert", err)
	}
	defer tx.Rollback()

	now := r.now()
	current, err := r.getPreferences(ctx, tx, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = core.DefaultPreferences(userID)
		current.CreatedAt = now
	case err != nil:
		return core.UserPreferences{}, core.NewStoreError("get preferences", err)
	}

	p := patch.Apply(current)
	p.UpdatedAt = now

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_preferences (user_id, email_notifications, push_notifications, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			email_notifications = excluded.email_notifications,
			push_notifications = excluded.push_notifications,
			updated_at = excluded.updated_at`,
		userID, p.EmailNotifications, p.PushNotifications,
		p.CreatedAt.Format(timestampLayout), p.UpdatedAt.Format(timestampLayout))
	if err != nil {
		return core.UserPreferences{}, core.NewStoreError("upsert preferences", err)
	}
	if err := tx.Commit(); err != nil {
		return core.UserPreferences{}, core.NewStoreError("commit upsert", err)
	}

	slog.InfoContext(ctx, "Preferences saved",
		"user_id", userID,
		"email_notifications", p.EmailNotifications,
		"push_notifications", p.PushNotifications)
	return p, nil
}

func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, core.NewStoreError("list users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewStoreError("scan user id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStoreError("list users", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) MarkReminded(ctx context.Context, id, userID string, renewal core.Date) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_reminded_for = ? WHERE id = ? AND user_id = ?`,
		renewal.String(), id, userID)
	if err != nil {
		return core.NewStoreError("mark reminded", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) SetRenewalDate(ctx context.Context, id, userID string, renewal core.Date) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET renewal_date = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		renewal.String(), r.now().Format(timestampLayout), id, userID)
	if err != nil {
		return core.NewStoreError("set renewal date", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt.UTC().Format(timestampLayout))
	if isUniqueViolation(err) {
		return core.ErrEmailTaken
	}
	if err != nil {
		return core.NewStoreError("create user", err)
	}
	slog.InfoContext(ctx, "User registered", "user_id", u.ID)
	return nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	var (
		u       core.User
		created string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, strings.ToLower(email)).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.NewStoreError("get user", err)
	}
	if u.CreatedAt, err = time.Parse(timestampLayout, created); err != nil {
		return nil, core.NewStoreError("parse user created_at", err)
	}
	return &u, nil
}

func (r *SQLiteRepository) RevokeSession(ctx context.Context, sessionID string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_sessions (session_id, expires_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, expiresAt.UTC().Format(timestampLayout))
	if err != nil {
		return core.NewStoreError("revoke session", err)
	}
	return nil
}

func (r *SQLiteRepository) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revoked_sessions WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return false, core.NewStoreError("check session", err)
	}
	return n > 0, nil
}

// PurgeExpiredSessions drops revocations whose tokens have expired anyway.
func (r *SQLiteRepository) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM revoked_sessions WHERE expires_at < ?`, now.UTC().Format(timestampLayout))
	if err != nil {
		return 0, core.NewStoreError("purge sessions", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepository) getPreferences(ctx context.Context, q queryRower, userID string) (core.UserPreferences, error) {
	var (
		p                core.UserPreferences
		created, updated string
	)
	err := q.QueryRowContext(ctx,
		`SELECT user_id, email_notifications, push_notifications, created_at, updated_at
		 FROM user_preferences WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.EmailNotifications, &p.PushNotifications, &created, &updated)
	if err != nil {
		return core.UserPreferences{}, err
	}
	if p.CreatedAt, err = time.Parse(timestampLayout, created); err != nil {
		return core.UserPreferences{}, fmt.Errorf("parse created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(timestampLayout, updated); err != nil {
		return core.UserPreferences{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return p, nil
}

func scanSubscription(row rowScanner) (core.Subscription, error) {
	var (
		sub              core.Subscription
		period, renewal  string
		created, updated string
		customDays       sql.NullInt64
		lastReminded     sql.NullString
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Name, &sub.Amount.Cents, &period, &customDays,
		&renewal, &sub.ReminderDaysBefore, &lastReminded, &created, &updated)
	if err != nil {
		return core.Subscription{}, err
	}

	sub.BillingPeriod = core.BillingPeriod(period)
	if customDays.Valid {
		days := int(customDays.Int64)
		sub.CustomPeriodDays = &days
	}
	if sub.RenewalDate, err = core.ParseDate(renewal); err != nil {
		return core.Subscription{}, fmt.Errorf("parse renewal_date %q: %w", renewal, err)
	}
	if lastReminded.Valid && lastReminded.String != "" {
		if sub.LastRemindedFor, err = core.ParseDate(lastReminded.String); err != nil {
			return core.Subscription{}, fmt.Errorf("parse last_reminded_for: %w", err)
		}
	}
	if sub.CreatedAt, err = time.Parse(timestampLayout, created); err != nil {
		return core.Subscription{}, fmt.Errorf("parse created_at: %w", err)
	}
	if sub.UpdatedAt, err = time.Parse(timestampLayout, updated); err != nil {
		return core.Subscription{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return sub, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewStoreError("rows affected", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
