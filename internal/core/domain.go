package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	Monthly BillingPeriod = "monthly"
	Yearly  BillingPeriod = "yearly"
	Custom  BillingPeriod = "custom"
)

const (
	// MaxNameLength is the maximum subscription name length, in characters.
	MaxNameLength = 50
	// DefaultReminderDaysBefore is used when a new subscription omits its reminder offset.
	DefaultReminderDaysBefore = 3
)

// RecommendedReminderOffsets are the offsets offered to users. Other
// non-negative offsets are accepted.
var RecommendedReminderOffsets = []int{1, 3, 7, 14}

type (
	BillingPeriod string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Subscription is one recurring payment obligation owned by exactly one user.
	Subscription struct {
		ID                 string        `json:"id"`
		UserID             string        `json:"user_id"`
		Name               string        `json:"name"`
		Amount             Money         `json:"amount"`
		BillingPeriod      BillingPeriod `json:"billing_period"`
		CustomPeriodDays   *int          `json:"custom_period_days,omitempty"`
		RenewalDate        Date          `json:"renewal_date"`
		ReminderDaysBefore int           `json:"reminder_days_before"`
		CreatedAt          time.Time     `json:"created_at"`
		UpdatedAt          time.Time     `json:"updated_at"`

		// LastRemindedFor is the renewal date a reminder was last published for.
		LastRemindedFor Date `json:"-"`
	}

	// SubscriptionInput carries the user-settable fields of a new subscription.
	SubscriptionInput struct {
		Name               string        `json:"name" validate:"required,max=50"`
		Amount             Money         `json:"amount"`
		BillingPeriod      BillingPeriod `json:"billing_period" validate:"required,oneof=monthly yearly custom"`
		CustomPeriodDays   *int          `json:"custom_period_days,omitempty"`
		RenewalDate        Date          `json:"renewal_date"`
		ReminderDaysBefore *int          `json:"reminder_days_before,omitempty"`
	}

	// SubscriptionPatch is a partial update. Nil fields are left untouched.
	SubscriptionPatch struct {
		Name               *string        `json:"name,omitempty"`
		Amount             *Money         `json:"amount,omitempty"`
		BillingPeriod      *BillingPeriod `json:"billing_period,omitempty"`
		CustomPeriodDays   *int           `json:"custom_period_days,omitempty"`
		RenewalDate        *Date          `json:"renewal_date,omitempty"`
		ReminderDaysBefore *int           `json:"reminder_days_before,omitempty"`
	}

	// UserPreferences holds the per-user notification toggles.
	UserPreferences struct {
		UserID             string    `json:"user_id"`
		EmailNotifications bool      `json:"email_notifications"`
		PushNotifications  bool      `json:"push_notifications"`
		CreatedAt          time.Time `json:"created_at"`
		UpdatedAt          time.Time `json:"updated_at"`
	}

	PreferencesPatch struct {
		EmailNotifications *bool `json:"email_notifications,omitempty"`
		PushNotifications  *bool `json:"push_notifications,omitempty"`
	}
)

// IsValid reports whether p is one of the supported billing periods.
func (p BillingPeriod) IsValid() bool {
	switch p {
	case Monthly, Yearly, Custom:
		return true
	default:
		return false
	}
}

func (p BillingPeriod) String() string {
	return string(p)
}

// DefaultPreferences returns the preferences a user starts with.
func DefaultPreferences(userID string) UserPreferences {
	return UserPreferences{
		UserID:             userID,
		EmailNotifications: true,
		PushNotifications:  true,
	}
}

// Apply merges the patch onto p.
func (p PreferencesPatch) Apply(prefs UserPreferences) UserPreferences {
	if p.EmailNotifications != nil {
		prefs.EmailNotifications = *p.EmailNotifications
	}
	if p.PushNotifications != nil {
		prefs.PushNotifications = *p.PushNotifications
	}
	return prefs
}

// NotificationsEnabled reports whether any delivery channel is on.
func (p UserPreferences) NotificationsEnabled() bool {
	return p.EmailNotifications || p.PushNotifications
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrInvalidDate
	}
	if s == nil || strings.TrimSpace(*s) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(*s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks every field of a new subscription. It never touches the store.
func (in SubscriptionInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if strings.TrimSpace(in.Name) == "" {
		return ErrEmptyName
	}
	if err := in.Amount.Validate(); err != nil {
		return err
	}
	if err := validateCustomPeriod(in.BillingPeriod, in.CustomPeriodDays); err != nil {
		return err
	}
	if err := in.RenewalDate.Validate(); err != nil {
		return err
	}
	if in.ReminderDaysBefore != nil && *in.ReminderDaysBefore < 0 {
		return ErrInvalidReminder
	}
	return nil
}

// Normalize trims the name and fills defaults.
func (in SubscriptionInput) Normalize() SubscriptionInput {
	in.Name = strings.TrimSpace(in.Name)
	if in.ReminderDaysBefore == nil {
		days := DefaultReminderDaysBefore
		in.ReminderDaysBefore = &days
	}
	if in.BillingPeriod != Custom {
		in.CustomPeriodDays = nil
	}
	return in
}

// NewSubscription builds the stored record from validated input.
func NewSubscription(id, userID string, in SubscriptionInput, now time.Time) Subscription {
	in = in.Normalize()
	return Subscription{
		ID:                 id,
		UserID:             userID,
		Name:               in.Name,
		Amount:             in.Amount,
		BillingPeriod:      in.BillingPeriod,
		CustomPeriodDays:   copyInt(in.CustomPeriodDays),
		RenewalDate:        in.RenewalDate,
		ReminderDaysBefore: *in.ReminderDaysBefore,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Validate re-checks a complete record, used after a patch is merged.
func (s Subscription) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if !s.BillingPeriod.IsValid() {
		return ErrInvalidBillingPeriod
	}
	if err := validateCustomPeriod(s.BillingPeriod, s.CustomPeriodDays); err != nil {
		return err
	}
	if err := s.RenewalDate.Validate(); err != nil {
		return err
	}
	if s.ReminderDaysBefore < 0 {
		return ErrInvalidReminder
	}
	return nil
}

// IsEmpty reports whether the patch changes nothing.
func (p SubscriptionPatch) IsEmpty() bool {
	return p.Name == nil && p.Amount == nil && p.BillingPeriod == nil &&
		p.CustomPeriodDays == nil && p.RenewalDate == nil && p.ReminderDaysBefore == nil
}

// Validate checks the fields the patch sets. Rules that span fields, like the
// custom period invariant, are checked by Apply on the merged record.
func (p SubscriptionPatch) Validate() error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return ErrEmptyName
		}
		if utf8.RuneCountInString(name) > MaxNameLength {
			return ErrNameTooLong
		}
	}
	if p.Amount != nil {
		if err := p.Amount.Validate(); err != nil {
			return err
		}
	}
	if p.BillingPeriod != nil && !p.BillingPeriod.IsValid() {
		return ErrInvalidBillingPeriod
	}
	if p.BillingPeriod != nil && *p.BillingPeriod != Custom && p.CustomPeriodDays != nil {
		return validateCustomPeriod(*p.BillingPeriod, p.CustomPeriodDays)
	}
	if p.CustomPeriodDays != nil && *p.CustomPeriodDays <= 0 {
		return ErrInvalidCustomDays
	}
	if p.RenewalDate != nil {
		if err := p.RenewalDate.Validate(); err != nil {
			return err
		}
	}
	if p.ReminderDaysBefore != nil && *p.ReminderDaysBefore < 0 {
		return ErrInvalidReminder
	}
	return nil
}

// Apply merges the patch onto s and validates the result. Switching away from
// the custom period drops the custom day count.
func (p SubscriptionPatch) Apply(s Subscription) (Subscription, error) {
	if p.Name != nil {
		s.Name = strings.TrimSpace(*p.Name)
	}
	if p.Amount != nil {
		s.Amount = *p.Amount
	}
	if p.BillingPeriod != nil {
		s.BillingPeriod = *p.BillingPeriod
		if s.BillingPeriod != Custom && p.CustomPeriodDays == nil {
			s.CustomPeriodDays = nil
		}
	}
	if p.CustomPeriodDays != nil {
		s.CustomPeriodDays = copyInt(p.CustomPeriodDays)
	}
	if p.RenewalDate != nil {
		s.RenewalDate = *p.RenewalDate
	}
	if p.ReminderDaysBefore != nil {
		s.ReminderDaysBefore = *p.ReminderDaysBefore
	}
	if err := s.Validate(); err != nil {
		return Subscription{}, err
	}
	return s, nil
}

func validateCustomPeriod(period BillingPeriod, days *int) error {
	if period == Custom {
		if days == nil {
			return ErrMissingCustomDays
		}
		if *days <= 0 {
			return ErrInvalidCustomDays
		}
		return nil
	}
	if days != nil {
		return NewValidationError("custom_period_days", fmt.Sprintf("not allowed for %s billing period", period))
	}
	return nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// User is an account that owns subscriptions.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
