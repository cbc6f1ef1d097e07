package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func validInput() SubscriptionInput {
	return SubscriptionInput{
		Name:          "Netflix",
		Amount:        Money{Cents: 1599},
		BillingPeriod: Monthly,
		RenewalDate:   NewDate(2025, 3, 15),
	}
}

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false},
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -5}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for negative amount, got %v", err)
	}
}

func TestSubscriptionInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SubscriptionInput)
		wantErr error
	}{
		{"valid monthly", func(in *SubscriptionInput) {}, nil},
		{"valid yearly", func(in *SubscriptionInput) { in.BillingPeriod = Yearly }, nil},
		{"valid custom", func(in *SubscriptionInput) {
			in.BillingPeriod = Custom
			in.CustomPeriodDays = intPtr(90)
		}, nil},
		{"empty name", func(in *SubscriptionInput) { in.Name = "" }, ErrValidation},
		{"blank name", func(in *SubscriptionInput) { in.Name = "   " }, ErrEmptyName},
		{"name too long", func(in *SubscriptionInput) { in.Name = strings.Repeat("a", 51) }, ErrValidation},
		{"name at limit", func(in *SubscriptionInput) { in.Name = strings.Repeat("é", 50) }, nil},
		{"zero amount", func(in *SubscriptionInput) { in.Amount = Money{} }, ErrInvalidAmount},
		{"unknown period", func(in *SubscriptionInput) { in.BillingPeriod = "weekly" }, ErrValidation},
		{"custom without days", func(in *SubscriptionInput) { in.BillingPeriod = Custom }, ErrMissingCustomDays},
		{"custom zero days", func(in *SubscriptionInput) {
			in.BillingPeriod = Custom
			in.CustomPeriodDays = intPtr(0)
		}, ErrInvalidCustomDays},
		{"custom negative days", func(in *SubscriptionInput) {
			in.BillingPeriod = Custom
			in.CustomPeriodDays = intPtr(-3)
		}, ErrInvalidCustomDays},
		{"days on monthly", func(in *SubscriptionInput) { in.CustomPeriodDays = intPtr(30) }, ErrValidation},
		{"zero date", func(in *SubscriptionInput) { in.RenewalDate = Date{} }, ErrInvalidDate},
		{"negative reminder", func(in *SubscriptionInput) { in.ReminderDaysBefore = intPtr(-1) }, ErrInvalidReminder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := in.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() = %v, want a validation error", err)
			}
		})
	}
}

func TestSubscriptionInputNormalize(t *testing.T) {
	in := validInput()
	in.Name = "  Spotify  "
	in.CustomPeriodDays = intPtr(10)

	got := in.Normalize()
	if got.Name != "Spotify" {
		t.Errorf("Name = %q, want %q", got.Name, "Spotify")
	}
	if got.ReminderDaysBefore == nil || *got.ReminderDaysBefore != DefaultReminderDaysBefore {
		t.Errorf("ReminderDaysBefore = %v, want %d", got.ReminderDaysBefore, DefaultReminderDaysBefore)
	}
	if got.CustomPeriodDays != nil {
		t.Errorf("CustomPeriodDays = %v, want nil for monthly", *got.CustomPeriodDays)
	}
}

func TestSubscriptionPatchApply(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	base := NewSubscription("sub-1", "user-1", validInput(), now)

	t.Run("rename", func(t *testing.T) {
		name := " Disney+ "
		got, err := SubscriptionPatch{Name: &name}.Apply(base)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got.Name != "Disney+" {
			t.Errorf("Name = %q, want %q", got.Name, "Disney+")
		}
		if got.ID != base.ID || got.UserID != base.UserID {
			t.Errorf("identity changed: %s/%s", got.ID, got.UserID)
		}
	})

	t.Run("switch to custom requires days", func(t *testing.T) {
		period := Custom
		_, err := SubscriptionPatch{BillingPeriod: &period}.Apply(base)
		if !errors.Is(err, ErrMissingCustomDays) {
			t.Fatalf("Apply() error = %v, want %v", err, ErrMissingCustomDays)
		}
	})

	t.Run("switch away from custom drops days", func(t *testing.T) {
		period := Custom
		custom, err := SubscriptionPatch{BillingPeriod: &period, CustomPeriodDays: intPtr(14)}.Apply(base)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		yearly := Yearly
		got, err := SubscriptionPatch{BillingPeriod: &yearly}.Apply(custom)
		if err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
		if got.CustomPeriodDays != nil {
			t.Errorf("CustomPeriodDays = %d, want nil", *got.CustomPeriodDays)
		}
	})

	t.Run("invalid amount rejected", func(t *testing.T) {
		_, err := SubscriptionPatch{Amount: &Money{}}.Apply(base)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Apply() error = %v, want %v", err, ErrInvalidAmount)
		}
	})
}

func TestPreferencesPatchApply(t *testing.T) {
	off := false
	got := PreferencesPatch{PushNotifications: &off}.Apply(DefaultPreferences("u1"))
	if !got.EmailNotifications || got.PushNotifications {
		t.Fatalf("Apply() = %+v, want email on and push off", got)
	}
	if !got.NotificationsEnabled() {
		t.Errorf("NotificationsEnabled() = false, want true")
	}
}

func TestSubscriptionInputJSON(t *testing.T) {
	body := `{"name":"iCloud","amount":"2,99","billing_period":"custom","custom_period_days":90,"renewal_date":"2025-04-01"}`
	var in SubscriptionInput
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if in.Amount.Cents != 299 {
		t.Errorf("Amount = %d, want 299", in.Amount.Cents)
	}
	if !in.RenewalDate.Equal(NewDate(2025, 4, 1)) {
		t.Errorf("RenewalDate = %s, want 2025-04-01", in.RenewalDate)
	}
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	out, err := json.Marshal(NewSubscription("id", "u", in, time.Unix(0, 0).UTC()))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"amount":"2.99"`, `"renewal_date":"2025-04-01"`, `"reminder_days_before":3`} {
		if !strings.Contains(string(out), want) {
			t.Errorf("Marshal() = %s, missing %s", out, want)
		}
	}
}

func TestDateUnmarshalRejectsGarbage(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"15/03/2025"`), &d); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("Unmarshal() error = %v, want %v", err, ErrInvalidDate)
	}
}

func TestSubscriptionPatchValidate(t *testing.T) {
	blank := "   "
	long := strings.Repeat("x", MaxNameLength+1)
	monthly := Monthly
	bogus := BillingPeriod("weekly")
	badDate := Date{}

	tests := []struct {
		name  string
		patch SubscriptionPatch
		want  error
	}{
		{"empty patch", SubscriptionPatch{}, ErrEmptyPatch},
		{"blank name", SubscriptionPatch{Name: &blank}, ErrEmptyName},
		{"long name", SubscriptionPatch{Name: &long}, ErrNameTooLong},
		{"zero amount", SubscriptionPatch{Amount: &Money{}}, ErrInvalidAmount},
		{"unknown period", SubscriptionPatch{BillingPeriod: &bogus}, ErrInvalidBillingPeriod},
		{"zero custom days", SubscriptionPatch{CustomPeriodDays: intPtr(0)}, ErrInvalidCustomDays},
		{"zero date", SubscriptionPatch{RenewalDate: &badDate}, ErrInvalidDate},
		{"negative reminder", SubscriptionPatch{ReminderDaysBefore: intPtr(-1)}, ErrInvalidReminder},
		{"reminder only", SubscriptionPatch{ReminderDaysBefore: intPtr(7)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.patch.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("days with non-custom period", func(t *testing.T) {
		err := SubscriptionPatch{BillingPeriod: &monthly, CustomPeriodDays: intPtr(10)}.Validate()
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Validate() = %v, want validation error", err)
		}
	})
}
