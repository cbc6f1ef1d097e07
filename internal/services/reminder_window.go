package services

import (
	"sort"
	"time"

	"subtrack/internal/core"
)

const (
	// DefaultHorizonDays is the width of the upcoming-renewals window.
	DefaultHorizonDays = 30
	// DefaultDisplayLimit caps the upcoming list on overview screens.
	DefaultDisplayLimit = 5
)

// Upcoming returns the subscriptions renewing between today and
// horizonDays from now, inclusive, sorted by renewal date. Overdue
// subscriptions are excluded. Ties keep their input order. A zero horizon
// keeps only today's renewals; a negative one selects DefaultHorizonDays.
func Upcoming(subs []core.Subscription, now time.Time, horizonDays int) []core.Subscription {
	if horizonDays < 0 {
		horizonDays = DefaultHorizonDays
	}
	out := make([]core.Subscription, 0, len(subs))
	for _, sub := range subs {
		days := core.DaysUntil(sub.RenewalDate, now)
		if days >= 0 && days <= horizonDays {
			out = append(out, sub)
		}
	}
	sortByRenewal(out)
	return out
}

// Limit returns at most n subscriptions. n <= 0 means no cap.
func Limit(subs []core.Subscription, n int) []core.Subscription {
	if n <= 0 || len(subs) <= n {
		return subs
	}
	return subs[:n]
}

// DueReminders returns the subscriptions whose reminder offset has been
// reached for the current renewal and that have not been reminded for it yet.
func DueReminders(subs []core.Subscription, now time.Time) []core.Subscription {
	out := make([]core.Subscription, 0)
	for _, sub := range subs {
		days := core.DaysUntil(sub.RenewalDate, now)
		if days < 0 || days > sub.ReminderDaysBefore {
			continue
		}
		if sub.LastRemindedFor.Equal(sub.RenewalDate) {
			continue
		}
		out = append(out, sub)
	}
	sortByRenewal(out)
	return out
}

func sortByRenewal(subs []core.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].RenewalDate.Before(subs[j].RenewalDate)
	})
}
