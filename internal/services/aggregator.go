package services

import (
	"time"

	"subtrack/internal/core"

	"github.com/shopspring/decimal"
)

// MonthlyEquivalent normalizes the subscription amount to a monthly cost.
// Unknown billing periods are taken at face value.
func MonthlyEquivalent(sub core.Subscription) decimal.Decimal {
	amount := sub.Amount.Decimal()
	strategy, err := GetBillingStrategy(sub.BillingPeriod)
	if err != nil {
		return amount
	}
	return strategy.MonthlyEquivalent(amount, sub.CustomPeriodDays)
}

// PortfolioMonthlyTotal sums the monthly equivalents of subs.
func PortfolioMonthlyTotal(subs []core.Subscription) decimal.Decimal {
	total := decimal.Zero
	for _, sub := range subs {
		total = total.Add(MonthlyEquivalent(sub))
	}
	return total
}

// ClassifyUrgency buckets a days-until value. The first matching rule wins.
func ClassifyUrgency(days int) core.Urgency {
	switch {
	case days < 0:
		return core.UrgencyOverdue
	case days == 0:
		return core.UrgencyDueToday
	case days == 1:
		return core.UrgencyDueTomorrow
	case days <= 3:
		return core.UrgencyUrgent
	case days <= 7:
		return core.UrgencyUpcoming
	default:
		return core.UrgencyNormal
	}
}

// UrgencyOf classifies the next renewal of sub relative to now.
func UrgencyOf(sub core.Subscription, now time.Time) core.Urgency {
	return ClassifyUrgency(core.DaysUntil(sub.RenewalDate, now))
}

// Summarize builds the portfolio overview in a single pass against one now.
// horizon and limit follow Upcoming and Limit.
func Summarize(subs []core.Subscription, now time.Time, horizon, limit int) core.PortfolioOverview {
	overview := core.PortfolioOverview{
		ActiveCount:  len(subs),
		MonthlyTotal: PortfolioMonthlyTotal(subs),
		ByUrgency:    make(map[core.Urgency]int),
	}

	for _, sub := range subs {
		days := core.DaysUntil(sub.RenewalDate, now)
		overview.ByUrgency[ClassifyUrgency(days)]++
		if days < 0 {
			continue
		}
		if overview.NextRenewal == nil || sub.RenewalDate.Before(*overview.NextRenewal) {
			next := sub.RenewalDate
			overview.NextRenewal = &next
		}
	}

	upcoming := Limit(Upcoming(subs, now, horizon), limit)
	overview.Upcoming = make([]core.UpcomingItem, 0, len(upcoming))
	for _, sub := range upcoming {
		overview.Upcoming = append(overview.Upcoming, project(sub, now))
	}
	return overview
}

func project(sub core.Subscription, now time.Time) core.UpcomingItem {
	days := core.DaysUntil(sub.RenewalDate, now)
	return core.UpcomingItem{
		Subscription:      sub,
		DaysUntil:         days,
		Urgency:           ClassifyUrgency(days),
		MonthlyEquivalent: MonthlyEquivalent(sub),
	}
}
