package core

import "github.com/shopspring/decimal"

// Urgency classifies how close a renewal is.
type Urgency string

const (
	UrgencyOverdue     Urgency = "overdue"
	UrgencyDueToday    Urgency = "due_today"
	UrgencyDueTomorrow Urgency = "due_tomorrow"
	UrgencyUrgent      Urgency = "urgent"
	UrgencyUpcoming    Urgency = "upcoming"
	UrgencyNormal      Urgency = "normal"
)

// UpcomingItem is a subscription projected into the reminder window.
type UpcomingItem struct {
	Subscription      Subscription    `json:"subscription"`
	DaysUntil         int             `json:"days_until"`
	Urgency           Urgency         `json:"urgency"`
	MonthlyEquivalent decimal.Decimal `json:"monthly_equivalent"`
}

// PortfolioOverview is a compact summary of one user's subscriptions,
// computed against a single snapshot of now.
type PortfolioOverview struct {
	ActiveCount  int             `json:"active_count"`
	MonthlyTotal decimal.Decimal `json:"monthly_total"`
	ByUrgency    map[Urgency]int `json:"by_urgency"`
	Upcoming     []UpcomingItem  `json:"upcoming"`
	NextRenewal  *Date           `json:"next_renewal,omitempty"`
}
