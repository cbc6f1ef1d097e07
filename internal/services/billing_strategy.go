// Package services provides business logic and orchestration services.
//
// This file holds the per-period billing strategies used to normalize
// subscription amounts into a monthly cost.
package services

import (
	"fmt"
	"subtrack/internal/core"

	"github.com/shopspring/decimal"
)

var (
	monthsPerYear = decimal.NewFromInt(12)
	daysPerMonth  = decimal.NewFromInt(30)
)

// BillingStrategy converts an amount charged once per period into its
// monthly equivalent.
type BillingStrategy interface {
	MonthlyEquivalent(amount decimal.Decimal, customDays *int) decimal.Decimal
}

// MonthlyBilling charges the full amount every month.
type MonthlyBilling struct{}

func (MonthlyBilling) MonthlyEquivalent(amount decimal.Decimal, _ *int) decimal.Decimal {
	return amount
}

// YearlyBilling spreads the amount over twelve months.
type YearlyBilling struct{}

func (YearlyBilling) MonthlyEquivalent(amount decimal.Decimal, _ *int) decimal.Decimal {
	return amount.Div(monthsPerYear)
}

// CustomBilling charges every customDays days, normalized to a 30-day month.
// Without a day count the amount is taken as monthly.
type CustomBilling struct{}

func (CustomBilling) MonthlyEquivalent(amount decimal.Decimal, customDays *int) decimal.Decimal {
	if customDays == nil || *customDays <= 0 {
		return amount
	}
	return amount.Mul(daysPerMonth).Div(decimal.NewFromInt(int64(*customDays)))
}

var billingStrategies = map[core.BillingPeriod]BillingStrategy{
	core.Monthly: MonthlyBilling{},
	core.Yearly:  YearlyBilling{},
	core.Custom:  CustomBilling{},
}

// GetBillingStrategy returns the strategy registered for a billing period.
func GetBillingStrategy(period core.BillingPeriod) (BillingStrategy, error) {
	strategy, ok := billingStrategies[period]
	if !ok {
		return nil, fmt.Errorf("unknown billing period: %s", period)
	}
	return strategy, nil
}

// RegisterBillingStrategy adds or replaces the strategy for a billing period.
func RegisterBillingStrategy(period core.BillingPeriod, strategy BillingStrategy) {
	billingStrategies[period] = strategy
}
