package services

import (
	"strings"
	"time"

	"ledger-service/internal/models"

	"github.com/shopspring/decimal"
)

const (
	DefaultPlanName    = "deposit"
	DailyPercentPlan   = "daily-balance-percent"
	moneyPlaces        = 8
	oneDay             = 24 * time.Hour
	instantLabelSuffix = "-instant"
	accrualDateLayout  = "2006-01-02"
)

var (
	tierBasicMax    = decimal.NewFromInt(99)
	tierStandardMax = decimal.NewFromInt(499)
	hundred         = decimal.NewFromInt(100)
)

// ResolveROI returns the daily ROI percentage for a deposit. A known plan type
// wins; otherwise the amount bracket decides: <99 is 4, <499 is 6, else 8.
func ResolveROI(planType string, amount decimal.Decimal) int {
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case "basic":
		return 4
	case "standard":
		return 6
	case "premium":
		return 8
	}
	switch {
	case amount.LessThan(tierBasicMax):
		return 4
	case amount.LessThan(tierStandardMax):
		return 6
	default:
		return 8
	}
}

// InstantCredit is one day of profit at roi percent.
func InstantCredit(amount decimal.Decimal, roi int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(roi))).Div(hundred).Round(moneyPlaces)
}

// ResolveLastAccrual picks the catch-up anchor for a user, in order:
// earliest lastEarningAt on a qualifying transaction, newest earnings
// submission, earliest approval (or submission), now.
func ResolveLastAccrual(qualifying []models.Transaction, latestEarnings *time.Time, now time.Time) time.Time {
	var earliestMark *time.Time
	for i := range qualifying {
		m := qualifying[i].PlanDetails.LastEarningAt
		if m != nil && (earliestMark == nil || m.Before(*earliestMark)) {
			earliestMark = m
		}
	}
	if earliestMark != nil {
		return *earliestMark
	}

	if latestEarnings != nil {
		return *latestEarnings
	}

	var earliestApproval *time.Time
	for i := range qualifying {
		t := qualifying[i].ApprovedAt
		if t == nil {
			t = &qualifying[i].SubmittedAt
		}
		if t.IsZero() {
			continue
		}
		if earliestApproval == nil || t.Before(*earliestApproval) {
			earliestApproval = t
		}
	}
	if earliestApproval != nil {
		return *earliestApproval
	}
	return now
}

// ElapsedDays counts whole 24h periods between last and now; never negative.
func ElapsedDays(last, now time.Time) int {
	if !now.After(last) {
		return 0
	}
	return int(now.Sub(last) / oneDay)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dailyAccrualKey(userID string, today time.Time) string {
	return DailyPercentPlan + ":" + userID + ":" + today.Format(accrualDateLayout)
}

func instantAccrualKey(txID string, today time.Time) string {
	return "instant:" + txID + ":" + today.Format(accrualDateLayout)
}
