package services

import (
	"context"
	"time"

	"ledger-service/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	dayKeyLayout  = "2006-01-02"
	hourKeyLayout = "2006-01-02T15"
)

// SummaryService serves the read side: balance summary and chart series.
type SummaryService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Location *time.Location
}

func NewSummaryService(db *gorm.DB, ledger *LedgerService) *SummaryService {
	return &SummaryService{DB: db, Ledger: ledger, Location: time.Local}
}

type BalanceSummary struct {
	CurrentBalance   decimal.Decimal `json:"currentBalance"`
	TotalDeposits    decimal.Decimal `json:"totalDeposits"`
	TotalEarnings    decimal.Decimal `json:"totalEarnings"`
	TotalWithdrawals decimal.Decimal `json:"totalWithdrawals"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

type HistoryPoint struct {
	Date    string          `json:"date"`
	Action  string          `json:"action"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

// Summary creates a zeroed record for unseen users.
func (s *SummaryService) Summary(ctx context.Context, userID string) (*BalanceSummary, error) {
	rec, err := s.Ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceSummary{
		CurrentBalance:   rec.CurrentBalance,
		TotalDeposits:    rec.TotalDeposits,
		TotalEarnings:    rec.TotalEarnings,
		TotalWithdrawals: rec.TotalWithdrawals,
		LastUpdated:      rec.LastUpdated,
	}, nil
}

// BalanceWithHistory returns the record with its mutation history since days ago.
func (s *SummaryService) BalanceWithHistory(ctx context.Context, userID string, days int) (*models.BalanceRecord, error) {
	rec, err := s.Ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	entries, err := s.entriesSince(ctx, userID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}
	rec.History = entries
	return rec, nil
}

func (s *SummaryService) now() time.Time {
	return s.Ledger.Now().In(s.Location)
}

func (s *SummaryService) entriesSince(ctx context.Context, userID string, cutoff time.Time) ([]models.BalanceHistoryEntry, error) {
	var entries []models.BalanceHistoryEntry
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, cutoff).
		Order("date ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, storageErr("load balance history", err)
	}
	return entries, nil
}

// balanceBefore is the balance recorded by the last entry before cutoff, or zero.
func (s *SummaryService) balanceBefore(ctx context.Context, userID string, cutoff time.Time) (decimal.Decimal, error) {
	var entry models.BalanceHistoryEntry
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND date < ?", userID, cutoff).
		Order("date DESC, id DESC").
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return decimal.Zero, storageErr("load balance history", err)
	}
	if entry.ID == 0 {
		return decimal.Zero, nil
	}
	return entry.BalanceAfter, nil
}

// History lists every mutation in the last days days, oldest first.
func (s *SummaryService) History(ctx context.Context, userID string, days int) ([]HistoryPoint, error) {
	if days <= 0 {
		days = 30
	}
	entries, err := s.entriesSince(ctx, userID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	points := make([]HistoryPoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, HistoryPoint{
			Date:    e.Date.In(s.Location).Format(dayKeyLayout),
			Action:  e.Action,
			Amount:  e.Amount,
			Balance: e.BalanceAfter,
		})
	}
	return points, nil
}

// DailySeries returns one point per calendar day ending today. Days without
// activity carry the last known balance forward.
func (s *SummaryService) DailySeries(ctx context.Context, userID string, days int) ([]HistoryPoint, error) {
	if days <= 0 {
		days = 30
	}
	start := midnight(s.now(), s.Location).AddDate(0, 0, -(days - 1))
	return s.series(ctx, userID, start, days, func(t time.Time, i int) time.Time {
		return t.AddDate(0, 0, i)
	}, dayKeyLayout, "daily")
}

// HourlySeries returns one point per hour for the last hours hours.
func (s *SummaryService) HourlySeries(ctx context.Context, userID string, hours int) ([]HistoryPoint, error) {
	if hours <= 0 {
		hours = 24
	}
	start := s.now().Truncate(time.Hour).Add(-time.Duration(hours-1) * time.Hour)
	return s.series(ctx, userID, start, hours, func(t time.Time, i int) time.Time {
		return t.Add(time.Duration(i) * time.Hour)
	}, hourKeyLayout, "hourly")
}

func (s *SummaryService) series(ctx context.Context, userID string, start time.Time, n int, step func(time.Time, int) time.Time, layout, action string) ([]HistoryPoint, error) {
	last, err := s.balanceBefore(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	entries, err := s.entriesSince(ctx, userID, start)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		// entries are ascending, so the last one in a bucket wins
		byKey[e.Date.In(s.Location).Format(layout)] = e.BalanceAfter
	}

	points := make([]HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		key := step(start, i).Format(layout)
		if bal, ok := byKey[key]; ok {
			last = bal
		}
		points = append(points, HistoryPoint{Date: key, Action: action, Amount: decimal.Zero, Balance: last})
	}
	return points, nil
}
