package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EarningsService is the daily accrual engine. Each run walks every
// qualifying user; a failure for one user is logged and the run moves on.
type EarningsService struct {
	Ledger       *LedgerService
	Transactions *TransactionService
	Log          zerolog.Logger
	DailyRate    decimal.Decimal
	Location     *time.Location
}

func NewEarningsService(ledger *LedgerService, transactions *TransactionService, rate decimal.Decimal, log zerolog.Logger) *EarningsService {
	return &EarningsService{
		Ledger:       ledger,
		Transactions: transactions,
		Log:          log,
		DailyRate:    rate,
		Location:     time.Local,
	}
}

type AccrualReport struct {
	Users    int             `json:"users"`
	Credited int             `json:"credited"`
	Skipped  int             `json:"skipped"`
	Failed   int             `json:"failed"`
	Total    decimal.Decimal `json:"total"`
}

type accrualOutcome int

const (
	outcomeSkipped accrualOutcome = iota
	outcomeCredited
)

func (s *EarningsService) forEachUser(ctx context.Context, run string, fn func(ctx context.Context, userID string) (accrualOutcome, decimal.Decimal, error)) (*AccrualReport, error) {
	users, err := s.Transactions.QualifyingUsers(ctx)
	if err != nil {
		return nil, err
	}

	report := &AccrualReport{Users: len(users), Total: decimal.Zero}
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, amount, err := fn(ctx, userID)
		if err != nil {
			report.Failed++
			s.Log.Error().Err(err).Str("run", run).Str("user_id", userID).Msg("earnings accrual failed for user")
			continue
		}
		switch outcome {
		case outcomeCredited:
			report.Credited++
			report.Total = report.Total.Add(amount)
		default:
			report.Skipped++
		}
	}

	s.Log.Info().
		Str("run", run).
		Int("users", report.Users).
		Int("credited", report.Credited).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Str("total", report.Total.String()).
		Msg("earnings accrual finished")
	return report, nil
}

// EnsureDailyRewardsForToday credits DailyRate of the current balance to every
// qualifying user at most once per calendar day.
func (s *EarningsService) EnsureDailyRewardsForToday(ctx context.Context) (*AccrualReport, error) {
	return s.forEachUser(ctx, "daily-rewards", s.ensureDailyForUser)
}

func (s *EarningsService) ensureDailyForUser(ctx context.Context, userID string) (accrualOutcome, decimal.Decimal, error) {
	today := midnight(s.Ledger.Now(), s.Location)
	var credited decimal.Decimal

	err := s.Ledger.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		rec, err := s.Ledger.loadOrCreate(tx, userID)
		if err != nil {
			return err
		}
		amount := rec.CurrentBalance.Mul(s.DailyRate).Round(moneyPlaces)
		if !amount.IsPositive() {
			credited = decimal.Zero
			return nil
		}

		_, err = s.Ledger.creditWithRecordTx(tx, events, earningsCredit{
			UserID:      userID,
			Amount:      amount,
			PlanName:    DailyPercentPlan,
			Description: fmt.Sprintf("Daily earnings (%s%% of balance)", s.DailyRate.Mul(hundred).String()),
			AccrualKey:  dailyAccrualKey(userID, today),
			Label:       "earnings-" + DailyPercentPlan,
		})
		if err != nil {
			return err
		}
		if err := s.Transactions.withTx(tx).StampLastEarning(ctx, userID, today, false); err != nil {
			return err
		}
		credited = amount
		return nil
	})
	if errors.Is(err, errAlreadyAccrued) {
		return outcomeSkipped, decimal.Zero, nil
	}
	if err != nil {
		return outcomeSkipped, decimal.Zero, err
	}
	if credited.IsPositive() {
		return outcomeCredited, credited, nil
	}
	return outcomeSkipped, decimal.Zero, nil
}

// ProcessDailyEarnings is the catch-up run: for each user it credits one
// batch covering every whole day since the last accrual, computed from the
// balance at credit time, and advances lastEarningAt by those days.
func (s *EarningsService) ProcessDailyEarnings(ctx context.Context) (*AccrualReport, error) {
	return s.forEachUser(ctx, "catch-up", s.catchUpUser)
}

func (s *EarningsService) catchUpUser(ctx context.Context, userID string) (accrualOutcome, decimal.Decimal, error) {
	now := s.Ledger.Now()
	today := midnight(now, s.Location)
	var credited decimal.Decimal

	err := s.Ledger.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		store := s.Transactions.withTx(tx)

		qualifying, err := store.qualifyingByUser(ctx, userID)
		if err != nil {
			return err
		}
		latest, err := store.latestEarningsAt(ctx, userID)
		if err != nil {
			return err
		}
		last := ResolveLastAccrual(qualifying, latest, now)
		days := ElapsedDays(last, now)
		if days <= 0 {
			credited = decimal.Zero
			return nil
		}

		rec, err := s.Ledger.loadOrCreate(tx, userID)
		if err != nil {
			return err
		}
		daily := rec.CurrentBalance.Mul(s.DailyRate)
		amount := daily.Mul(decimal.NewFromInt(int64(days))).Round(moneyPlaces)
		if !amount.IsPositive() {
			credited = decimal.Zero
			return nil
		}

		_, err = s.Ledger.creditWithRecordTx(tx, events, earningsCredit{
			UserID:      userID,
			Amount:      amount,
			PlanName:    DailyPercentPlan,
			Description: fmt.Sprintf("Catch-up earnings for %d day(s)", days),
			AccrualKey:  dailyAccrualKey(userID, today),
			Label:       fmt.Sprintf("earnings-%s-x%d", DailyPercentPlan, days),
		})
		if err != nil {
			return err
		}

		mark := last.Add(time.Duration(days) * oneDay)
		if err := store.StampLastEarning(ctx, userID, mark, true); err != nil {
			return err
		}
		credited = amount
		return nil
	})
	if errors.Is(err, errAlreadyAccrued) {
		return outcomeSkipped, decimal.Zero, nil
	}
	if err != nil {
		return outcomeSkipped, decimal.Zero, err
	}
	if credited.IsPositive() {
		return outcomeCredited, credited, nil
	}
	return outcomeSkipped, decimal.Zero, nil
}
