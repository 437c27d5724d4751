package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/models"
	"ledger-service/internal/notify"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	maxWriteAttempts = 5
	SystemActor      = "system"
)

type BalanceCategory string

const (
	CategoryDeposit    BalanceCategory = "deposit"
	CategoryWithdrawal BalanceCategory = "withdrawal"
)

// LedgerService owns the per-user balance aggregate. Every write is version
// checked; a lost race retries the whole database transaction.
type LedgerService struct {
	DB       *gorm.DB
	Observer notify.Observer
	Log      zerolog.Logger
	Now      func() time.Time
}

func NewLedgerService(db *gorm.DB, observer notify.Observer, log zerolog.Logger) *LedgerService {
	return &LedgerService{DB: db, Observer: observer, Log: log, Now: time.Now}
}

type eventBuffer struct {
	events []notify.BalanceEvent
}

func (b *eventBuffer) add(ev notify.BalanceEvent) {
	b.events = append(b.events, ev)
}

// runInTx runs fn inside a database transaction and emits the events fn
// collected once the transaction has committed.
func (s *LedgerService) runInTx(ctx context.Context, fn func(tx *gorm.DB, events *eventBuffer) error) error {
	for attempt := 1; ; attempt++ {
		events := &eventBuffer{}
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx, events)
		})
		if errors.Is(err, errVersionConflict) {
			if attempt < maxWriteAttempts {
				continue
			}
			return storageErr("balance write", err)
		}
		if err != nil {
			return err
		}
		s.emit(ctx, events.events...)
		return nil
	}
}

func (s *LedgerService) emit(ctx context.Context, events ...notify.BalanceEvent) {
	if s.Observer == nil {
		return
	}
	for _, ev := range events {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.Log.Error().Interface("panic", r).Str("user_id", ev.UserID).Msg("balance observer panicked")
				}
			}()
			if err := s.Observer.Notify(ctx, ev); err != nil {
				s.Log.Warn().Err(err).Str("user_id", ev.UserID).Msg("failed to emit balance update")
			}
		}()
	}
}

func currentBalance(rec *models.BalanceRecord) decimal.Decimal {
	return rec.TotalDeposits.Add(rec.TotalEarnings).Sub(rec.TotalWithdrawals)
}

func (s *LedgerService) loadOrCreate(tx *gorm.DB, userID string) (*models.BalanceRecord, error) {
	var rec models.BalanceRecord
	err := tx.Where("user_id = ?", userID).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storageErr("load balance", err)
	}

	rec = models.BalanceRecord{
		UserID:           userID,
		CurrentBalance:   decimal.Zero,
		TotalDeposits:    decimal.Zero,
		TotalEarnings:    decimal.Zero,
		TotalWithdrawals: decimal.Zero,
		LastUpdated:      s.Now(),
	}
	if err := tx.Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// created concurrently; the retry will read it
			return nil, errVersionConflict
		}
		return nil, storageErr("create balance", err)
	}
	return &rec, nil
}

func (s *LedgerService) save(tx *gorm.DB, rec *models.BalanceRecord) error {
	res := tx.Model(&models.BalanceRecord{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"current_balance":   rec.CurrentBalance,
			"total_deposits":    rec.TotalDeposits,
			"total_earnings":    rec.TotalEarnings,
			"total_withdrawals": rec.TotalWithdrawals,
			"last_updated":      rec.LastUpdated,
			"version":           rec.Version + 1,
		})
	if res.Error != nil {
		return storageErr("save balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}
	rec.Version++
	return nil
}

func (s *LedgerService) appendHistory(tx *gorm.DB, rec *models.BalanceRecord, action string, amount decimal.Decimal, txID string) (notify.BalanceEvent, error) {
	entry := models.BalanceHistoryEntry{
		UserID:        rec.UserID,
		Date:          rec.LastUpdated,
		Action:        action,
		Amount:        amount,
		BalanceAfter:  rec.CurrentBalance,
		TransactionID: txID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return notify.BalanceEvent{}, storageErr("append balance history", err)
	}
	return notify.BalanceEvent{
		UserID:         rec.UserID,
		CurrentBalance: rec.CurrentBalance,
		LastUpdated:    rec.LastUpdated,
		RecentEntry: &notify.RecentEntry{
			Date:    entry.Date,
			Action:  entry.Action,
			Amount:  entry.Amount,
			Balance: entry.BalanceAfter,
		},
	}, nil
}

func (s *LedgerService) applyDeltaTx(tx *gorm.DB, events *eventBuffer, userID string, category BalanceCategory, amount decimal.Decimal, label, txID string) (*models.BalanceRecord, error) {
	if !amount.IsPositive() {
		return nil, validationErr("amount must be positive, got %s", amount)
	}

	rec, err := s.loadOrCreate(tx, userID)
	if err != nil {
		return nil, err
	}
	switch category {
	case CategoryDeposit:
		rec.TotalDeposits = rec.TotalDeposits.Add(amount)
	case CategoryWithdrawal:
		rec.TotalWithdrawals = rec.TotalWithdrawals.Add(amount)
	default:
		return nil, validationErr("unknown balance category %q", category)
	}
	rec.CurrentBalance = currentBalance(rec)
	rec.LastUpdated = s.Now()

	if err := s.save(tx, rec); err != nil {
		return nil, err
	}
	ev, err := s.appendHistory(tx, rec, label, amount, txID)
	if err != nil {
		return nil, err
	}
	events.add(ev)
	return rec, nil
}

// earningsCredit describes one earnings credit. AccrualKey, when set, makes
// the credit unique: a second credit with the same key fails with
// errAlreadyAccrued and leaves nothing behind.
type earningsCredit struct {
	UserID      string
	Amount      decimal.Decimal
	PlanName    string
	SourceTxID  string
	Description string
	AccrualKey  string
	Label       string
}

func (s *LedgerService) recordEarningsTx(tx *gorm.DB, c earningsCredit) (*models.Transaction, error) {
	now := s.Now()
	desc := c.Description
	if desc == "" {
		desc = fmt.Sprintf("Earnings credited: %s", c.PlanName)
	}
	trx := &models.Transaction{
		ID:             uuid.NewString(),
		UserID:         c.UserID,
		Kind:           models.KindEarnings,
		Amount:         c.Amount,
		Description:    desc,
		ApprovalStatus: models.StatusApproved,
		SubmittedAt:    now,
		ApprovedAt:     &now,
		ApprovedBy:     SystemActor,
		SourceTxID:     c.SourceTxID,
		Details: models.Details{Earnings: &models.EarningsDetails{
			PlanName:   c.PlanName,
			SourceTxID: c.SourceTxID,
			Auto:       true,
		}},
	}
	if c.AccrualKey != "" {
		key := c.AccrualKey
		trx.AccrualKey = &key
	}

	if err := (&TransactionService{DB: tx, Now: s.Now}).insert(tx.Statement.Context, trx); err != nil {
		if c.AccrualKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errAlreadyAccrued
		}
		return nil, storageErr("record earnings", err)
	}
	return trx, nil
}

func (s *LedgerService) creditEarningsTx(tx *gorm.DB, events *eventBuffer, userID string, amount decimal.Decimal, label, txID string) (*models.BalanceRecord, error) {
	if !amount.IsPositive() {
		return nil, validationErr("earnings must be positive, got %s", amount)
	}

	rec, err := s.loadOrCreate(tx, userID)
	if err != nil {
		return nil, err
	}
	rec.TotalEarnings = rec.TotalEarnings.Add(amount)
	rec.CurrentBalance = currentBalance(rec)
	rec.LastUpdated = s.Now()

	if err := s.save(tx, rec); err != nil {
		return nil, err
	}
	ev, err := s.appendHistory(tx, rec, label, amount, txID)
	if err != nil {
		return nil, err
	}
	events.add(ev)
	return rec, nil
}

// creditWithRecordTx writes the earnings row and credits it in one step.
func (s *LedgerService) creditWithRecordTx(tx *gorm.DB, events *eventBuffer, c earningsCredit) (*models.BalanceRecord, error) {
	trx, err := s.recordEarningsTx(tx, c)
	if err != nil {
		return nil, err
	}
	label := c.Label
	if label == "" {
		label = "earnings-" + c.PlanName
	}
	return s.creditEarningsTx(tx, events, c.UserID, c.Amount, label, trx.ID)
}

func (s *LedgerService) GetOrCreate(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := s.runInTx(ctx, func(tx *gorm.DB, _ *eventBuffer) error {
		var err error
		rec, err = s.loadOrCreate(tx, userID)
		return err
	})
	return rec, err
}

// ApplyDelta adds amount to the deposit or withdrawal total and appends a
// history entry labelled action.
func (s *LedgerService) ApplyDelta(ctx context.Context, userID string, category BalanceCategory, amount decimal.Decimal, action string) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := s.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		var err error
		rec, err = s.applyDeltaTx(tx, events, userID, category, amount, action, "")
		return err
	})
	return rec, err
}

// ApplyEarnings credits spendable earnings and writes the matching approved
// earnings transaction so a later Recompute arrives at the same totals.
func (s *LedgerService) ApplyEarnings(ctx context.Context, userID string, amount decimal.Decimal, label, sourceTxID string) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := s.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		var err error
		rec, err = s.creditWithRecordTx(tx, events, earningsCredit{
			UserID:     userID,
			Amount:     amount.Round(moneyPlaces),
			PlanName:   label,
			SourceTxID: sourceTxID,
			Label:      label,
		})
		return err
	})
	return rec, err
}

// Recompute rebuilds the aggregate from the user's approved transactions.
func (s *LedgerService) Recompute(ctx context.Context, userID string) (*models.BalanceRecord, error) {
	var rec *models.BalanceRecord
	err := s.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		trxs, err := (&TransactionService{DB: tx, Now: s.Now}).approvedByUser(ctx, userID)
		if err != nil {
			return err
		}

		deposits, withdrawals, earnings := decimal.Zero, decimal.Zero, decimal.Zero
		for _, t := range trxs {
			switch t.Kind {
			case models.KindDeposit, models.KindPlan:
				deposits = deposits.Add(t.Amount)
			case models.KindWithdrawal:
				withdrawals = withdrawals.Add(t.Amount)
			case models.KindEarnings:
				earnings = earnings.Add(t.Amount)
			}
		}

		rec, err = s.loadOrCreate(tx, userID)
		if err != nil {
			return err
		}
		rec.TotalDeposits = deposits
		rec.TotalWithdrawals = withdrawals
		rec.TotalEarnings = earnings
		rec.CurrentBalance = currentBalance(rec)
		rec.LastUpdated = s.Now()
		if err := s.save(tx, rec); err != nil {
			return err
		}

		events.add(notify.BalanceEvent{
			UserID:         userID,
			CurrentBalance: rec.CurrentBalance,
			LastUpdated:    rec.LastUpdated,
			RecentEntry: &notify.RecentEntry{
				Date:    rec.LastUpdated,
				Action:  "recalculate",
				Amount:  decimal.Zero,
				Balance: rec.CurrentBalance,
			},
		})
		return nil
	})
	return rec, err
}
