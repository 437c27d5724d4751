package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"ledger-service/internal/models"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const defaultRejectionReason = "No reason provided"

// RecomputeQueue schedules a balance recompute to run later.
type RecomputeQueue interface {
	DispatchRecompute(ctx context.Context, userID string) error
}

// ApprovalService moves transactions out of pending. The status change and
// every balance effect of an approval commit together.
type ApprovalService struct {
	Ledger       *LedgerService
	Transactions *TransactionService
	Log          zerolog.Logger
	Location     *time.Location

	// Retry, when set, receives users whose recompute after approval failed.
	Retry RecomputeQueue
}

func NewApprovalService(ledger *LedgerService, transactions *TransactionService, log zerolog.Logger) *ApprovalService {
	return &ApprovalService{Ledger: ledger, Transactions: transactions, Log: log, Location: time.Local}
}

func (s *ApprovalService) now() time.Time {
	return s.Ledger.Now()
}

// Approve transitions a pending transaction to approved and applies its
// balance effect. A deposit or plan also gets its ROI tier stamped and one
// day of profit credited immediately.
func (s *ApprovalService) Approve(ctx context.Context, id, actor string) (*models.Transaction, error) {
	if strings.TrimSpace(actor) == "" {
		actor = "admin"
	}

	var userID string
	err := s.Ledger.runInTx(ctx, func(tx *gorm.DB, events *eventBuffer) error {
		store := s.Transactions.withTx(tx)
		now := s.now()
		approved := models.StatusApproved

		err := store.UpdateFields(ctx, id, TransactionPatch{
			ApprovalStatus: &approved,
			ApprovedAt:     &now,
			ApprovedBy:     &actor,
		})
		if err != nil {
			return err
		}

		trx, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		userID = trx.UserID

		switch trx.Kind {
		case models.KindDeposit, models.KindPlan:
			return s.approveDeposit(ctx, tx, events, store, trx)
		case models.KindWithdrawal:
			_, err = s.Ledger.applyDeltaTx(tx, events, trx.UserID, CategoryWithdrawal, trx.Amount, "withdrawal-"+trx.ID, trx.ID)
			return err
		case models.KindEarnings:
			// the row itself is the earnings record
			_, err = s.Ledger.creditEarningsTx(tx, events, trx.UserID, trx.Amount, "earnings-"+trx.ID, trx.ID)
			return err
		}
		return validationErr("unknown transaction kind %q", trx.Kind)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.Ledger.Recompute(ctx, userID); err != nil {
		s.Log.Warn().Err(err).Str("transaction_id", id).Str("user_id", userID).Msg("recompute after approval failed")
		s.retryRecompute(ctx, id, userID)
	}

	s.Log.Info().Str("transaction_id", id).Str("user_id", userID).Str("actor", actor).Msg("transaction approved")
	return s.Transactions.Get(ctx, id)
}

func (s *ApprovalService) retryRecompute(ctx context.Context, id, userID string) {
	if s.Retry == nil {
		return
	}
	if err := s.Retry.DispatchRecompute(ctx, userID); err != nil {
		s.Log.Error().Err(err).Str("transaction_id", id).Str("user_id", userID).Msg("failed to queue balance recompute")
		return
	}
	s.Log.Info().Str("transaction_id", id).Str("user_id", userID).Msg("balance recompute queued")
}

func (s *ApprovalService) approveDeposit(ctx context.Context, tx *gorm.DB, events *eventBuffer, store *TransactionService, trx *models.Transaction) error {
	today := midnight(s.now(), s.Location)

	roi := ResolveROI(trx.Details.PlanType(), trx.Amount)
	planName := trx.Details.PlanName()
	if planName == "" {
		planName = trx.PlanDetails.PlanName
	}
	if planName == "" {
		planName = DefaultPlanName
	}

	err := store.UpdateFields(ctx, trx.ID, TransactionPatch{PlanDetails: &models.PlanDetails{
		PlanType:      models.PlanDailyReward,
		PlanName:      planName,
		RoiPercentage: roi,
		LastEarningAt: &today,
	}})
	if err != nil {
		return err
	}

	if _, err := s.Ledger.applyDeltaTx(tx, events, trx.UserID, CategoryDeposit, trx.Amount, "deposit-"+trx.ID, trx.ID); err != nil {
		return err
	}

	instant := InstantCredit(trx.Amount, roi)
	if !instant.IsPositive() {
		return nil
	}
	_, err = s.Ledger.creditWithRecordTx(tx, events, earningsCredit{
		UserID:      trx.UserID,
		Amount:      instant,
		PlanName:    planName + instantLabelSuffix,
		SourceTxID:  trx.ID,
		Description: "Instant profit for " + planName,
		AccrualKey:  instantAccrualKey(trx.ID, today),
	})
	if errors.Is(err, errAlreadyAccrued) {
		s.Log.Info().Str("transaction_id", trx.ID).Msg("instant earnings already credited today")
		return nil
	}
	return err
}

// Reject marks a pending transaction rejected. It has no balance effect.
func (s *ApprovalService) Reject(ctx context.Context, id, reason, actor string) (*models.Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		reason = defaultRejectionReason
	}
	if strings.TrimSpace(actor) == "" {
		actor = "admin"
	}

	now := s.now()
	rejected := models.StatusRejected
	err := s.Transactions.UpdateFields(ctx, id, TransactionPatch{
		ApprovalStatus:  &rejected,
		RejectedAt:      &now,
		RejectedBy:      &actor,
		RejectionReason: &reason,
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().Str("transaction_id", id).Str("actor", actor).Msg("transaction rejected")
	return s.Transactions.Get(ctx, id)
}
