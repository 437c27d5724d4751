package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-service/internal/models"
	"ledger-service/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestApproveDepositCreditsDepositAndInstantProfit(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	trx := env.deposit(t, user, "100", nil)

	approved, err := env.approvals.Approve(env.ctx, trx.ID, "admin@example.com")
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, approved.ApprovalStatus)
	assert.Equal(t, "admin@example.com", approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, day0.Equal(*approved.ApprovedAt))

	assert.Equal(t, models.PlanDailyReward, approved.PlanDetails.PlanType)
	assert.Equal(t, DefaultPlanName, approved.PlanDetails.PlanName)
	assert.Equal(t, 6, approved.PlanDetails.RoiPercentage)
	require.NotNil(t, approved.PlanDetails.LastEarningAt)
	assert.True(t, midnight(day0, time.UTC).Equal(*approved.PlanDetails.LastEarningAt))

	rec := env.balance(t, user)
	requireDecimal(t, "100", rec.TotalDeposits)
	requireDecimal(t, "6", rec.TotalEarnings)
	requireDecimal(t, "0", rec.TotalWithdrawals)
	requireDecimal(t, "106", rec.CurrentBalance)
	requireInvariant(t, rec)

	rows := env.earningsRows(t, user)
	require.Len(t, rows, 1)
	requireDecimal(t, "6", rows[0].Amount)
	assert.Equal(t, trx.ID, rows[0].SourceTxID)
	assert.Equal(t, "deposit-instant", rows[0].Details.Earnings.PlanName)
	assert.Equal(t, models.StatusApproved, rows[0].ApprovalStatus)
}

func TestApproveUsesPlanNameFromDetails(t *testing.T) {
	env := newTestEnv(t)
	trx := env.deposit(t, "a@example.com", "10", &models.DepositDetails{PlanType: "premium", PlanName: "Gold"})

	approved, err := env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "Gold", approved.PlanDetails.PlanName)
	assert.Equal(t, 8, approved.PlanDetails.RoiPercentage)

	rows := env.earningsRows(t, "a@example.com")
	require.Len(t, rows, 1)
	assert.Equal(t, "Gold-instant", rows[0].Details.Earnings.PlanName)
	requireDecimal(t, "0.8", rows[0].Amount)
}

func TestApproveTierMapping(t *testing.T) {
	tests := []struct {
		amount   string
		planType string
		wantROI  int
	}{
		{"50", "", 4},
		{"200", "", 6},
		{"1000", "", 8},
		{"10", "premium", 8},
	}
	for _, tt := range tests {
		t.Run(tt.amount+"/"+tt.planType, func(t *testing.T) {
			env := newTestEnv(t)
			var details *models.DepositDetails
			if tt.planType != "" {
				details = &models.DepositDetails{PlanType: tt.planType}
			}
			trx := env.deposit(t, "a@example.com", tt.amount, details)

			approved, err := env.approvals.Approve(env.ctx, trx.ID, "admin")
			require.NoError(t, err)
			assert.Equal(t, tt.wantROI, approved.PlanDetails.RoiPercentage)
		})
	}
}

func TestApproveTwiceFailsWithAlreadyApproved(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	trx := env.deposit(t, user, "100", nil)

	_, err := env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.NoError(t, err)

	_, err = env.approvals.Approve(env.ctx, trx.ID, "admin")
	assert.ErrorIs(t, err, ErrAlreadyApproved)

	rec := env.balance(t, user)
	requireDecimal(t, "100", rec.TotalDeposits)
	requireDecimal(t, "106", rec.CurrentBalance)
	assert.Len(t, env.earningsRows(t, user), 1)
}

func TestConcurrentDuplicateApprovalsCreditOnce(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	trx := env.deposit(t, user, "100", nil)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.approvals.Approve(env.ctx, trx.ID, "admin")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyApproved)
	}
	assert.Equal(t, 1, succeeded)

	rec := env.balance(t, user)
	requireDecimal(t, "100", rec.TotalDeposits)
	requireDecimal(t, "6", rec.TotalEarnings)
	requireDecimal(t, "106", rec.CurrentBalance)
	assert.Len(t, env.earningsRows(t, user), 1)
}

func TestApproveSkipsInstantCreditAlreadyRecordedToday(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	trx := env.deposit(t, user, "100", nil)

	key := instantAccrualKey(trx.ID, midnight(day0, time.UTC))
	approvedAt := day0
	require.NoError(t, env.db.Create(&models.Transaction{
		ID:             "prior-instant",
		UserID:         user,
		Kind:           models.KindEarnings,
		Amount:         dec("6"),
		ApprovalStatus: models.StatusApproved,
		SubmittedAt:    day0,
		ApprovedAt:     &approvedAt,
		SourceTxID:     trx.ID,
		AccrualKey:     &key,
		Details:        models.Details{Earnings: &models.EarningsDetails{PlanName: "deposit-instant", SourceTxID: trx.ID}},
	}).Error)

	_, err := env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.NoError(t, err)

	assert.Len(t, env.earningsRows(t, user), 1)
	rec := env.balance(t, user)
	requireDecimal(t, "6", rec.TotalEarnings)
	requireDecimal(t, "106", rec.CurrentBalance)
}

func TestApproveWithdrawalDebitsOnly(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	env.approvedDeposit(t, user, "100")
	w := env.withdrawal(t, user, "50")

	approved, err := env.approvals.Approve(env.ctx, w.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.ApprovalStatus)
	assert.Empty(t, approved.PlanDetails.PlanType)
	assert.Nil(t, approved.PlanDetails.LastEarningAt)

	rec := env.balance(t, user)
	requireDecimal(t, "50", rec.TotalWithdrawals)
	requireDecimal(t, "56", rec.CurrentBalance)
	assert.Len(t, env.earningsRows(t, user), 1)
	requireInvariant(t, rec)
}

func TestApproveManualEarningsDoesNotDuplicateRow(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	trx, err := env.trx.Record(env.ctx, RecordTransactionDTO{
		UserID:  user,
		Kind:    models.KindEarnings,
		Amount:  dec("10"),
		Details: models.Details{Earnings: &models.EarningsDetails{PlanName: "referral"}},
	})
	require.NoError(t, err)

	_, err = env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.NoError(t, err)

	assert.Len(t, env.earningsRows(t, user), 1)
	rec := env.balance(t, user)
	requireDecimal(t, "10", rec.TotalEarnings)
	requireDecimal(t, "10", rec.CurrentBalance)
}

func TestApproveMissingTransaction(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.approvals.Approve(env.ctx, "missing", "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectPendingWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	w := env.withdrawal(t, user, "50")

	rejected, err := env.approvals.Reject(env.ctx, w.ID, "address mismatch", "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.ApprovalStatus)
	assert.Equal(t, "address mismatch", rejected.RejectionReason)
	assert.Equal(t, "ops@example.com", rejected.RejectedBy)
	require.NotNil(t, rejected.RejectedAt)

	rec, err := env.ledger.GetOrCreate(env.ctx, user)
	require.NoError(t, err)
	requireDecimal(t, "0", rec.TotalWithdrawals)
	requireDecimal(t, "0", rec.CurrentBalance)
}

func TestRejectDefaultsReason(t *testing.T) {
	env := newTestEnv(t)
	w := env.withdrawal(t, "a@example.com", "50")

	rejected, err := env.approvals.Reject(env.ctx, w.ID, "  ", "")
	require.NoError(t, err)
	assert.Equal(t, defaultRejectionReason, rejected.RejectionReason)
	assert.Equal(t, "admin", rejected.RejectedBy)
}

func TestTerminalStatesRefuseTransitions(t *testing.T) {
	env := newTestEnv(t)
	approved := env.approvedDeposit(t, "a@example.com", "100")
	rejected := env.withdrawal(t, "a@example.com", "10")
	_, err := env.approvals.Reject(env.ctx, rejected.ID, "", "admin")
	require.NoError(t, err)

	_, err = env.approvals.Reject(env.ctx, approved.ID, "late", "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.approvals.Reject(env.ctx, rejected.ID, "again", "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.approvals.Approve(env.ctx, rejected.ID, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, errors.Is(err, ErrAlreadyApproved))

	_, err = env.approvals.Reject(env.ctx, "missing", "", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := env.trx.Get(env.ctx, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.ApprovalStatus)
	assert.Empty(t, got.RejectionReason)
}

type recomputeQueue struct {
	mu    sync.Mutex
	users []string
}

func (q *recomputeQueue) DispatchRecompute(_ context.Context, userID string) error {
	q.mu.Lock()
	q.users = append(q.users, userID)
	q.mu.Unlock()
	return nil
}

func TestApproveQueuesRecomputeWhenItFails(t *testing.T) {
	env := newTestEnv(t)
	queue := &recomputeQueue{}
	env.approvals.Retry = queue

	// balance writes start failing once the approval has committed
	var failing atomic.Bool
	env.ledger.Observer = notify.ObserverFunc(func(context.Context, notify.BalanceEvent) error {
		failing.Store(true)
		return nil
	})
	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_balances", func(tx *gorm.DB) {
		if failing.Load() && tx.Statement.Table == "balances" {
			tx.AddError(errors.New("balances unavailable"))
		}
	}))

	trx := env.deposit(t, "a@example.com", "100", nil)
	approved, err := env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.ApprovalStatus)
	assert.Equal(t, []string{"a@example.com"}, queue.users)

	failing.Store(false)
	rec, err := env.ledger.Recompute(env.ctx, "a@example.com")
	require.NoError(t, err)
	requireDecimal(t, "106", rec.CurrentBalance)
}

func TestApproveDoesNotQueueRecomputeOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	queue := &recomputeQueue{}
	env.approvals.Retry = queue

	env.approvedDeposit(t, "a@example.com", "100")
	assert.Empty(t, queue.users)
}
