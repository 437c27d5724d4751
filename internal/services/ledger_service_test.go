package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/models"
	"ledger-service/internal/notify"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReturnsZeroedRecord(t *testing.T) {
	env := newTestEnv(t)

	rec, err := env.ledger.GetOrCreate(env.ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", rec.UserID)
	requireDecimal(t, "0", rec.CurrentBalance)

	again, err := env.ledger.GetOrCreate(env.ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Empty(t, env.observer.Events(), "reads do not notify")
}

func TestGetOrCreateConcurrentCallsShareOneRecord(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.ledger.GetOrCreate(env.ctx, "race@example.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var count int64
	env.db.Model(&models.BalanceRecord{}).Where("user_id = ?", "race@example.com").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestApplyDeltaUpdatesTotalsAndHistory(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"

	_, err := env.ledger.ApplyDelta(env.ctx, user, CategoryDeposit, dec("100"), "deposit-manual")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)
	rec, err := env.ledger.ApplyDelta(env.ctx, user, CategoryWithdrawal, dec("30"), "withdrawal-manual")
	require.NoError(t, err)

	requireDecimal(t, "100", rec.TotalDeposits)
	requireDecimal(t, "30", rec.TotalWithdrawals)
	requireDecimal(t, "70", rec.CurrentBalance)
	assert.Equal(t, day0.Add(time.Minute), rec.LastUpdated)
	requireInvariant(t, env.balance(t, user))

	var history []models.BalanceHistoryEntry
	require.NoError(t, env.db.Where("user_id = ?", user).Order("id").Find(&history).Error)
	require.Len(t, history, 2)
	assert.Equal(t, "deposit-manual", history[0].Action)
	requireDecimal(t, "100", history[0].BalanceAfter)
	assert.Equal(t, "withdrawal-manual", history[1].Action)
	requireDecimal(t, "70", history[1].BalanceAfter)

	events := env.observer.Events()
	require.Len(t, events, 2)
	assert.Equal(t, user, events[1].UserID)
	requireDecimal(t, "70", events[1].CurrentBalance)
	require.NotNil(t, events[1].RecentEntry)
	assert.Equal(t, "withdrawal-manual", events[1].RecentEntry.Action)
}

func TestApplyDeltaValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.ledger.ApplyDelta(env.ctx, "a@example.com", CategoryDeposit, dec("0"), "noop")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.ledger.ApplyDelta(env.ctx, "a@example.com", "earnings", dec("5"), "wrong path")
	assert.ErrorIs(t, err, ErrValidation)

	var count int64
	env.db.Model(&models.BalanceHistoryEntry{}).Count(&count)
	assert.Zero(t, count)
}

func TestApplyEarningsWritesEarningsTransaction(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	dep := env.approvedDeposit(t, user, "100")
	env.clock.Advance(time.Hour)

	rec, err := env.ledger.ApplyEarnings(env.ctx, user, dec("10"), "bonus-week", dep.ID)
	require.NoError(t, err)
	requireDecimal(t, "16", rec.TotalEarnings)
	requireDecimal(t, "116", rec.CurrentBalance)

	rows := env.earningsRows(t, user)
	require.Len(t, rows, 2)
	last := rows[1]
	assert.Equal(t, models.StatusApproved, last.ApprovalStatus)
	assert.Equal(t, SystemActor, last.ApprovedBy)
	assert.Equal(t, dep.ID, last.SourceTxID)
	require.NotNil(t, last.Details.Earnings)
	assert.Equal(t, "bonus-week", last.Details.Earnings.PlanName)
	assert.True(t, last.Details.Earnings.Auto)
	assert.Nil(t, last.AccrualKey)

	recomputed, err := env.ledger.Recompute(env.ctx, user)
	require.NoError(t, err)
	requireDecimal(t, "116", recomputed.CurrentBalance)
	requireDecimal(t, "16", recomputed.TotalEarnings)
}

func TestRecomputeHealsDrift(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	env.approvedDeposit(t, user, "200")

	// corrupt the cached aggregate behind the ledger's back
	require.NoError(t, env.db.Model(&models.BalanceRecord{}).Where("user_id = ?", user).
		Updates(map[string]interface{}{"current_balance": "1", "total_deposits": "999"}).Error)

	rec, err := env.ledger.Recompute(env.ctx, user)
	require.NoError(t, err)
	requireDecimal(t, "200", rec.TotalDeposits)
	requireDecimal(t, "12", rec.TotalEarnings)
	requireDecimal(t, "212", rec.CurrentBalance)
	requireInvariant(t, env.balance(t, user))

	events := env.observer.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, "recalculate", events[len(events)-1].RecentEntry.Action)
}

func TestRecomputeIgnoresPendingAndRejected(t *testing.T) {
	env := newTestEnv(t)
	user := "a@example.com"
	env.approvedDeposit(t, user, "100")
	env.deposit(t, user, "500", nil)
	w := env.withdrawal(t, user, "50")
	_, err := env.approvals.Reject(env.ctx, w.ID, "", "admin")
	require.NoError(t, err)

	rec, err := env.ledger.Recompute(env.ctx, user)
	require.NoError(t, err)
	requireDecimal(t, "100", rec.TotalDeposits)
	requireDecimal(t, "0", rec.TotalWithdrawals)
	requireDecimal(t, "106", rec.CurrentBalance)
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) Notify(ctx context.Context, ev notify.BalanceEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func TestObserverFailureDoesNotRollBackMutation(t *testing.T) {
	env := newTestEnv(t)
	obs := &mockObserver{}
	obs.On("Notify", mock.Anything, mock.AnythingOfType("notify.BalanceEvent")).Return(errors.New("stream closed"))
	env.ledger.Observer = obs

	rec, err := env.ledger.ApplyDelta(env.ctx, "a@example.com", CategoryDeposit, dec("40"), "deposit-manual")
	require.NoError(t, err)
	requireDecimal(t, "40", rec.CurrentBalance)
	requireDecimal(t, "40", env.balance(t, "a@example.com").CurrentBalance)
	obs.AssertNumberOfCalls(t, "Notify", 1)
}

func TestObserverPanicIsContained(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.Observer = notify.ObserverFunc(func(context.Context, notify.BalanceEvent) error {
		panic("subscriber gone")
	})

	_, err := env.ledger.ApplyDelta(env.ctx, "a@example.com", CategoryDeposit, dec("40"), "deposit-manual")
	require.NoError(t, err)
	requireDecimal(t, "40", env.balance(t, "a@example.com").CurrentBalance)
}

func TestEventsAreNotEmittedForRolledBackWork(t *testing.T) {
	env := newTestEnv(t)
	trx := env.deposit(t, "a@example.com", "100", nil)
	_, err := env.approvals.Reject(env.ctx, trx.ID, "", "admin")
	require.NoError(t, err)

	_, err = env.approvals.Approve(env.ctx, trx.ID, "admin")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, env.observer.Events())
}

func TestLedgerSurfacesStorageError(t *testing.T) {
	db, sqlMock := newMockDB(t)
	driverErr := errors.New("lost connection to MySQL server")

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery("SELECT \\* FROM `balances`").WillReturnError(driverErr)
	sqlMock.ExpectRollback()

	ledger := NewLedgerService(db, nil, zerolog.Nop())
	_, err := ledger.ApplyDelta(context.Background(), "a@example.com", CategoryDeposit, dec("10"), "deposit")
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, driverErr)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestLedgerGivesUpAfterRepeatedVersionConflicts(t *testing.T) {
	db, sqlMock := newMockDB(t)
	cols := []string{"id", "user_id", "current_balance", "total_deposits", "total_earnings", "total_withdrawals", "version"}

	for i := 0; i < maxWriteAttempts; i++ {
		sqlMock.ExpectBegin()
		sqlMock.ExpectQuery("SELECT \\* FROM `balances`").
			WillReturnRows(sqlmock.NewRows(cols).AddRow(1, "a@example.com", "0", "0", "0", "0", 3))
		sqlMock.ExpectExec("UPDATE `balances`").WillReturnResult(sqlmock.NewResult(0, 0))
		sqlMock.ExpectRollback()
	}

	ledger := NewLedgerService(db, nil, zerolog.Nop())
	_, err := ledger.ApplyDelta(context.Background(), "a@example.com", CategoryDeposit, dec("10"), "deposit")
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, errVersionConflict)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
