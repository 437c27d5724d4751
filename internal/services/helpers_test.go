package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/database"
	"ledger-service/internal/models"
	"ledger-service/internal/notify"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu     sync.Mutex
	events []notify.BalanceEvent
}

func (r *recordingObserver) Notify(_ context.Context, ev notify.BalanceEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingObserver) Events() []notify.BalanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.BalanceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// day0 is a Monday morning; approvals in tests happen at this instant.
var day0 = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	ctx       context.Context
	db        *gorm.DB
	clock     *fakeClock
	observer  *recordingObserver
	trx       *TransactionService
	ledger    *LedgerService
	approvals *ApprovalService
	earnings  *EarningsService
	summary   *SummaryService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "ledger.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	clock := &fakeClock{t: day0}
	observer := &recordingObserver{}
	log := zerolog.Nop()

	trx := NewTransactionService(db)
	trx.Now = clock.Now
	ledger := NewLedgerService(db, observer, log)
	ledger.Now = clock.Now

	approvals := NewApprovalService(ledger, trx, log)
	approvals.Location = time.UTC
	earnings := NewEarningsService(ledger, trx, decimal.RequireFromString("0.06"), log)
	earnings.Location = time.UTC
	summary := NewSummaryService(db, ledger)
	summary.Location = time.UTC

	return &testEnv{
		ctx:       context.Background(),
		db:        db,
		clock:     clock,
		observer:  observer,
		trx:       trx,
		ledger:    ledger,
		approvals: approvals,
		earnings:  earnings,
		summary:   summary,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func (e *testEnv) deposit(t *testing.T, user, amount string, details *models.DepositDetails) *models.Transaction {
	t.Helper()
	trx, err := e.trx.Record(e.ctx, RecordTransactionDTO{
		UserID:      user,
		Kind:        models.KindDeposit,
		Amount:      dec(amount),
		Description: "deposit",
		Details:     models.Details{Deposit: details},
	})
	require.NoError(t, err)
	return trx
}

func (e *testEnv) approvedDeposit(t *testing.T, user, amount string) *models.Transaction {
	t.Helper()
	trx := e.deposit(t, user, amount, nil)
	approved, err := e.approvals.Approve(e.ctx, trx.ID, "admin@example.com")
	require.NoError(t, err)
	return approved
}

func (e *testEnv) withdrawal(t *testing.T, user, amount string) *models.Transaction {
	t.Helper()
	trx, err := e.trx.Record(e.ctx, RecordTransactionDTO{
		UserID:  user,
		Kind:    models.KindWithdrawal,
		Amount:  dec(amount),
		Details: models.Details{Withdrawal: &models.WithdrawalDetails{Address: "TXa1", Network: "TRC20"}},
	})
	require.NoError(t, err)
	return trx
}

func (e *testEnv) balance(t *testing.T, user string) *models.BalanceRecord {
	t.Helper()
	var rec models.BalanceRecord
	require.NoError(t, e.db.Where("user_id = ?", user).First(&rec).Error)
	return &rec
}

func (e *testEnv) earningsRows(t *testing.T, user string) []models.Transaction {
	t.Helper()
	var rows []models.Transaction
	require.NoError(t, e.db.Where("user_id = ? AND kind = ?", user, models.KindEarnings).Order("submitted_at ASC").Find(&rows).Error)
	return rows
}

func requireInvariant(t *testing.T, rec *models.BalanceRecord) {
	t.Helper()
	want := rec.TotalDeposits.Add(rec.TotalEarnings).Sub(rec.TotalWithdrawals)
	require.True(t, want.Equal(rec.CurrentBalance), "current %s != deposits %s + earnings %s - withdrawals %s",
		rec.CurrentBalance, rec.TotalDeposits, rec.TotalEarnings, rec.TotalWithdrawals)
}
