package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"ledger-service/internal/app"
	"ledger-service/internal/config"
	"ledger-service/internal/models"
	"ledger-service/internal/services"
	"ledger-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	a, err := app.New(&config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "cli.db")},
		Ledger:   config.LedgerConfig{DailyRate: "0.06", MinimumWithdrawal: "50", Timezone: "UTC"},
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func record(t *testing.T, a *app.App, user, amount string) *models.Transaction {
	t.Helper()
	trx, err := a.Transactions.Record(context.Background(), services.RecordTransactionDTO{
		UserID: user,
		Kind:   models.KindDeposit,
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return trx
}

func runJSON(t *testing.T, a *app.App, v interface{}, args ...string) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), a, args, &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), v))
}

func TestApproveUsesCLIActor(t *testing.T) {
	a := newApp(t)
	trx := record(t, a, "a@example.com", "100")

	var approved models.Transaction
	runJSON(t, a, &approved, "approve", trx.ID)
	assert.Equal(t, models.StatusApproved, approved.ApprovalStatus)
	assert.Equal(t, cliActor, approved.ApprovedBy)

	var summary services.BalanceSummary
	runJSON(t, a, &summary, "balance", "a@example.com")
	assert.True(t, decimal.NewFromInt(106).Equal(summary.CurrentBalance))

	err := run(context.Background(), a, []string{"approve", trx.ID}, &bytes.Buffer{})
	assert.ErrorIs(t, err, services.ErrAlreadyApproved)
}

func TestRejectReason(t *testing.T) {
	a := newApp(t)
	first := record(t, a, "a@example.com", "10")
	second := record(t, a, "a@example.com", "20")

	var rejected models.Transaction
	runJSON(t, a, &rejected, "reject", first.ID)
	assert.Equal(t, cliRejectReason, rejected.RejectionReason)
	assert.Equal(t, cliActor, rejected.RejectedBy)

	runJSON(t, a, &rejected, "reject", second.ID, "duplicate", "proof")
	assert.Equal(t, "duplicate proof", rejected.RejectionReason)
}

func TestPendingStatsAndAccrue(t *testing.T) {
	a := newApp(t)
	trx := record(t, a, "a@example.com", "100")
	record(t, a, "a@example.com", "5")

	var pending struct {
		Count int64                `json:"count"`
		Data  []models.Transaction `json:"data"`
	}
	runJSON(t, a, &pending, "pending", "-limit", "1")
	assert.EqualValues(t, 2, pending.Count)
	assert.Len(t, pending.Data, 1)

	runJSON(t, a, &models.Transaction{}, "approve", trx.ID)

	var stats services.TransactionStats
	runJSON(t, a, &stats, "stats", "a@example.com")
	assert.EqualValues(t, 1, stats.Approved)
	assert.EqualValues(t, 1, stats.Pending)

	var report services.AccrualReport
	runJSON(t, a, &report, "accrue")
	assert.Equal(t, 1, report.Credited)

	runJSON(t, a, &report, "accrue", "-mode", "daily")
	assert.Equal(t, 0, report.Credited)
	assert.Equal(t, 1, report.Skipped)

	var history []services.HistoryPoint
	runJSON(t, a, &history, "history", "a@example.com", "-days", "7")
	assert.NotEmpty(t, history)

	var rec models.BalanceRecord
	runJSON(t, a, &rec, "recompute", "a@example.com")
	assert.True(t, decimal.RequireFromString("112.36").Equal(rec.CurrentBalance), rec.CurrentBalance.String())
}

func TestUsageErrors(t *testing.T) {
	a := newApp(t)
	for _, args := range [][]string{
		nil,
		{"unknown"},
		{"approve"},
		{"balance"},
		{"reject"},
		{"accrue", "-mode", "weekly"},
		{"pending", "-limit", "many"},
	} {
		err := run(context.Background(), a, args, &bytes.Buffer{})
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}
