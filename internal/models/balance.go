package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceRecord is the cached per-user aggregate. Version is bumped on every
// write and checked by the next one.
type BalanceRecord struct {
	ID               uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID           string          `gorm:"column:user_id;size:191;not null;uniqueIndex" json:"userId"`
	CurrentBalance   decimal.Decimal `gorm:"column:current_balance;type:decimal(20,8);not null" json:"currentBalance"`
	TotalDeposits    decimal.Decimal `gorm:"column:total_deposits;type:decimal(20,8);not null" json:"totalDeposits"`
	TotalEarnings    decimal.Decimal `gorm:"column:total_earnings;type:decimal(20,8);not null" json:"totalEarnings"`
	TotalWithdrawals decimal.Decimal `gorm:"column:total_withdrawals;type:decimal(20,8);not null" json:"totalWithdrawals"`
	LastUpdated      time.Time       `gorm:"column:last_updated" json:"lastUpdated"`
	Version          int64           `gorm:"column:version;not null" json:"-"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`

	History []BalanceHistoryEntry `gorm:"-" json:"history,omitempty"`
}

func (BalanceRecord) TableName() string {
	return "balances"
}

type BalanceHistoryEntry struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID        string          `gorm:"column:user_id;size:191;not null;index:idx_bh_user_date,priority:1" json:"userId"`
	Date          time.Time       `gorm:"column:date;not null;index:idx_bh_user_date,priority:2" json:"date"`
	Action        string          `gorm:"column:action;size:191;not null" json:"action"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	BalanceAfter  decimal.Decimal `gorm:"column:balance_after;type:decimal(20,8);not null" json:"balance"`
	TransactionID string          `gorm:"column:transaction_id;size:36" json:"transactionId,omitempty"`
}

func (BalanceHistoryEntry) TableName() string {
	return "balance_history"
}
