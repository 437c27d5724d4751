package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindPlan       TransactionKind = "plan"
	KindEarnings   TransactionKind = "earnings"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindPlan, KindEarnings:
		return true
	}
	return false
}

type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// PlanDailyReward marks a deposit that takes part in daily accrual.
const PlanDailyReward = "daily-reward"

// PlanDetails drives accrual. LastEarningAt is the instant through which
// earnings have been credited.
type PlanDetails struct {
	PlanType      string     `gorm:"column:type;size:50;index" json:"planType,omitempty"`
	PlanName      string     `gorm:"column:name;size:100" json:"planName,omitempty"`
	RoiPercentage int        `gorm:"column:roi_percentage;default:0" json:"roiPercentage,omitempty"`
	LastEarningAt *time.Time `gorm:"column:last_earning_at" json:"lastEarningAt,omitempty"`
}

type Transaction struct {
	ID              string          `gorm:"column:id;primaryKey;size:36" json:"id"`
	UserID          string          `gorm:"column:user_id;size:191;not null;index:idx_ltx_user_status_submitted,priority:1" json:"userId"`
	Kind            TransactionKind `gorm:"column:kind;size:20;not null;index" json:"kind"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(20,8);not null" json:"amount"`
	Description     string          `gorm:"column:description;type:text" json:"description"`
	Reference       string          `gorm:"column:reference;size:32;index" json:"reference"`
	Details         Details         `gorm:"column:details;type:text;serializer:json" json:"details"`
	ApprovalStatus  ApprovalStatus  `gorm:"column:approval_status;size:20;not null;default:pending;index:idx_ltx_user_status_submitted,priority:2" json:"approvalStatus"`
	SubmittedAt     time.Time       `gorm:"column:submitted_at;not null;index:idx_ltx_user_status_submitted,priority:3" json:"submittedAt"`
	ApprovedAt      *time.Time      `gorm:"column:approved_at" json:"approvedAt,omitempty"`
	ApprovedBy      string          `gorm:"column:approved_by;size:191" json:"approvedBy,omitempty"`
	RejectedAt      *time.Time      `gorm:"column:rejected_at" json:"rejectedAt,omitempty"`
	RejectedBy      string          `gorm:"column:rejected_by;size:191" json:"rejectedBy,omitempty"`
	RejectionReason string          `gorm:"column:rejection_reason;type:text" json:"rejectionReason,omitempty"`
	PlanDetails     PlanDetails     `gorm:"embedded;embeddedPrefix:plan_" json:"planDetails"`

	// AccrualKey is set only on system earnings rows and is unique, so a
	// second credit for the same user/day or source/day fails on insert.
	AccrualKey *string `gorm:"column:accrual_key;size:191;uniqueIndex" json:"-"`
	SourceTxID string  `gorm:"column:source_tx_id;size:36;index" json:"sourceTxId,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (Transaction) TableName() string {
	return "ledger_transactions"
}
