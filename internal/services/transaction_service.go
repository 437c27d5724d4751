package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-service/internal/models"
	"ledger-service/pkg/common"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TransactionService is the append-only transaction log.
type TransactionService struct {
	DB  *gorm.DB
	Now func() time.Time
}

func NewTransactionService(db *gorm.DB) *TransactionService {
	return &TransactionService{DB: db, Now: time.Now}
}

func (s *TransactionService) withTx(tx *gorm.DB) *TransactionService {
	return &TransactionService{DB: tx, Now: s.Now}
}

type RecordTransactionDTO struct {
	UserID      string
	Kind        models.TransactionKind
	Amount      decimal.Decimal
	Description string
	Details     models.Details
	PlanDetails *models.PlanDetails
}

func (s *TransactionService) Record(ctx context.Context, data RecordTransactionDTO) (*models.Transaction, error) {
	if strings.TrimSpace(data.UserID) == "" {
		return nil, validationErr("user id is required")
	}
	if !data.Kind.Valid() {
		return nil, validationErr("unknown transaction kind %q", data.Kind)
	}
	if !data.Amount.IsPositive() {
		return nil, validationErr("amount must be positive, got %s", data.Amount)
	}
	if !data.Details.Matches(data.Kind) {
		return nil, validationErr("details do not match kind %q", data.Kind)
	}

	trx := models.Transaction{
		ID:             uuid.NewString(),
		UserID:         data.UserID,
		Kind:           data.Kind,
		Amount:         data.Amount,
		Description:    data.Description,
		Reference:      common.GenerateReference(string(data.Kind)),
		Details:        data.Details,
		ApprovalStatus: models.StatusPending,
		SubmittedAt:    s.Now(),
	}
	if data.PlanDetails != nil {
		if data.Kind != models.KindDeposit && data.Kind != models.KindPlan {
			return nil, validationErr("plan details are only allowed on deposits")
		}
		trx.PlanDetails = *data.PlanDetails
	}

	if err := s.DB.WithContext(ctx).Create(&trx).Error; err != nil {
		return nil, storageErr("record transaction", err)
	}
	return &trx, nil
}

// insert writes a fully formed row, used for system generated earnings.
func (s *TransactionService) insert(ctx context.Context, trx *models.Transaction) error {
	if trx.ID == "" {
		trx.ID = uuid.NewString()
	}
	if trx.Reference == "" {
		trx.Reference = common.GenerateReference(string(trx.Kind))
	}
	return s.DB.WithContext(ctx).Create(trx).Error
}

func (s *TransactionService) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var trx models.Transaction
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get transaction", err)
	}
	return &trx, nil
}

func (s *TransactionService) userQuery(ctx context.Context, userID string, status models.ApprovalStatus) (*gorm.DB, error) {
	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	if status != "" {
		if !status.Valid() {
			return nil, validationErr("unknown approval status %q", status)
		}
		q = q.Where("approval_status = ?", status)
	}
	return q, nil
}

// ListByUser returns the user's transactions newest first. An empty status
// returns every status.
func (s *TransactionService) ListByUser(ctx context.Context, userID string, status models.ApprovalStatus) ([]models.Transaction, error) {
	q, err := s.userQuery(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	var trxs []models.Transaction
	if err := q.Order("submitted_at DESC").Find(&trxs).Error; err != nil {
		return nil, storageErr("list user transactions", err)
	}
	return trxs, nil
}

func (s *TransactionService) ListByUserPage(ctx context.Context, userID string, status models.ApprovalStatus, page, limit int) ([]models.Transaction, int64, error) {
	q, err := s.userQuery(ctx, userID, status)
	if err != nil {
		return nil, 0, err
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count user transactions", err)
	}

	page, limit = normalizePage(page, limit)
	var trxs []models.Transaction
	err = q.Order("submitted_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&trxs).Error
	if err != nil {
		return nil, 0, storageErr("list user transactions", err)
	}
	return trxs, total, nil
}

// ListPending returns pending transactions oldest first, the order operators
// review them in.
func (s *TransactionService) ListPending(ctx context.Context) ([]models.Transaction, error) {
	var trxs []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("approval_status = ?", models.StatusPending).
		Order("submitted_at ASC").
		Find(&trxs).Error
	if err != nil {
		return nil, storageErr("list pending transactions", err)
	}
	return trxs, nil
}

func (s *TransactionService) ListPendingPage(ctx context.Context, page, limit int) ([]models.Transaction, int64, error) {
	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("approval_status = ?", models.StatusPending)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count pending transactions", err)
	}

	page, limit = normalizePage(page, limit)
	var trxs []models.Transaction
	if err := q.Order("submitted_at ASC").Offset((page - 1) * limit).Limit(limit).Find(&trxs).Error; err != nil {
		return nil, 0, storageErr("list pending transactions", err)
	}
	return trxs, total, nil
}

// TransactionPatch names the fields the approval flow and the accrual engine
// may change. Nil members are left untouched.
type TransactionPatch struct {
	ApprovalStatus  *models.ApprovalStatus
	ApprovedAt      *time.Time
	ApprovedBy      *string
	RejectedAt      *time.Time
	RejectedBy      *string
	RejectionReason *string
	PlanDetails     *models.PlanDetails
	LastEarningAt   *time.Time
}

func (p TransactionPatch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.ApprovalStatus != nil {
		cols["approval_status"] = *p.ApprovalStatus
	}
	if p.ApprovedAt != nil {
		cols["approved_at"] = *p.ApprovedAt
	}
	if p.ApprovedBy != nil {
		cols["approved_by"] = *p.ApprovedBy
	}
	if p.RejectedAt != nil {
		cols["rejected_at"] = *p.RejectedAt
	}
	if p.RejectedBy != nil {
		cols["rejected_by"] = *p.RejectedBy
	}
	if p.RejectionReason != nil {
		cols["rejection_reason"] = *p.RejectionReason
	}
	if p.PlanDetails != nil {
		cols["plan_type"] = p.PlanDetails.PlanType
		cols["plan_name"] = p.PlanDetails.PlanName
		cols["plan_roi_percentage"] = p.PlanDetails.RoiPercentage
		cols["plan_last_earning_at"] = p.PlanDetails.LastEarningAt
	}
	if p.LastEarningAt != nil {
		cols["plan_last_earning_at"] = *p.LastEarningAt
	}
	return cols
}

// UpdateFields applies patch to one transaction. A patch that changes the
// approval status only applies while the row is still pending; losing that
// race yields ErrAlreadyApproved or ErrInvalidTransition.
func (s *TransactionService) UpdateFields(ctx context.Context, id string, patch TransactionPatch) error {
	cols := patch.columns()
	if len(cols) == 0 {
		return nil
	}
	cols["updated_at"] = s.Now()

	q := s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("id = ?", id)
	if patch.ApprovalStatus != nil {
		q = q.Where("approval_status = ?", models.StatusPending)
	}
	res := q.Updates(cols)
	if res.Error != nil {
		return storageErr("update transaction", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if patch.ApprovalStatus == nil {
		return nil
	}
	if current.ApprovalStatus == models.StatusApproved && *patch.ApprovalStatus == models.StatusApproved {
		return fmt.Errorf("%w: transaction %s", ErrAlreadyApproved, id)
	}
	return fmt.Errorf("%w: transaction %s is %s", ErrInvalidTransition, id, current.ApprovalStatus)
}

func (s *TransactionService) approvedByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var trxs []models.Transaction
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND approval_status = ?", userID, models.StatusApproved).
		Find(&trxs).Error
	if err != nil {
		return nil, storageErr("list approved transactions", err)
	}
	return trxs, nil
}

func (s *TransactionService) qualifyingScope(q *gorm.DB) *gorm.DB {
	return q.Where("approval_status = ? AND (kind = ? OR plan_type = ?)",
		models.StatusApproved, models.KindDeposit, models.PlanDailyReward)
}

// QualifyingUsers lists users with at least one approved deposit or
// daily-reward plan.
func (s *TransactionService) QualifyingUsers(ctx context.Context) ([]string, error) {
	var users []string
	q := s.qualifyingScope(s.DB.WithContext(ctx).Model(&models.Transaction{}))
	if err := q.Distinct().Order("user_id").Pluck("user_id", &users).Error; err != nil {
		return nil, storageErr("list qualifying users", err)
	}
	return users, nil
}

func (s *TransactionService) qualifyingByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var trxs []models.Transaction
	q := s.qualifyingScope(s.DB.WithContext(ctx).Where("user_id = ?", userID))
	if err := q.Order("submitted_at ASC").Find(&trxs).Error; err != nil {
		return nil, storageErr("list qualifying transactions", err)
	}
	return trxs, nil
}

func (s *TransactionService) latestEarningsAt(ctx context.Context, userID string) (*time.Time, error) {
	var trx models.Transaction
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, models.KindEarnings).
		Order("submitted_at DESC").
		First(&trx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("latest earnings", err)
	}
	return &trx.SubmittedAt, nil
}

// StampLastEarning moves lastEarningAt to mark on every qualifying
// transaction of the user. With advanceOnly set, marks already at or past
// mark are left alone.
func (s *TransactionService) StampLastEarning(ctx context.Context, userID string, mark time.Time, advanceOnly bool) error {
	q := s.qualifyingScope(s.DB.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID))
	if advanceOnly {
		q = q.Where("(plan_last_earning_at IS NULL OR plan_last_earning_at < ?)", mark)
	}
	err := q.Updates(map[string]interface{}{
		"plan_last_earning_at": mark,
		"updated_at":           s.Now(),
	}).Error
	if err != nil {
		return storageErr("stamp last earning", err)
	}
	return nil
}

type TransactionStats struct {
	Total    int64            `json:"total"`
	Pending  int64            `json:"pending"`
	Approved int64            `json:"approved"`
	Rejected int64            `json:"rejected"`
	ByKind   map[string]int64 `json:"byKind"`
}

type groupCount struct {
	Grp   string
	Count int64
}

func (s *TransactionService) Stats(ctx context.Context, userID string) (*TransactionStats, error) {
	stats := &TransactionStats{ByKind: map[string]int64{}}

	var byStatus []groupCount
	err := s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Select("approval_status AS grp, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("approval_status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, storageErr("transaction stats", err)
	}
	for _, row := range byStatus {
		stats.Total += row.Count
		switch models.ApprovalStatus(row.Grp) {
		case models.StatusPending:
			stats.Pending = row.Count
		case models.StatusApproved:
			stats.Approved = row.Count
		case models.StatusRejected:
			stats.Rejected = row.Count
		}
	}

	var byKind []groupCount
	err = s.DB.WithContext(ctx).Model(&models.Transaction{}).
		Select("kind AS grp, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(&byKind).Error
	if err != nil {
		return nil, storageErr("transaction stats", err)
	}
	for _, row := range byKind {
		stats.ByKind[row.Grp] = row.Count
	}
	return stats, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
