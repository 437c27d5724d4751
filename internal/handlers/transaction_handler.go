package handlers

import (
	"net/http"

	"ledger-service/internal/middleware"
	"ledger-service/internal/models"
	"ledger-service/internal/services"
	"ledger-service/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	PlanType    string          `json:"planType"`
	PlanName    string          `json:"planName"`
	ProofRef    string          `json:"proofRef"`
}

type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Address     string          `json:"address" binding:"required"`
	Network     string          `json:"network"`
}

func (h *Handler) recordDeposit(c *gin.Context, kind models.TransactionKind) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	trx, err := h.Transactions.Record(c.Request.Context(), services.RecordTransactionDTO{
		UserID:      middleware.GetUserID(c),
		Kind:        kind,
		Amount:      req.Amount,
		Description: req.Description,
		Details: models.Details{Deposit: &models.DepositDetails{
			PlanType: req.PlanType,
			PlanName: req.PlanName,
			ProofRef: req.ProofRef,
		}},
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.NewSuccessResponse(trx, "transaction submitted for approval"))
}

func (h *Handler) RecordDeposit(c *gin.Context) {
	h.recordDeposit(c, models.KindDeposit)
}

func (h *Handler) RecordPlan(c *gin.Context) {
	h.recordDeposit(c, models.KindPlan)
}

// RecordWithdrawal checks the minimum and the current balance at submit time.
// The balance is only debited on approval.
func (h *Handler) RecordWithdrawal(c *gin.Context) {
	var req WithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Amount.LessThan(h.MinWithdrawal) {
		badRequest(c, "minimum withdrawal is "+h.MinWithdrawal.String())
		return
	}

	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	summary, err := h.Summary.Summary(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if req.Amount.GreaterThan(summary.CurrentBalance) {
		badRequest(c, "insufficient balance")
		return
	}

	trx, err := h.Transactions.Record(ctx, services.RecordTransactionDTO{
		UserID:      userID,
		Kind:        models.KindWithdrawal,
		Amount:      req.Amount,
		Description: req.Description,
		Details: models.Details{Withdrawal: &models.WithdrawalDetails{
			Address: req.Address,
			Network: req.Network,
		}},
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, common.NewSuccessResponse(trx, "withdrawal submitted for approval"))
}

func (h *Handler) MyTransactions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	items, total, err := h.Transactions.ListByUserPage(c.Request.Context(), middleware.GetUserID(c),
		models.ApprovalStatus(c.Query("status")), page, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.PaginateResponse(items, total, page, limit, ""))
}

func (h *Handler) MyTransaction(c *gin.Context) {
	trx, err := h.Transactions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if trx.UserID != middleware.GetUserID(c) {
		h.respondError(c, services.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "success"))
}

func (h *Handler) MyStats(c *gin.Context) {
	stats, err := h.Transactions.Stats(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(stats, "success"))
}
