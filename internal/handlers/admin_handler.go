package handlers

import (
	"net/http"

	"ledger-service/internal/middleware"
	"ledger-service/pkg/common"

	"github.com/gin-gonic/gin"
)

const (
	AccrualModeDaily   = "daily"
	AccrualModeCatchUp = "catch-up"
)

type RejectRequest struct {
	Reason string `json:"reason"`
}

type AccrualRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) PendingTransactions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 20)

	items, total, err := h.Transactions.ListPendingPage(c.Request.Context(), page, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.PaginateResponse(items, total, page, limit, ""))
}

func (h *Handler) ApproveTransaction(c *gin.Context) {
	trx, err := h.Approvals.Approve(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "transaction approved"))
}

func (h *Handler) RejectTransaction(c *gin.Context) {
	var req RejectRequest
	// an empty body falls back to the default reason
	_ = c.ShouldBindJSON(&req)

	trx, err := h.Approvals.Reject(c.Request.Context(), c.Param("id"), req.Reason, middleware.GetUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "transaction rejected"))
}

func (h *Handler) UserBalance(c *gin.Context) {
	rec, err := h.Summary.BalanceWithHistory(c.Request.Context(), c.Param("userId"),
		queryInt(c, "days", defaultHistoryDays))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "success"))
}

func (h *Handler) RecomputeBalance(c *gin.Context) {
	rec, err := h.Ledger.Recompute(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(rec, "balance recalculated"))
}

// RunAccrual dispatches an accrual run. The response only confirms dispatch.
func (h *Handler) RunAccrual(c *gin.Context) {
	var req AccrualRequest
	_ = c.ShouldBindJSON(&req)
	if req.Mode == "" {
		req.Mode = AccrualModeDaily
	}

	ctx := c.Request.Context()
	var err error
	switch req.Mode {
	case AccrualModeDaily:
		err = h.Accrual.DispatchDailyRewards(ctx)
	case AccrualModeCatchUp:
		err = h.Accrual.DispatchCatchUp(ctx)
	default:
		badRequest(c, "unknown accrual mode "+req.Mode)
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, common.NewSuccessResponse(gin.H{"mode": req.Mode}, "accrual dispatched"))
}
