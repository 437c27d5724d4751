package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/middleware"
	"ledger-service/internal/notify"
	"ledger-service/internal/services"
	"ledger-service/pkg/common"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AccrualDispatcher starts accrual runs, inline or through the queue.
type AccrualDispatcher interface {
	DispatchDailyRewards(ctx context.Context) error
	DispatchCatchUp(ctx context.Context) error
}

type Handler struct {
	Transactions  *services.TransactionService
	Ledger        *services.LedgerService
	Approvals     *services.ApprovalService
	Summary       *services.SummaryService
	Broker        *notify.Broker
	Accrual       AccrualDispatcher
	MinWithdrawal decimal.Decimal
	KeepAlive     time.Duration
	Log           zerolog.Logger
}

func (h *Handler) RegisterRoutes(r *gin.Engine, jwtCfg config.JWTConfig) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ledger service is up"})
	})

	api := r.Group("/api", middleware.AuthRequired(jwtCfg))
	{
		api.POST("/transactions/deposit", h.RecordDeposit)
		api.POST("/transactions/plan", h.RecordPlan)
		api.POST("/transactions/withdraw", h.RecordWithdrawal)
		api.GET("/transactions", h.MyTransactions)
		api.GET("/transactions/stats", h.MyStats)
		api.GET("/transactions/:id", h.MyTransaction)

		api.GET("/balance", h.Balance)
		api.GET("/balance/history", h.BalanceHistory)
		api.GET("/balance/series", h.BalanceSeries)
		api.POST("/balance/refresh", h.RefreshBalance)
		api.GET("/balance/stream", h.StreamBalance)
		api.GET("/balance/ws", h.BalanceSocket)
	}

	admin := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.GET("/transactions/pending", h.PendingTransactions)
		admin.POST("/transactions/:id/approve", h.ApproveTransaction)
		admin.POST("/transactions/:id/reject", h.RejectTransaction)
		admin.GET("/balances/:userId", h.UserBalance)
		admin.POST("/balances/:userId/recompute", h.RecomputeBalance)
		admin.POST("/earnings/run", h.RunAccrual)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyApproved), errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	c.JSON(status, common.NewErrorResponse(msg, nil, status))
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, common.NewErrorResponse(msg, nil, http.StatusBadRequest))
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
