package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/groupbuy/internal/wallet/application"
	"github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/response"
)

// WalletHandler HTTP 处理器
// 负责处理钱包余额与流水查询、对账触发等请求
type WalletHandler struct {
	svc *application.WalletService
}

// NewWalletHandler 创建 HTTP 处理器实例
func NewWalletHandler(svc *application.WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *WalletHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/wallets")
	{
		api.GET("/me", h.GetMyWallet)             // 当前用户钱包
		api.GET("/:id", h.GetWallet)              // 钱包详情
		api.GET("/:id/ledger", h.ListLedger)      // 钱包流水
		api.POST("/:id/reconcile", h.Reconcile)   // 触发读修复对账
	}
}

// GetMyWallet 获取当前登录用户的钱包
func (h *WalletHandler) GetMyWallet(c *gin.Context) {
	userID := contextx.GetUserID(c.Request.Context())
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "missing user identity", "")
		return
	}

	dto, err := h.svc.GetWalletByUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "wallet not found", "")
			return
		}
		logging.Error(c.Request.Context(), "failed to get wallet by user", "user_id", userID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, dto)
}

// GetWallet 获取钱包详情
func (h *WalletHandler) GetWallet(c *gin.Context) {
	walletID := c.Param("id")
	dto, err := h.svc.GetWallet(c.Request.Context(), walletID)
	if err != nil {
		if errors.Is(err, domain.ErrWalletNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "wallet not found", "")
			return
		}
		logging.Error(c.Request.Context(), "failed to get wallet", "wallet_id", walletID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, dto)
}

// ListLedger 分页获取钱包流水
func (h *WalletHandler) ListLedger(c *gin.Context) {
	walletID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}

	entries, total, err := h.svc.LedgerHistory(c.Request.Context(), walletID, limit, (page-1)*limit)
	if err != nil {
		logging.Error(c.Request.Context(), "failed to list ledger", "wallet_id", walletID, "error", err)
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.SuccessWithPagination(c, entries, total, int32(page), int32(limit))
}

// Reconcile 触发钱包读修复对账
func (h *WalletHandler) Reconcile(c *gin.Context) {
	walletID := c.Param("id")
	if err := h.svc.Reconcile(c.Request.Context(), walletID); err != nil {
		switch {
		case errors.Is(err, domain.ErrWalletNotFound):
			response.ErrorWithStatus(c, http.StatusNotFound, "wallet not found", "")
		case errors.Is(err, domain.ErrLedgerCorrupted):
			response.ErrorWithStatus(c, http.StatusConflict, err.Error(), "")
		default:
			logging.Error(c.Request.Context(), "failed to reconcile wallet", "wallet_id", walletID, "error", err)
			response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		}
		return
	}
	response.Success(c, gin.H{"wallet_id": walletID, "status": "reconciled"})
}
