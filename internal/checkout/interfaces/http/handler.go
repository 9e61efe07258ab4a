package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/groupbuy/internal/checkout/application"
	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	lotdomain "github.com/wyfcoding/groupbuy/internal/lot/domain"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	walletdomain "github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/response"
)

// CheckoutHandler HTTP 处理器
// 负责处理购买结算请求
type CheckoutHandler struct {
	orchestrator *application.Orchestrator
}

// NewCheckoutHandler 创建 HTTP 处理器实例
func NewCheckoutHandler(orchestrator *application.Orchestrator) *CheckoutHandler {
	return &CheckoutHandler{orchestrator: orchestrator}
}

// RegisterRoutes 注册路由
func (h *CheckoutHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/api/v1/checkout", h.Checkout)
	router.POST("/api/v1/checkout/:order_id/cancel", h.Cancel)
}

// CheckoutRequest 结算请求体
type CheckoutRequest struct {
	LotID          string `json:"lot_id" binding:"required"`
	Quantity       int64  `json:"quantity" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// Checkout 发起购买结算。
// 同一幂等键的重放返回首次创建的订单，HTTP 语义与首次一致。
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	userID := contextx.GetUserID(c.Request.Context())
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "missing user identity", "")
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}

	order, err := h.orchestrator.Checkout(c.Request.Context(), application.CheckoutParams{
		UserID:         userID,
		LotID:          req.LotID,
		Quantity:       req.Quantity,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		status, msg := mapCheckoutError(err)
		response.ErrorWithStatus(c, status, msg, "")
		return
	}
	response.Success(c, orderapp.ToOrderDTO(order))
}

// Cancel 成团前退出拼团并退款。幂等：已退款订单重复取消返回既有结果。
func (h *CheckoutHandler) Cancel(c *gin.Context) {
	userID := contextx.GetUserID(c.Request.Context())
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "missing user identity", "")
		return
	}

	order, err := h.orchestrator.Cancel(c.Request.Context(), userID, c.Param("order_id"))
	if err != nil {
		status, msg := mapCancelError(err)
		response.ErrorWithStatus(c, status, msg, "")
		return
	}
	response.Success(c, orderapp.ToOrderDTO(order))
}

func mapCancelError(err error) (int, string) {
	switch {
	case errors.Is(err, orderdomain.ErrOrderNotFound):
		return http.StatusNotFound, "order not found"
	case errors.Is(err, orderdomain.ErrInvalidOrderTransition):
		return http.StatusConflict, "order can no longer be cancelled"
	case errors.Is(err, groupdomain.ErrGroupNotJoinable):
		return http.StatusConflict, "group already locked for settlement"
	case errors.Is(err, walletdomain.ErrWalletHalted):
		return http.StatusConflict, "wallet is halted pending reconciliation"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func mapCheckoutError(err error) (int, string) {
	switch {
	case errors.Is(err, application.ErrInvalidQuantity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, application.ErrCheckoutFailed):
		return http.StatusConflict, "checkout already failed, use a new idempotency key"
	case errors.Is(err, lotdomain.ErrLotNotFound):
		return http.StatusNotFound, "lot not found"
	case errors.Is(err, lotdomain.ErrCapacityExceeded):
		return http.StatusConflict, "lot capacity exceeded"
	case errors.Is(err, walletdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, walletdomain.ErrWalletHalted):
		return http.StatusConflict, "wallet is halted pending reconciliation"
	case errors.Is(err, groupdomain.ErrGroupNotJoinable):
		return http.StatusConflict, "group is no longer joinable"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
