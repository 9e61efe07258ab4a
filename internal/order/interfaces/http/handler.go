package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/groupbuy/internal/order/application"
	"github.com/wyfcoding/groupbuy/internal/order/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/response"
)

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求
type OrderHandler struct {
	orders *application.OrderService
}

// NewOrderHandler 创建 HTTP 处理器实例
func NewOrderHandler(orders *application.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// RegisterRoutes 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/orders")
	{
		api.GET("", h.ListMyOrders)  // 我的订单列表
		api.GET("/:id", h.GetOrder)  // 订单详情
	}
}

// ListMyOrders 分页列举当前用户订单
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	userID := contextx.GetUserID(c.Request.Context())
	if userID == "" {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "missing user identity", "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	orders, total, err := h.orders.ListUserOrders(c.Request.Context(), userID, page, size)
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.SuccessWithPagination(c, application.ToOrderDTOs(orders), total, int32(page), int32(size))
}

// GetOrder 订单详情，仅本人可见。
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID := contextx.GetUserID(c.Request.Context())
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "order not found", "")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	if order.UserID != userID {
		response.ErrorWithStatus(c, http.StatusForbidden, "not your order", "")
		return
	}
	response.Success(c, application.ToOrderDTO(order))
}
