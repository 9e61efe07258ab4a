package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/groupbuy/internal/lot/application"
	"github.com/wyfcoding/groupbuy/internal/lot/domain"
	"github.com/wyfcoding/pkg/contextx"
	"github.com/wyfcoding/pkg/idgen"
	"github.com/wyfcoding/pkg/response"
)

// LotHandler HTTP 处理器
// 负责处理与夺宝商品相关的 HTTP 请求
type LotHandler struct {
	shares *application.ShareCounterService
	lots   domain.LotRepository
}

// NewLotHandler 创建 HTTP 处理器实例
func NewLotHandler(shares *application.ShareCounterService, lots domain.LotRepository) *LotHandler {
	return &LotHandler{shares: shares, lots: lots}
}

// RegisterRoutes 注册路由
func (h *LotHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/lots")
	{
		api.POST("", h.CreateLot) // 上架商品
		api.GET("/:id", h.GetLot) // 商品详情
	}
}

// CreateLotRequest 上架请求体
type CreateLotRequest struct {
	Title            string `json:"title" binding:"required"`
	TotalShares      int64  `json:"total_shares" binding:"required"`
	MinTriggerShares int64  `json:"min_trigger_shares" binding:"required"`
	UnitPrice        string `json:"unit_price" binding:"required"`
	LotteryTime      int64  `json:"lottery_time" binding:"required"`
	LotteryMode      string `json:"lottery_mode"`
}

// CreateLot 上架商品，卖家即当前用户。
func (h *LotHandler) CreateLot(c *gin.Context) {
	sellerID := contextx.GetUserID(c.Request.Context())
	if sellerID == "" {
		response.ErrorWithStatus(c, http.StatusUnauthorized, "missing user identity", "")
		return
	}

	var req CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, err.Error(), "")
		return
	}
	price, err := decimal.NewFromString(req.UnitPrice)
	if err != nil || price.IsNegative() || price.IsZero() {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid unit price", "")
		return
	}
	if req.MinTriggerShares > req.TotalShares || req.MinTriggerShares <= 0 {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid trigger shares", "")
		return
	}
	mode := domain.LotteryMode(req.LotteryMode)
	if mode == "" {
		mode = domain.LotteryModeCapacity
	}

	lot := &domain.Lot{
		LotID:            fmt.Sprintf("LOT-%d", idgen.GenID()),
		Title:            req.Title,
		SellerID:         sellerID,
		TotalShares:      req.TotalShares,
		MinTriggerShares: req.MinTriggerShares,
		UnitPrice:        price,
		Round:            1,
		LotteryTime:      time.Unix(req.LotteryTime, 0),
		LotteryMode:      mode,
	}
	if err := h.lots.Save(c.Request.Context(), lot); err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, lot)
}

// GetLot 商品详情
func (h *LotHandler) GetLot(c *gin.Context) {
	lot, err := h.shares.GetLot(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrLotNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "lot not found", "")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, lot)
}
