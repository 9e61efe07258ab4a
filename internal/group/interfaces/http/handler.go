package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/groupbuy/internal/group/application"
	"github.com/wyfcoding/groupbuy/internal/group/domain"
	"github.com/wyfcoding/pkg/response"
)

// GroupHandler HTTP 处理器
// 负责处理与拼团相关的 HTTP 请求
type GroupHandler struct {
	groups *application.GroupService
}

// NewGroupHandler 创建 HTTP 处理器实例
func NewGroupHandler(groups *application.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// RegisterRoutes 注册路由
func (h *GroupHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/groups")
	{
		api.GET("/:id", h.GetGroup)             // 团详情
		api.GET("/:id/members", h.ListMembers)  // 团成员
	}
}

// GetGroup 团详情
func (h *GroupHandler) GetGroup(c *gin.Context) {
	group, err := h.groups.GetGroup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrGroupNotFound) {
			response.ErrorWithStatus(c, http.StatusNotFound, "group not found", "")
			return
		}
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, group)
}

// ListMembers 团成员列表
func (h *GroupHandler) ListMembers(c *gin.Context) {
	members, err := h.groups.ListMembers(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.ErrorWithStatus(c, http.StatusInternalServerError, err.Error(), "")
		return
	}
	response.Success(c, members)
}
