package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hr-messenger/apps/messenger-service/converter"
	"hr-messenger/apps/messenger-service/model"
	"hr-messenger/apps/messenger-service/service"
	"hr-messenger/pkg/logger"
)

const defaultHistoryLimit = 200

// HTTPHandler Messenger服务HTTP处理器
type HTTPHandler struct {
	svc       *service.Service
	converter *converter.MessengerConverter
	logger    logger.Logger
}

// NewHTTPHandler 创建HTTP处理器
func NewHTTPHandler(svc *service.Service, log logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:       svc,
		converter: converter.NewMessengerConverter(),
		logger:    log,
	}
}

// RegisterRoutes 注册HTTP路由
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/messenger")
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/groups", h.ListGroups)
		api.GET("/users", h.ListUsers)
		api.GET("/messages/:userId", h.DirectHistory)
		api.GET("/groups/:groupId/messages", h.GroupHistory)

		api.POST("/send", h.SendMessage)
		api.POST("/groups", h.CreateGroup)
		api.POST("/groups/:groupId/send", h.SendGroupMessage)
		api.POST("/groups/:groupId/members", h.AddMember)
		api.DELETE("/groups/:groupId/members/:userId", h.RemoveMember)
		api.POST("/read", h.MarkRead)
	}
}

// currentUserID 获取认证中间件注入的用户ID
func (h *HTTPHandler) currentUserID(c *gin.Context) (int64, bool) {
	userID := c.GetInt64("userID")
	if userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return 0, false
	}
	return userID, true
}

// pathID 解析路径参数中的数字ID
func (h *HTTPHandler) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError 业务错误到HTTP状态码的映射
func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	default:
		h.logger.Error(c.Request.Context(), "Request failed",
			logger.F("path", c.Request.URL.Path),
			logger.F("error", err.Error()))
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// SendMessage 发送单聊消息
func (h *HTTPHandler) SendMessage(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	msg, err := h.svc.SendDirect(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildSendResponse(msg))
}

// SendGroupMessage 发送群消息
func (h *HTTPHandler) SendGroupMessage(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := h.pathID(c, "groupId")
	if !ok {
		return
	}

	var req model.SendGroupMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	msg, err := h.svc.SendGroup(c.Request.Context(), userID, groupID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildSendResponse(msg))
}

// ListConversations 获取会话列表
func (h *HTTPHandler) ListConversations(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	convs, err := h.svc.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildConversationsResponse(convs))
}

// ListGroups 获取群组列表
func (h *HTTPHandler) ListGroups(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	groups, err := h.svc.ListGroups(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildGroupsResponse(groups))
}

// ListUsers 获取员工目录
func (h *HTTPHandler) ListUsers(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	users, err := h.svc.ListUsers(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildUsersResponse(users))
}

// DirectHistory 获取单聊历史
func (h *HTTPHandler) DirectHistory(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	otherID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}

	msgs, err := h.svc.DirectHistory(c.Request.Context(), userID, otherID, h.historyLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildMessagesResponse(msgs))
}

// GroupHistory 获取群聊历史
func (h *HTTPHandler) GroupHistory(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := h.pathID(c, "groupId")
	if !ok {
		return
	}

	msgs, err := h.svc.GroupHistory(c.Request.Context(), userID, groupID, h.historyLimit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildMessagesResponse(msgs))
}

// CreateGroup 创建群组
func (h *HTTPHandler) CreateGroup(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req model.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	group, err := h.svc.CreateGroup(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildGroupResponse(group))
}

// AddMember 添加群成员
func (h *HTTPHandler) AddMember(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := h.pathID(c, "groupId")
	if !ok {
		return
	}

	var req model.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	if err := h.svc.AddMember(c.Request.Context(), userID, groupID, &req); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildSuccessResponse())
}

// RemoveMember 移除群成员
func (h *HTTPHandler) RemoveMember(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}
	groupID, ok := h.pathID(c, "groupId")
	if !ok {
		return
	}
	targetID, ok := h.pathID(c, "userId")
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(c.Request.Context(), userID, groupID, targetID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildSuccessResponse())
}

// MarkRead 已读水位上报
func (h *HTTPHandler) MarkRead(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var req model.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), userID, &req); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.converter.BuildSuccessResponse())
}

// historyLimit 解析limit查询参数
func (h *HTTPHandler) historyLimit(c *gin.Context) int64 {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", ""), 10, 64)
	if err != nil || limit <= 0 || limit > defaultHistoryLimit {
		return defaultHistoryLimit
	}
	return limit
}
