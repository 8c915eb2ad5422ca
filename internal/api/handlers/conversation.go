package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"social_chat/internal/models"
	"social_chat/internal/service"
)

// ConversationHandler 處理會話相關的請求
type ConversationHandler struct {
	conversationService *service.ConversationService
}

// NewConversationHandler 創建一個新的 ConversationHandler 實例
func NewConversationHandler(conversationService *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversationService: conversationService}
}

// CreateConversation 處理創建新會話的請求
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var input struct {
		Type      string `json:"type" binding:"required"`
		Name      string `json:"name"`
		MemberIDs []uint `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conversation, err := h.conversationService.CreateConversation(
		models.ConversationType(input.Type), input.Name, input.MemberIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, conversation)
}

// GetConversation 處理獲取會話訊息的請求
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的會話ID"})
		return
	}

	conversation, err := h.conversationService.GetConversation(uint(conversationID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "會話不存在"})
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// GetHistory 處理讀取會話歷史的請求，內容按查看者的撤回可見性處理
func (h *ConversationHandler) GetHistory(c *gin.Context) {
	conversationID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的會話ID"})
		return
	}

	userID, _ := c.Get("userID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.conversationService.History(uint(conversationID), userID.(uint), limit)
	if err != nil {
		if errors.Is(err, service.ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "用戶未加入此會話"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "無法讀取會話歷史"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// RevokeMessage 處理撤回消息的請求
func (h *ConversationHandler) RevokeMessage(c *gin.Context) {
	messageID, err := strconv.ParseUint(c.Param("messageId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不存在的消息ID"})
		return
	}

	var input struct {
		RevokeType string `json:"revoke_type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := c.Get("userID")
	err = h.conversationService.Revoke(uint(messageID), userID.(uint), models.RevokeType(input.RevokeType))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "消息不存在"})
			return
		}
		if errors.Is(err, service.ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "沒有撤回此消息的權限"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "撤回消息失敗"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "消息已撤回"})
}
