package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"social_chat/internal/api/handlers"
	"social_chat/internal/middleware"
	"social_chat/internal/service"
)

func SetupRoutes(r *gin.Engine, services *service.Services) {
	// 初始化 handlers
	authHandler := handlers.NewAuthHandler(services.User)
	conversationHandler := handlers.NewConversationHandler(services.Conversation)
	wsHandler := handlers.NewWebSocketHandler(services.WebSocket)

	// API 路由群組
	api := r.Group("/api")

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "找不到該路徑",
		})
	})

	// 公開路由
	{
		// 用戶認證相關
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	// 需要驗證的路由
	authorized := api.Group("/")
	authorized.Use(middleware.AuthMiddleware())
	{
		// 會話相關
		conversations := authorized.Group("/conversations")
		{
			conversations.POST("", conversationHandler.CreateConversation)     // 創建會話
			conversations.GET("/:id", conversationHandler.GetConversation)     // 獲取會話信息
			conversations.GET("/:id/messages", conversationHandler.GetHistory) // 讀取會話歷史
		}

		// 消息撤回
		authorized.POST("/messages/:messageId/revoke", conversationHandler.RevokeMessage)

		// WebSocket 連接點
		authorized.GET("/ws", wsHandler.HandleWebSocket)
	}
}
