// Package router 提供 HTTP 路由配置
package router

import (
	"draftmybook/internal/interfaces/http/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	// 书籍管理
	books := v1.Group("/books")
	{
		books.GET("", h.Book.ListBooks)
		books.POST("", h.Book.CreateBook)
		books.GET("/:bid", h.Book.GetBook)
		books.DELETE("/:bid", h.Book.DeleteBook)

		// 生成状态轮询
		books.GET("/:bid/status", h.Book.GetBookStatus)

		// 生成触发
		books.POST("/:bid/claim", h.Generation.ClaimBook)
		books.POST("/:bid/advance", h.Generation.AdvanceBook)
		books.POST("/:bid/resume", h.Generation.ResumeBook)

		// 章节
		books.GET("/:bid/chapters", h.Book.ListChapters)
		books.GET("/:bid/chapters/:seq", h.Book.GetChapter)

		// 插图
		books.GET("/:bid/illustrations", h.Illustration.ListIllustrations)
		books.POST("/:bid/illustrations/retry", h.Illustration.RetryIllustrations)
	}

	// 管理接口
	admin := v1.Group("/admin", middleware.RequireAdmin())
	{
		admin.POST("/books/:bid/restart", h.Admin.RestartBook)
	}
}
