// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"draftmybook/internal/application/generation"
	"draftmybook/internal/interfaces/http/dto"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"

	"github.com/gin-gonic/gin"
)

// GenerationHandler 生成触发处理器
//
// 三个触发接口都只做状态迁移与消息投递，立即返回 202；
// 真正的生成工作由队列消费者完成。
type GenerationHandler struct {
	lifecycle *generation.Lifecycle
}

// NewGenerationHandler 创建生成触发处理器
func NewGenerationHandler(lifecycle *generation.Lifecycle) *GenerationHandler {
	return &GenerationHandler{lifecycle: lifecycle}
}

// ClaimBook 认领书籍开始生成
// @Summary 认领书籍
// @Description 把已支付的 pending 书籍送入生成队列
// @Tags Generation
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 202 {object} dto.Response[gin.H]
// @Failure 402 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/claim [post]
func (h *GenerationHandler) ClaimBook(c *gin.Context) {
	h.trigger(c, "claim", h.lifecycle.Claim)
}

// AdvanceBook 补投当前章节消息
// @Summary 推进生成
// @Description 为生成中的书籍补投当前游标的章节消息
// @Tags Generation
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 202 {object} dto.Response[gin.H]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/advance [post]
func (h *GenerationHandler) AdvanceBook(c *gin.Context) {
	h.trigger(c, "advance", h.lifecycle.Advance)
}

// ResumeBook 从失败状态恢复生成
// @Summary 恢复生成
// @Description 保留已有章节与游标，从中断处继续
// @Tags Generation
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 202 {object} dto.Response[gin.H]
// @Failure 409 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/resume [post]
func (h *GenerationHandler) ResumeBook(c *gin.Context) {
	h.trigger(c, "resume", h.lifecycle.Resume)
}

func (h *GenerationHandler) trigger(c *gin.Context, action string, fn func(ctx context.Context, bookID string) error) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	if err := fn(ctx, bookID); err != nil {
		if errors.IsAppError(err) {
			appErr := errors.AsAppError(err)
			c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
				Code:    appErr.HTTPStatus,
				Message: appErr.Message,
				TraceID: c.GetString("trace_id"),
			})
			return
		}
		logger.Error(ctx, "failed to "+action+" book", err, "book_id", bookID)
		dto.InternalError(c, "failed to "+action+" book")
		return
	}

	dto.Accepted(c, gin.H{"book_id": bookID, "action": action})
}
