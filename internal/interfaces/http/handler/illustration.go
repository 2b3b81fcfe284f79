// Package handler 提供 HTTP 请求处理器
package handler

import (
	"draftmybook/internal/application/generation"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/interfaces/http/dto"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"

	"github.com/gin-gonic/gin"
)

// IllustrationHandler 插图处理器
type IllustrationHandler struct {
	illustrationRepo repository.IllustrationRepository
	illustrator      *generation.Illustrator
}

// NewIllustrationHandler 创建插图处理器
func NewIllustrationHandler(illustrationRepo repository.IllustrationRepository, illustrator *generation.Illustrator) *IllustrationHandler {
	return &IllustrationHandler{
		illustrationRepo: illustrationRepo,
		illustrator:      illustrator,
	}
}

// ListIllustrations 获取书籍插图列表
// @Summary 获取插图列表
// @Tags Illustrations
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.IllustrationListResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/illustrations [get]
func (h *IllustrationHandler) ListIllustrations(c *gin.Context) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	items, err := h.illustrationRepo.ListByBook(ctx, bookID)
	if err != nil {
		logger.Error(ctx, "failed to list illustrations", err)
		dto.InternalError(c, "failed to list illustrations")
		return
	}

	dto.Success(c, dto.ToIllustrationListResponse(items))
}

// RetryIllustrations 批量重试失败插图
// @Summary 批量重试失败插图
// @Description 顺序重试书籍的全部失败插图，返回重试结果统计
// @Tags Illustrations
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.RetryReportResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/illustrations/retry [post]
func (h *IllustrationHandler) RetryIllustrations(c *gin.Context) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	report, err := h.illustrator.BulkRetry(ctx, bookID)
	if err != nil {
		if errors.IsAppError(err) {
			appErr := errors.AsAppError(err)
			c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
				Code:    appErr.HTTPStatus,
				Message: appErr.Message,
				TraceID: c.GetString("trace_id"),
			})
			return
		}
		logger.Error(ctx, "failed to retry illustrations", err, "book_id", bookID)
		dto.InternalError(c, "failed to retry illustrations")
		return
	}

	dto.Success(c, dto.ToRetryReportResponse(report))
}
