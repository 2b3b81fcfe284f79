// Package handler 提供 HTTP 请求处理器
package handler

import (
	"draftmybook/internal/application/generation"
	"draftmybook/internal/interfaces/http/dto"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AdminHandler 管理接口处理器
type AdminHandler struct {
	lifecycle *generation.Lifecycle
}

// NewAdminHandler 创建管理接口处理器
func NewAdminHandler(lifecycle *generation.Lifecycle) *AdminHandler {
	return &AdminHandler{lifecycle: lifecycle}
}

// RestartBook 硬重启书籍生成
// @Summary 硬重启书籍生成
// @Description 删除全部章节与插图，清空生成状态后重新认领。
// 破坏性操作，仅限管理员。
// @Tags Admin
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 202 {object} dto.Response[gin.H]
// @Failure 403 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/admin/books/{bid}/restart [post]
func (h *AdminHandler) RestartBook(c *gin.Context) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	if err := h.lifecycle.Restart(ctx, bookID); err != nil {
		if errors.IsAppError(err) {
			appErr := errors.AsAppError(err)
			c.JSON(appErr.HTTPStatus, dto.ErrorResponse{
				Code:    appErr.HTTPStatus,
				Message: appErr.Message,
				TraceID: c.GetString("trace_id"),
			})
			return
		}
		logger.Error(ctx, "failed to restart book", err, "book_id", bookID)
		dto.InternalError(c, "failed to restart book")
		return
	}

	dto.Accepted(c, gin.H{"book_id": bookID, "action": "restart"})
}
