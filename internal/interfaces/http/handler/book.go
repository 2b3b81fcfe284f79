// Package handler 提供 HTTP 请求处理器
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/persistence/redis"
	"draftmybook/internal/interfaces/http/dto"
	"draftmybook/internal/interfaces/http/middleware"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusCacheTTL 状态快照缓存时间，轮询接口的挡板
const statusCacheTTL = 3 * time.Second

// BookHandler 书籍处理器
type BookHandler struct {
	bookRepo    repository.BookRepository
	chapterRepo repository.ChapterRepository
	cache       *redis.Cache
	preview     *redis.PreviewBuffer
}

// NewBookHandler 创建书籍处理器
func NewBookHandler(
	bookRepo repository.BookRepository,
	chapterRepo repository.ChapterRepository,
	cache *redis.Cache,
	preview *redis.PreviewBuffer,
) *BookHandler {
	return &BookHandler{
		bookRepo:    bookRepo,
		chapterRepo: chapterRepo,
		cache:       cache,
		preview:     preview,
	}
}

// CreateBook 创建书籍
// @Summary 创建书籍
// @Description 提交书籍创作请求，创建后处于 pending 状态等待认领
// @Tags Books
// @Accept json
// @Produce json
// @Param body body dto.CreateBookRequest true "书籍信息"
// @Success 201 {object} dto.Response[dto.BookResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/books [post]
func (h *BookHandler) CreateBook(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	var req dto.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	book := req.ToBookEntity(userID)

	if err := h.bookRepo.Create(ctx, book); err != nil {
		logger.Error(ctx, "failed to create book", err)
		dto.InternalError(c, "failed to create book")
		return
	}

	dto.Created(c, dto.ToBookResponse(book))
}

// ListBooks 获取书籍列表
// @Summary 获取书籍列表
// @Description 获取当前用户的书籍列表
// @Tags Books
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Param status query string false "按状态过滤"
// @Param format query string false "按形式过滤"
// @Success 200 {object} dto.Response[dto.BookListResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/books [get]
func (h *BookHandler) ListBooks(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.GetUserIDFromGin(c)

	pageReq := dto.BindPage(c)
	filter := &repository.BookFilter{
		Status: entity.BookStatus(c.Query("status")),
		Format: entity.BookFormat(c.Query("format")),
	}

	result, err := h.bookRepo.ListByOwner(ctx, userID, filter, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list books", err)
		dto.InternalError(c, "failed to list books")
		return
	}

	resp := dto.ToBookListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// GetBook 获取书籍详情
// @Summary 获取书籍详情
// @Tags Books
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.BookResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid} [get]
func (h *BookHandler) GetBook(c *gin.Context) {
	book, ok := h.loadOwnedBook(c)
	if !ok {
		return
	}
	dto.Success(c, dto.ToBookResponse(book))
}

// DeleteBook 删除书籍
// @Summary 删除书籍
// @Description 删除书籍及其全部章节与插图
// @Tags Books
// @Param bid path string true "书籍 ID"
// @Success 204 "No Content"
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid} [delete]
func (h *BookHandler) DeleteBook(c *gin.Context) {
	ctx := c.Request.Context()
	book, ok := h.loadOwnedBook(c)
	if !ok {
		return
	}

	if err := h.bookRepo.Delete(ctx, book.ID); err != nil {
		logger.Error(ctx, "failed to delete book", err)
		dto.InternalError(c, "failed to delete book")
		return
	}

	h.cache.InvalidateBook(ctx, book.ID)
	c.Status(http.StatusNoContent)
}

// GetBookStatus 获取书籍生成状态快照
// @Summary 获取书籍生成状态
// @Description 轮询接口：状态、游标、总字数与实时预览
// @Tags Books
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.BookStatusResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/status [get]
func (h *BookHandler) GetBookStatus(c *gin.Context) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	// 快照走短 TTL 缓存 + singleflight，预览每次实时读
	data, err := h.cache.GetOrLoadSafe(ctx, redis.BuildStatusKey(bookID), statusCacheTTL, func() (interface{}, error) {
		book, err := h.bookRepo.GetByID(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if book == nil {
			return nil, errors.ErrBookNotFound
		}
		return dto.ToBookStatusResponse(book, ""), nil
	})
	if err != nil {
		if appErr := errors.AsAppError(err); appErr.Code == errors.CodeBookNotFound {
			dto.NotFound(c, "book not found")
			return
		}
		logger.Error(ctx, "failed to load book status", err)
		dto.InternalError(c, "failed to load book status")
		return
	}

	var resp dto.BookStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Error(ctx, "corrupt status cache entry", err, "book_id", bookID)
		dto.InternalError(c, "failed to load book status")
		return
	}

	if resp.Status == string(entity.BookStatusGenerating) {
		preview, err := h.preview.Read(ctx, bookID)
		if err != nil {
			logger.Warn(ctx, "failed to read live preview", "book_id", bookID, "error", err.Error())
		}
		resp.LivePreview = preview
	}

	dto.Success(c, &resp)
}

// ListChapters 获取书籍章节列表
// @Summary 获取章节列表
// @Tags Chapters
// @Produce json
// @Param bid path string true "书籍 ID"
// @Success 200 {object} dto.Response[dto.ChapterListResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/chapters [get]
func (h *BookHandler) ListChapters(c *gin.Context) {
	ctx := c.Request.Context()
	book, ok := h.loadOwnedBook(c)
	if !ok {
		return
	}

	chapters, err := h.chapterRepo.ListByBook(ctx, book.ID)
	if err != nil {
		logger.Error(ctx, "failed to list chapters", err)
		dto.InternalError(c, "failed to list chapters")
		return
	}

	dto.Success(c, dto.ToChapterListResponse(chapters))
}

// GetChapter 获取单章内容
// @Summary 获取章节内容
// @Tags Chapters
// @Produce json
// @Param bid path string true "书籍 ID"
// @Param seq path int true "章节序号"
// @Success 200 {object} dto.Response[dto.ChapterResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/books/{bid}/chapters/{seq} [get]
func (h *BookHandler) GetChapter(c *gin.Context) {
	ctx := c.Request.Context()
	book, ok := h.loadOwnedBook(c)
	if !ok {
		return
	}

	seq := dto.BindSeqNum(c)
	if seq < 0 {
		dto.BadRequest(c, "invalid chapter sequence number")
		return
	}

	chapter, err := h.chapterRepo.GetByBookAndSeq(ctx, book.ID, seq)
	if err != nil {
		logger.Error(ctx, "failed to get chapter", err)
		dto.InternalError(c, "failed to get chapter")
		return
	}
	if chapter == nil {
		dto.NotFound(c, "chapter not found")
		return
	}

	dto.Success(c, dto.ToChapterResponse(chapter, true))
}

// loadOwnedBook 加载书籍并校验归属；管理员不受归属限制
func (h *BookHandler) loadOwnedBook(c *gin.Context) (*entity.Book, bool) {
	ctx := c.Request.Context()
	bookID := dto.BindBookID(c)

	book, err := h.bookRepo.GetByID(ctx, bookID)
	if err != nil {
		logger.Error(ctx, "failed to get book", err)
		dto.InternalError(c, "failed to get book")
		return nil, false
	}
	if book == nil {
		dto.NotFound(c, "book not found")
		return nil, false
	}

	userID := middleware.GetUserIDFromGin(c)
	role := middleware.GetRoleFromGin(c)
	if userID != "" && book.OwnerID != userID && middleware.Role(role) != middleware.RoleAdmin {
		dto.Forbidden(c, "not the owner of this book")
		return nil, false
	}
	return book, true
}
