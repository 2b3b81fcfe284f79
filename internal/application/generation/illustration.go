package generation

import (
	"context"
	"fmt"

	"draftmybook/internal/application/generation/genutil"
	"draftmybook/internal/config"
	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/metrics"
)

// Illustrator 插图子流水线
//
// 每个 (book_id, position) 位置最多一张插图；失败位置累计重试
// 次数，超过上限后只能人工介入，批量重试会跳过它们。
type Illustrator struct {
	books         repository.BookRepository
	chapters      repository.ChapterRepository
	illustrations repository.IllustrationRepository
	client        Client
	maxRetries    int
}

// RetryReport 批量重试结果
type RetryReport struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// NewIllustrator 创建插图子流水线
func NewIllustrator(
	books repository.BookRepository,
	chapters repository.ChapterRepository,
	illustrations repository.IllustrationRepository,
	client Client,
	cfg *config.Config,
) *Illustrator {
	maxRetries := cfg.Pipeline.IllustrationMaxRetries
	if maxRetries <= 0 {
		maxRetries = entity.MaxIllustrationRetries
	}
	return &Illustrator{
		books:         books,
		chapters:      chapters,
		illustrations: illustrations,
		client:        client,
		maxRetries:    maxRetries,
	}
}

// Generate 为指定位置生成插图
//
// 幂等：已完成的位置直接返回；重试预算耗尽的位置静默丢弃，
// 等待批量重试接口之外的人工处理。
func (il *Illustrator) Generate(ctx context.Context, bookID string, position int) error {
	ill, err := il.illustrations.GetByBookAndPosition(ctx, bookID, position)
	if err != nil {
		return err
	}

	if ill == nil {
		prompt, err := il.buildPrompt(ctx, bookID, position)
		if err != nil {
			return err
		}
		ill = entity.NewIllustration(bookID, position, prompt)
		if _, err := il.illustrations.CreateIfAbsent(ctx, ill); err != nil {
			return err
		}
		ill, err = il.illustrations.GetByBookAndPosition(ctx, bookID, position)
		if err != nil {
			return err
		}
		if ill == nil {
			return errors.New(errors.CodeIllustrationFailed,
				fmt.Sprintf("illustration %s/%d vanished after insert", bookID, position))
		}
	}

	switch {
	case ill.Status == entity.IllustrationStatusCompleted:
		return nil
	case !ill.CanRetry(il.maxRetries):
		logger.Warn(ctx, "illustration retry budget exhausted, dropping",
			"book_id", bookID, "position", position, "retry_count", ill.RetryCount)
		return nil
	}

	return il.attempt(ctx, ill)
}

// BulkRetry 顺序重试书籍的全部失败插图
//
// 串行执行，避免一次性打爆图像接口；预算耗尽的位置计入 skipped。
func (il *Illustrator) BulkRetry(ctx context.Context, bookID string) (*RetryReport, error) {
	book, err := il.books.GetByID(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, errors.ErrBookNotFound
	}

	failed, err := il.illustrations.ListFailed(ctx, bookID)
	if err != nil {
		return nil, err
	}

	report := &RetryReport{}
	for _, ill := range failed {
		if !ill.CanRetry(il.maxRetries) {
			report.Skipped++
			continue
		}

		report.Retried++
		metrics.IllustrationRetryTotal.Inc()
		if err := il.attempt(ctx, ill); err != nil {
			report.Failed++
			continue
		}
		report.Succeeded++
	}

	logger.Info(ctx, "illustration bulk retry finished", "book_id", bookID,
		"retried", report.Retried, "succeeded", report.Succeeded,
		"failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// attempt 执行一次图像生成并落库结果
func (il *Illustrator) attempt(ctx context.Context, ill *entity.Illustration) error {
	url, err := il.client.GenerateIllustration(ctx, ill.Prompt)
	if err != nil {
		ill.Fail(err.Error())
		metrics.IllustrationTotal.WithLabelValues(string(entity.IllustrationStatusFailed)).Inc()
		logger.Warn(ctx, "illustration generation failed",
			"book_id", ill.BookID, "position", ill.Position,
			"retry_count", ill.RetryCount, "error", err.Error())
		if updateErr := il.illustrations.Update(ctx, ill); updateErr != nil {
			return updateErr
		}
		return err
	}

	ill.Complete(url)
	metrics.IllustrationTotal.WithLabelValues(string(entity.IllustrationStatusCompleted)).Inc()
	logger.Info(ctx, "illustration generated",
		"book_id", ill.BookID, "position", ill.Position)
	return il.illustrations.Update(ctx, ill)
}

// buildPrompt 从章节内容推导插图提示词
func (il *Illustrator) buildPrompt(ctx context.Context, bookID string, position int) (string, error) {
	book, err := il.books.GetByID(ctx, bookID)
	if err != nil {
		return "", err
	}
	if book == nil {
		return "", errors.ErrBookNotFound
	}

	scene := ""
	if spec, ok := book.ChapterSpecAt(position); ok {
		scene = spec.Summary
	}
	if scene == "" {
		chapter, err := il.chapters.GetByBookAndSeq(ctx, bookID, position)
		if err != nil {
			return "", err
		}
		if chapter == nil {
			return "", errors.ErrChapterNotFound
		}
		scene = genutil.TruncateByRunes(chapter.Content, 600)
	}

	style := "storybook watercolor"
	if book.Format == entity.FormatComic {
		style = "comic book panel, bold ink lines"
	}
	return fmt.Sprintf("Illustration for %q (%s), scene: %s. Style: %s. No text or lettering.",
		book.Title, book.Genre, scene, style), nil
}
