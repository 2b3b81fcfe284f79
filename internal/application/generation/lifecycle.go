package generation

import (
	"context"

	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/messaging"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/metrics"
)

// Lifecycle 生成生命周期控制：认领、恢复、重启
//
// 三个入口都是外部触发的无状态操作，真正的生成工作始终由
// 队列消费者驱动，这里只负责状态迁移与消息投递。
type Lifecycle struct {
	books         repository.BookRepository
	chapters      repository.ChapterRepository
	illustrations repository.IllustrationRepository
	tx            repository.Transactor
	producer      Publisher
	preview       PreviewWriter
	cache         CacheInvalidator
}

// NewLifecycle 创建生命周期控制器
func NewLifecycle(
	books repository.BookRepository,
	chapters repository.ChapterRepository,
	illustrations repository.IllustrationRepository,
	tx repository.Transactor,
	producer Publisher,
	preview PreviewWriter,
	cache CacheInvalidator,
) *Lifecycle {
	return &Lifecycle{
		books:         books,
		chapters:      chapters,
		illustrations: illustrations,
		tx:            tx,
		producer:      producer,
		preview:       preview,
		cache:         cache,
	}
}

// Claim 认领书籍开始生成 (pending -> outlining)
//
// 幂等：已在生成中的书籍直接返回，不重复投递。
func (l *Lifecycle) Claim(ctx context.Context, bookID string) error {
	book, err := l.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}

	switch book.Status {
	case entity.BookStatusPending:
	case entity.BookStatusOutlining, entity.BookStatusGenerating:
		logger.Info(ctx, "book already claimed", "book_id", bookID, "status", string(book.Status))
		return nil
	default:
		return errors.ErrInvalidState
	}

	if !book.CanClaim() {
		return errors.ErrPaymentRequired
	}

	book.BeginOutline()
	if err := l.books.Update(ctx, book); err != nil {
		return err
	}
	l.cache.InvalidateBook(ctx, bookID)

	_, err = l.producer.PublishBookClaim(ctx, &messaging.BookClaimMessage{
		BookID: book.ID,
		UserID: book.OwnerID,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "book claimed for generation", "book_id", bookID)
	return nil
}

// Resume 从失败状态恢复生成
//
// 游标与已有章节保持不变，从中断的那一章继续；没有大纲的书
// 无法恢复，只能走 Restart。
func (l *Lifecycle) Resume(ctx context.Context, bookID string) error {
	book, err := l.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}

	switch book.Status {
	case entity.BookStatusFailed:
	case entity.BookStatusGenerating:
		// 卡住的书也允许恢复：重置尝试计数并补投当前章
	default:
		return errors.ErrInvalidState
	}
	if book.Outline == nil {
		return errors.ErrOutlineMissing
	}

	wasFailed := book.Status == entity.BookStatusFailed
	book.Resume()
	if err := l.books.Update(ctx, book); err != nil {
		return err
	}
	if wasFailed {
		metrics.BooksGenerating.Inc()
	}
	l.cache.InvalidateBook(ctx, bookID)

	_, err = l.producer.PublishChapterStep(ctx, &messaging.ChapterStepMessage{
		BookID:       book.ID,
		ChapterIndex: book.CurrentChapterIndex,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "book resumed", "book_id", bookID,
		"cursor", book.CurrentChapterIndex, "total_chapters", book.TotalChapters)
	return nil
}

// Advance 为生成中的书籍补投当前游标的章节消息
//
// 用于消息丢失后人工推一把；重复调用无害，过期消息会被流水线
// 按游标检查丢弃。
func (l *Lifecycle) Advance(ctx context.Context, bookID string) error {
	book, err := l.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}
	if book.Status != entity.BookStatusGenerating {
		return errors.ErrInvalidState
	}

	_, err = l.producer.PublishChapterStep(ctx, &messaging.ChapterStepMessage{
		BookID:       book.ID,
		ChapterIndex: book.CurrentChapterIndex,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "chapter step re-dispatched", "book_id", bookID,
		"chapter_index", book.CurrentChapterIndex)
	return nil
}

// Restart 硬重启：删掉全部章节与插图，清空生成状态回到 pending，
// 然后立即重新认领。删除与重置在同一事务内完成，不会出现
// 只删了一半的中间状态。
func (l *Lifecycle) Restart(ctx context.Context, bookID string) error {
	book, err := l.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}

	wasGenerating := book.Status == entity.BookStatusGenerating

	err = l.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := l.chapters.DeleteByBook(txCtx, bookID); err != nil {
			return err
		}
		if err := l.illustrations.DeleteByBook(txCtx, bookID); err != nil {
			return err
		}
		book.ResetForRestart()
		return l.books.ResetForRestart(txCtx, book)
	})
	if err != nil {
		return err
	}
	if wasGenerating {
		metrics.BooksGenerating.Dec()
	}

	_ = l.preview.Clear(ctx, bookID)
	l.cache.InvalidateBook(ctx, bookID)
	logger.Info(ctx, "book restarted", "book_id", bookID)

	if !book.CanClaim() {
		// 支付未确认的书停在 pending，等支付回调后再认领
		return nil
	}
	return l.Claim(ctx, bookID)
}
