package generation

import (
	"context"
	"fmt"
	"strings"

	"draftmybook/internal/config"
	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/messaging"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/metrics"
)

// Planner 大纲规划器：每本书只成功运行一次，产出只读大纲后
// 把书推进到 generating 并投递第一条章节消息。
type Planner struct {
	books    repository.BookRepository
	client   Client
	producer Publisher
	cfg      *config.Config
}

// NewPlanner 创建大纲规划器
func NewPlanner(books repository.BookRepository, client Client, producer Publisher, cfg *config.Config) *Planner {
	return &Planner{
		books:    books,
		client:   client,
		producer: producer,
		cfg:      cfg,
	}
}

// Plan 为书籍生成大纲并启动章节流水线
//
// 幂等：大纲已写入（状态不再是 outlining 且已有大纲）时只补投
// 第一条章节消息，不会覆盖已有大纲。
func (p *Planner) Plan(ctx context.Context, bookID string) error {
	book, err := p.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}

	switch book.Status {
	case entity.BookStatusOutlining:
		// 本次负责规划
	case entity.BookStatusGenerating:
		if book.Outline != nil {
			logger.Info(ctx, "outline already planned, re-dispatching first step", "book_id", bookID)
			return p.dispatchFirstStep(ctx, book)
		}
		return errors.ErrOutlineMissing
	case entity.BookStatusCompleted, entity.BookStatusFailed:
		logger.Info(ctx, "book already finished, skipping planning", "book_id", bookID, "status", string(book.Status))
		return nil
	default:
		return errors.New(errors.CodeInvalidState,
			fmt.Sprintf("book %s is %s, expected outlining", bookID, book.Status))
	}

	plan, err := p.client.GenerateOutline(ctx, book)
	if err != nil {
		return p.failPlanning(ctx, book, fmt.Errorf("outline generation failed: %w", err))
	}

	outline, err := p.buildOutline(book, plan)
	if err != nil {
		return p.failPlanning(ctx, book, err)
	}

	names := normalizeCharacterNames(plan.Characters)
	book.BeginGenerating(outline)
	book.CharacterNames = names
	if err := p.books.SaveOutline(ctx, book); err != nil {
		return err
	}
	metrics.BooksGenerating.Inc()

	logger.Info(ctx, "outline planned", "book_id", book.ID,
		"chapters", len(outline.Chapters), "characters", len(names))

	return p.dispatchFirstStep(ctx, book)
}

// buildOutline 校验并归一化规划输出
//
// 章节数必须与请求一致；各章目标字数按比例缩放，使总和等于
// 请求的总字数。
func (p *Planner) buildOutline(book *entity.Book, plan *OutlinePlan) (*entity.OutlineDoc, error) {
	want := book.TargetChapterCount
	if want > 0 && len(plan.Chapters) != want {
		return nil, fmt.Errorf("outline chapter count mismatch: want %d, got %d", want, len(plan.Chapters))
	}

	chapters := make([]entity.ChapterSpec, len(plan.Chapters))
	copy(chapters, plan.Chapters)
	for i := range chapters {
		chapters[i].Index = i
		if chapters[i].Title == "" {
			chapters[i].Title = fmt.Sprintf("Chapter %d", i+1)
		}
	}
	normalizeWordTargets(chapters, book.TargetWordCount)

	return &entity.OutlineDoc{Version: 1, Chapters: chapters}, nil
}

func (p *Planner) dispatchFirstStep(ctx context.Context, book *entity.Book) error {
	_, err := p.producer.PublishChapterStep(ctx, &messaging.ChapterStepMessage{
		BookID:       book.ID,
		ChapterIndex: book.CurrentChapterIndex,
	})
	return err
}

func (p *Planner) failPlanning(ctx context.Context, book *entity.Book, cause error) error {
	logger.Error(ctx, "outline planning failed", cause, "book_id", book.ID)
	metrics.ChapterStepFailuresTotal.WithLabelValues(string(book.Format), "outline").Inc()

	if err := p.books.UpdateStatus(ctx, book.ID, entity.BookStatusFailed, cause.Error()); err != nil {
		logger.Error(ctx, "failed to mark book failed", err, "book_id", book.ID)
	}
	metrics.BooksCompletedTotal.WithLabelValues(string(entity.BookStatusFailed)).Inc()
	return cause
}

// normalizeWordTargets 把各章目标字数缩放到总和等于 total；
// total 或模型输出不可用时退化为均匀分配。
func normalizeWordTargets(chapters []entity.ChapterSpec, total int) {
	if len(chapters) == 0 || total <= 0 {
		return
	}

	sum := 0
	for _, ch := range chapters {
		if ch.TargetWords > 0 {
			sum += ch.TargetWords
		}
	}
	if sum <= 0 {
		per := total / len(chapters)
		for i := range chapters {
			chapters[i].TargetWords = per
		}
		chapters[len(chapters)-1].TargetWords = total - per*(len(chapters)-1)
		return
	}

	allocated := 0
	for i := range chapters {
		if i == len(chapters)-1 {
			chapters[i].TargetWords = total - allocated
			break
		}
		scaled := chapters[i].TargetWords * total / sum
		if scaled < 1 {
			scaled = 1
		}
		chapters[i].TargetWords = scaled
		allocated += scaled
	}
	if last := &chapters[len(chapters)-1]; last.TargetWords < 1 {
		last.TargetWords = 1
	}
}

func normalizeCharacterNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
