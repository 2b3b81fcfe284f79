package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"draftmybook/internal/application/generation/genutil"
	"draftmybook/internal/config"
	"draftmybook/internal/domain/entity"
	"draftmybook/internal/domain/repository"
	"draftmybook/internal/infrastructure/messaging"
	"draftmybook/pkg/errors"
	"draftmybook/pkg/logger"
	"draftmybook/pkg/metrics"
)

// Pipeline 章节流水线
//
// 每次 Step 处理恰好一章：生成正文、落库、更新滚动摘要与角色
// 状态、推进游标、投递下一章消息。步进以 (book_id, seq_num) 的
// 章节唯一键和游标 CAS 双重保证幂等，消息重复投递时退化为空操作。
type Pipeline struct {
	books    repository.BookRepository
	chapters repository.ChapterRepository
	client   Client
	producer Publisher
	preview  PreviewWriter
	cache    CacheInvalidator
	cfg      *config.Config
}

// NewPipeline 创建章节流水线
func NewPipeline(
	books repository.BookRepository,
	chapters repository.ChapterRepository,
	client Client,
	producer Publisher,
	preview PreviewWriter,
	cache CacheInvalidator,
	cfg *config.Config,
) *Pipeline {
	return &Pipeline{
		books:    books,
		chapters: chapters,
		client:   client,
		producer: producer,
		preview:  preview,
		cache:    cache,
		cfg:      cfg,
	}
}

// Step 执行一次章节步进
//
// chapterIndex 与数据库游标不一致的消息一律按过期消息丢弃；
// 真正的推进只发生在游标 CAS 成功的那一次调用里。
func (p *Pipeline) Step(ctx context.Context, bookID string, chapterIndex int) error {
	start := time.Now()

	book, err := p.books.GetByID(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return errors.ErrBookNotFound
	}

	switch book.Status {
	case entity.BookStatusGenerating:
	case entity.BookStatusCompleted, entity.BookStatusFailed:
		logger.Info(ctx, "book already finished, dropping chapter step",
			"book_id", bookID, "status", string(book.Status))
		return nil
	default:
		logger.Warn(ctx, "book not in generating status, dropping chapter step",
			"book_id", bookID, "status", string(book.Status))
		return nil
	}

	if chapterIndex != book.CurrentChapterIndex {
		logger.Info(ctx, "stale chapter step, dropping",
			"book_id", bookID, "message_index", chapterIndex, "cursor", book.CurrentChapterIndex)
		return nil
	}
	if book.Outline == nil {
		return errors.ErrOutlineMissing
	}
	if book.IsFinished() {
		return p.finish(ctx, book, book.TotalWords)
	}

	spec, ok := book.ChapterSpecAt(book.CurrentChapterIndex)
	if !ok {
		return errors.New(errors.CodeInvalidState,
			fmt.Sprintf("cursor %d outside outline of %d chapters", book.CurrentChapterIndex, book.TotalChapters))
	}

	// 崩溃恢复：章节行已存在说明上次运行在落库后、推进游标前
	// 中断，这里只补做连续性更新与游标推进，不重新生成。
	existing, err := p.chapters.GetByBookAndSeq(ctx, bookID, spec.Index)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.Warn(ctx, "orphaned chapter found, recovering continuity",
			"book_id", bookID, "chapter_index", spec.Index)
		return p.advanceWith(ctx, book, spec, existing, start)
	}

	_ = p.preview.Write(ctx, bookID, fmt.Sprintf("%s\n\n(writing...)", spec.Title))

	text, err := p.client.GenerateChapterText(ctx, p.buildRequest(book, spec))
	if err != nil {
		return p.recordFailure(ctx, book, "generate", err)
	}
	_ = p.preview.Write(ctx, bookID, text)

	wordCount := countWordsFor(book.Format, text)
	chapter := entity.NewChapter(bookID, spec.Index, spec.Title, text, wordCount)
	created, err := p.chapters.CreateIfAbsent(ctx, chapter)
	if err != nil {
		return p.recordFailure(ctx, book, "persist", err)
	}
	if !created {
		// 并发步进已落库，读取既有行继续推进
		chapter, err = p.chapters.GetByBookAndSeq(ctx, bookID, spec.Index)
		if err != nil {
			return err
		}
		if chapter == nil {
			return errors.ErrChapterNotFound
		}
	} else {
		metrics.ChaptersGeneratedTotal.WithLabelValues(string(book.Format)).Inc()
		metrics.ChapterWordCount.WithLabelValues(string(book.Format)).Observe(float64(wordCount))
		p.scheduleReview(ctx, book, chapter)
	}

	return p.advanceWith(ctx, book, spec, chapter, start)
}

// advanceWith 从已持久化的章节推导连续性状态并 CAS 推进游标
func (p *Pipeline) advanceWith(ctx context.Context, book *entity.Book, spec entity.ChapterSpec, chapter *entity.Chapter, start time.Time) error {
	summary, err := p.client.SummarizeChapter(ctx, book.StorySoFar, chapter.Content)
	if err != nil {
		return p.recordFailure(ctx, book, "summarize", err)
	}

	states := p.client.UpdateCharacterStates(ctx, book.CharacterStates, chapter.Content, spec.Index)

	totalWords, err := p.chapters.SumWordCount(ctx, book.ID)
	if err != nil {
		return p.recordFailure(ctx, book, "persist", err)
	}

	advanced, err := p.books.AdvanceCursor(ctx, book.ID, spec.Index, repository.ContinuityUpdate{
		StorySoFar:      summary,
		CharacterStates: states,
		CharacterNames:  mergeCharacterNames(book.CharacterNames, states),
		TotalWords:      totalWords,
	})
	if err != nil {
		return p.recordFailure(ctx, book, "persist", err)
	}
	if !advanced {
		logger.Info(ctx, "cursor already advanced by a concurrent step, dropping",
			"book_id", book.ID, "chapter_index", spec.Index)
		return nil
	}

	_ = p.cache.InvalidateBook(ctx, book.ID)
	metrics.ChapterStepDuration.WithLabelValues(string(book.Format)).Observe(time.Since(start).Seconds())
	logger.Info(ctx, "chapter step completed", "book_id", book.ID,
		"chapter_index", spec.Index, "word_count", chapter.WordCount, "total_words", totalWords)

	book.CurrentChapterIndex = spec.Index + 1
	if book.IsFinished() {
		return p.finish(ctx, book, totalWords)
	}

	_, err = p.producer.PublishChapterStep(ctx, &messaging.ChapterStepMessage{
		BookID:       book.ID,
		ChapterIndex: book.CurrentChapterIndex,
	})
	return err
}

// finish 收尾：置完成态、清预览，并按形式触发封面与插图任务
//
// 完成态只定向写状态字段：book 是步进开始时的快照，最后一章的
// 连续性与字数统计已由 AdvanceCursor 落库，整行回写会把它们冲掉。
func (p *Pipeline) finish(ctx context.Context, book *entity.Book, totalWords int) error {
	if err := p.books.MarkCompleted(ctx, book.ID); err != nil {
		return err
	}
	metrics.BooksGenerating.Dec()
	metrics.BooksCompletedTotal.WithLabelValues(string(entity.BookStatusCompleted)).Inc()

	_ = p.preview.Clear(ctx, book.ID)
	_ = p.cache.InvalidateBook(ctx, book.ID)
	logger.Info(ctx, "book completed", "book_id", book.ID,
		"total_chapters", book.TotalChapters, "total_words", totalWords)

	if p.cfg.Features.CoverArt.Enabled && book.CoverImageURL == "" {
		if url, err := p.client.GenerateCoverArt(ctx, coverPromptFor(book)); err != nil {
			logger.Warn(ctx, "cover art generation failed", "book_id", book.ID, "error", err.Error())
		} else if err := p.books.SetCoverImage(ctx, book.ID, url); err != nil {
			logger.Warn(ctx, "failed to save cover image", "book_id", book.ID, "error", err.Error())
		}
	}

	if book.IsIllustrated() {
		for i := 0; i < book.TotalChapters; i++ {
			if _, err := p.producer.PublishIllustrationJob(ctx, &messaging.IllustrationJobMessage{
				BookID:   book.ID,
				Position: i,
			}); err != nil {
				logger.Error(ctx, "failed to publish illustration job", err,
					"book_id", book.ID, "position", i)
			}
		}
	}
	return nil
}

// scheduleReview 发起章节复审润色
//
// 润色失败不阻塞流水线：无论成败章节最终都会被标记 reviewed，
// 失败时保留原文。
func (p *Pipeline) scheduleReview(ctx context.Context, book *entity.Book, chapter *entity.Chapter) {
	if !p.cfg.Features.Review.Enabled {
		if err := p.chapters.MarkReviewed(ctx, chapter.ID); err != nil {
			logger.Warn(ctx, "failed to mark chapter reviewed", "chapter_id", chapter.ID, "error", err.Error())
		}
		return
	}

	run := func(ctx context.Context) {
		timeout := p.cfg.Pipeline.ReviewTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		polished, err := p.client.PolishChapter(ctx, chapter.Content)
		if err != nil {
			logger.Warn(ctx, "chapter polish failed, keeping original text",
				"chapter_id", chapter.ID, "error", err.Error())
			if err := p.chapters.MarkReviewed(ctx, chapter.ID); err != nil {
				logger.Warn(ctx, "failed to mark chapter reviewed", "chapter_id", chapter.ID, "error", err.Error())
			}
			return
		}

		wordCount := countWordsFor(book.Format, polished)
		if err := p.chapters.UpdatePolished(ctx, chapter.ID, polished, wordCount); err != nil {
			logger.Warn(ctx, "failed to save polished chapter", "chapter_id", chapter.ID, "error", err.Error())
		}
	}

	if p.cfg.Features.Review.Async {
		go run(context.WithoutCancel(ctx))
		return
	}
	run(ctx)
}

// recordFailure 记录步进失败并决定重试还是终态失败
//
// 预算内返回错误让消费者按退避重投；预算耗尽则把书置为 failed。
func (p *Pipeline) recordFailure(ctx context.Context, book *entity.Book, stage string, cause error) error {
	metrics.ChapterStepFailuresTotal.WithLabelValues(string(book.Format), stage).Inc()
	logger.Error(ctx, "chapter step failed", cause,
		"book_id", book.ID, "chapter_index", book.CurrentChapterIndex,
		"stage", stage, "attempt", book.AttemptCount+1)

	// 失败计数与终态都走定向更新，book 快照里的聚合字段不回写
	book.RecordStepFailure(cause.Error())
	if err := p.books.RecordStepFailure(ctx, book.ID, cause.Error()); err != nil {
		logger.Error(ctx, "failed to record step failure", err, "book_id", book.ID)
	}

	maxAttempts := p.cfg.Pipeline.MaxStepAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if !book.CanRetryStep(maxAttempts) {
		book.Fail(cause.Error())
		if err := p.books.UpdateStatus(ctx, book.ID, entity.BookStatusFailed, cause.Error()); err != nil {
			logger.Error(ctx, "failed to mark book failed", err, "book_id", book.ID)
		}
		metrics.BooksGenerating.Dec()
		metrics.BooksCompletedTotal.WithLabelValues(string(entity.BookStatusFailed)).Inc()
		_ = p.cache.InvalidateBook(ctx, book.ID)
		// 预算耗尽后吞掉错误，避免消费者继续重投终态书籍
		return nil
	}

	_ = p.cache.InvalidateBook(ctx, book.ID)
	return cause
}

// buildRequest 从大纲与连续性状态组装单章生成请求
func (p *Pipeline) buildRequest(book *entity.Book, spec entity.ChapterSpec) *ChapterRequest {
	return &ChapterRequest{
		Title:           book.Title,
		Genre:           book.Genre,
		Format:          book.Format,
		OutlineText:     renderOutlineText(book.Outline),
		StorySoFar:      book.StorySoFar,
		CharacterStates: renderStatesJSON(book.CharacterStates),
		Spec:            spec,
		ChapterCount:    book.TotalChapters,
		HeadingFormat:   headingFormatFor(book.Format),
	}
}

// renderOutlineText 把大纲渲染为提示词用的紧凑文本
func renderOutlineText(outline *entity.OutlineDoc) string {
	if outline == nil {
		return ""
	}
	var b strings.Builder
	for _, ch := range outline.Chapters {
		fmt.Fprintf(&b, "%d. %s — %s (~%d words)\n", ch.Index+1, ch.Title, ch.Summary, ch.TargetWords)
	}
	return strings.TrimSpace(b.String())
}

func renderStatesJSON(doc *entity.CharacterStateDoc) string {
	if doc == nil || len(doc.States) == 0 {
		return ""
	}
	b, err := json.Marshal(doc.States)
	if err != nil {
		return ""
	}
	return string(b)
}

// headingFormatFor 按书籍形式决定章节标题写法
func headingFormatFor(format entity.BookFormat) string {
	switch format {
	case entity.FormatScreenplay:
		return "Open with a numbered scene heading in screenplay style, e.g. \"SCENE 3 - INT. LOCATION - DAY\""
	case entity.FormatPictureBook:
		return "Open with \"Page N\" on its own line, then the page text"
	case entity.FormatComic:
		return "Open with \"Issue N: Title\" and break the script into numbered panels"
	default:
		return "Open with \"Chapter N: Title\" on its own line"
	}
}

// coverPromptFor 生成封面提示词
func coverPromptFor(book *entity.Book) string {
	genre := book.Genre
	if genre == "" {
		genre = "fiction"
	}
	return fmt.Sprintf("Book cover illustration for a %s %s titled %q. %s. No text or lettering.",
		genre, book.Format, book.Title, genutil.TruncateByRunes(book.Premise, 400))
}

// mergeCharacterNames 把状态文档里新出现的角色并入名单，保持原有顺序
func mergeCharacterNames(existing []string, states *entity.CharacterStateDoc) []string {
	if states == nil || len(states.States) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, n := range existing {
		seen[n] = struct{}{}
	}
	for name := range states.States {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// countWordsFor 统计字数
func countWordsFor(_ entity.BookFormat, text string) int {
	return genutil.CountWords(text)
}
