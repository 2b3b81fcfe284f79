package generation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"draftmybook/internal/domain/entity"
)

func failedIllustration(bookID string, position, retries int) *entity.Illustration {
	ill := entity.NewIllustration(bookID, position, fmt.Sprintf("prompt for position %d", position))
	ill.Status = entity.IllustrationStatusFailed
	ill.RetryCount = retries
	ill.ErrorMessage = "image api down"
	return ill
}

func newTestIllustrator(books *fakeBookRepo, chapters *fakeChapterRepo, rows *fakeIllustrationRepo, client *fakeClient) *Illustrator {
	return NewIllustrator(books, chapters, rows, client, testConfig())
}

func TestGenerateCreatesAndCompletesIllustration(t *testing.T) {
	book := generatingBook("book-1", 2)
	book.Format = entity.FormatPictureBook
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	rows := newFakeIllustrationRepo()
	client := &fakeClient{}
	il := newTestIllustrator(books, chapters, rows, client)

	if err := il.Generate(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 0)
	if got == nil {
		t.Fatal("illustration row not created")
	}
	if got.Status != entity.IllustrationStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.ImageURL == "" {
		t.Fatal("image url not saved")
	}
	if !strings.Contains(got.Prompt, "events of part 1") {
		t.Fatalf("prompt = %q, want outline summary", got.Prompt)
	}
}

func TestGeneratePromptFallsBackToChapterContent(t *testing.T) {
	book := generatingBook("book-1", 1)
	book.Format = entity.FormatComic
	book.Outline.Chapters[0].Summary = ""
	books := newFakeBookRepo(book)
	chapters := newFakeChapterRepo()
	ch := entity.NewChapter("book-1", 0, "The Part 1", "panels of a chase across rooftops", 5)
	if _, err := chapters.CreateIfAbsent(context.Background(), ch); err != nil {
		t.Fatal(err)
	}
	rows := newFakeIllustrationRepo()
	client := &fakeClient{}
	il := newTestIllustrator(books, chapters, rows, client)

	if err := il.Generate(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	got, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 0)
	if !strings.Contains(got.Prompt, "rooftops") {
		t.Fatalf("prompt = %q, want chapter content fallback", got.Prompt)
	}
	if !strings.Contains(got.Prompt, "comic book panel") {
		t.Fatalf("prompt = %q, want comic style", got.Prompt)
	}
}

func TestGenerateSkipsCompletedPosition(t *testing.T) {
	done := entity.NewIllustration("book-1", 0, "p")
	done.Complete("https://img.example/0.png")
	books := newFakeBookRepo(generatingBook("book-1", 1))
	rows := newFakeIllustrationRepo(done)
	client := &fakeClient{}
	il := newTestIllustrator(books, newFakeChapterRepo(), rows, client)

	if err := il.Generate(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if client.imageCalls != 0 {
		t.Fatal("completed position must not regenerate")
	}
}

func TestGenerateDropsExhaustedPosition(t *testing.T) {
	books := newFakeBookRepo(generatingBook("book-1", 1))
	rows := newFakeIllustrationRepo(failedIllustration("book-1", 0, entity.MaxIllustrationRetries))
	client := &fakeClient{}
	il := newTestIllustrator(books, newFakeChapterRepo(), rows, client)

	if err := il.Generate(context.Background(), "book-1", 0); err != nil {
		t.Fatalf("exhausted position should drop silently, got %v", err)
	}
	if client.imageCalls != 0 {
		t.Fatal("exhausted position must not be attempted")
	}
}

func TestGenerateFailureIncrementsRetryCount(t *testing.T) {
	books := newFakeBookRepo(generatingBook("book-1", 1))
	rows := newFakeIllustrationRepo()
	client := &fakeClient{
		imageFn: func(string) (string, error) { return "", fmt.Errorf("image api down") },
	}
	il := newTestIllustrator(books, newFakeChapterRepo(), rows, client)

	if err := il.Generate(context.Background(), "book-1", 0); err == nil {
		t.Fatal("want error for consumer redelivery")
	}
	got, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 0)
	if got.Status != entity.IllustrationStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", got.RetryCount)
	}
	if got.ErrorMessage == "" {
		t.Fatal("error message not recorded")
	}
}

func TestBulkRetryTally(t *testing.T) {
	books := newFakeBookRepo(generatingBook("book-1", 3))
	rows := newFakeIllustrationRepo(
		failedIllustration("book-1", 0, 1), // 重试后成功
		failedIllustration("book-1", 1, 2), // 重试后仍失败
		failedIllustration("book-1", 2, 5), // 预算耗尽，跳过
	)
	client := &fakeClient{
		imageFn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "position 1") {
				return "", fmt.Errorf("image api down")
			}
			return "https://img.example/ok.png", nil
		},
	}
	il := newTestIllustrator(books, newFakeChapterRepo(), rows, client)

	report, err := il.BulkRetry(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("BulkRetry: %v", err)
	}

	want := RetryReport{Retried: 2, Succeeded: 1, Failed: 1, Skipped: 1}
	if *report != want {
		t.Fatalf("report = %+v, want %+v", *report, want)
	}

	ok, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 0)
	if ok.Status != entity.IllustrationStatusCompleted {
		t.Fatalf("position 0 = %s, want completed", ok.Status)
	}
	bad, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 1)
	if bad.Status != entity.IllustrationStatusFailed || bad.RetryCount != 3 {
		t.Fatalf("position 1 = %s retry %d, want failed retry 3", bad.Status, bad.RetryCount)
	}
	skipped, _ := rows.GetByBookAndPosition(context.Background(), "book-1", 2)
	if skipped.RetryCount != 5 {
		t.Fatalf("position 2 retry = %d, skipped rows must not change", skipped.RetryCount)
	}
}

func TestBulkRetryUnknownBook(t *testing.T) {
	il := newTestIllustrator(newFakeBookRepo(), newFakeChapterRepo(), newFakeIllustrationRepo(), &fakeClient{})
	if _, err := il.BulkRetry(context.Background(), "missing"); err == nil {
		t.Fatal("want error for unknown book")
	}
}
