package generation

import (
	"context"
	"testing"

	"draftmybook/internal/domain/entity"
	"draftmybook/pkg/errors"
)

func pendingBook(id string, payment entity.PaymentStatus) *entity.Book {
	book := entity.NewBook("owner-1", "The Long Voyage", entity.FormatNovel)
	book.ID = id
	book.TargetChapterCount = 3
	book.TargetWordCount = 3000
	book.PaymentStatus = payment
	return book
}

func newTestLifecycle(books *fakeBookRepo, chapters *fakeChapterRepo, rows *fakeIllustrationRepo, pub *fakePublisher) (*Lifecycle, *fakePreview, *fakeCache) {
	preview := newFakePreview()
	cache := newFakeCache()
	return NewLifecycle(books, chapters, rows, fakeTx{}, pub, preview, cache), preview, cache
}

func TestClaimTransitionsAndPublishes(t *testing.T) {
	books := newFakeBookRepo(pendingBook("book-1", entity.PaymentStatusPaid))
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Claim(context.Background(), "book-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	got := books.get("book-1")
	if got.Status != entity.BookStatusOutlining {
		t.Fatalf("status = %s, want outlining", got.Status)
	}
	if pub.claimCount() != 1 {
		t.Fatalf("claims published = %d, want 1", pub.claimCount())
	}
	if pub.claims[0].BookID != "book-1" || pub.claims[0].UserID != "owner-1" {
		t.Fatalf("claim message = %+v", pub.claims[0])
	}
}

func TestClaimIsIdempotent(t *testing.T) {
	books := newFakeBookRepo(pendingBook("book-1", entity.PaymentStatusFree))
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Claim(context.Background(), "book-1"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	// 重复认领：已在流程中，不再投递
	if err := l.Claim(context.Background(), "book-1"); err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	if pub.claimCount() != 1 {
		t.Fatalf("claims published = %d, want 1", pub.claimCount())
	}
}

func TestClaimRequiresPayment(t *testing.T) {
	books := newFakeBookRepo(pendingBook("book-1", entity.PaymentStatusUnpaid))
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Claim(context.Background(), "book-1"); err != errors.ErrPaymentRequired {
		t.Fatalf("err = %v, want ErrPaymentRequired", err)
	}
	if got := books.get("book-1"); got.Status != entity.BookStatusPending {
		t.Fatalf("status = %s, unpaid book must stay pending", got.Status)
	}
}

func TestClaimRejectsFinishedBook(t *testing.T) {
	book := pendingBook("book-1", entity.PaymentStatusPaid)
	book.Status = entity.BookStatusCompleted
	books := newFakeBookRepo(book)
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Claim(context.Background(), "book-1"); err != errors.ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestResumePreservesCursorAndChapters(t *testing.T) {
	book := generatingBook("book-1", 4)
	book.CurrentChapterIndex = 2
	book.Fail("model unavailable")
	book.AttemptCount = 3
	books := newFakeBookRepo(book)
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Resume(context.Background(), "book-1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	got := books.get("book-1")
	if got.Status != entity.BookStatusGenerating {
		t.Fatalf("status = %s, want generating", got.Status)
	}
	if got.CurrentChapterIndex != 2 {
		t.Fatalf("cursor = %d, resume must not move it", got.CurrentChapterIndex)
	}
	if got.AttemptCount != 0 {
		t.Fatalf("attempt count = %d, want reset to 0", got.AttemptCount)
	}
	if got.ErrorMessage != "" {
		t.Fatal("error message not cleared on resume")
	}

	step, ok := pub.popStep()
	if !ok {
		t.Fatal("resume must re-dispatch the current chapter")
	}
	if step.ChapterIndex != 2 {
		t.Fatalf("resumed step index = %d, want 2", step.ChapterIndex)
	}
}

func TestResumeWithoutOutline(t *testing.T) {
	book := pendingBook("book-1", entity.PaymentStatusPaid)
	book.Status = entity.BookStatusFailed
	books := newFakeBookRepo(book)
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Resume(context.Background(), "book-1"); err != errors.ErrOutlineMissing {
		t.Fatalf("err = %v, want ErrOutlineMissing", err)
	}
}

func TestResumeRejectsPendingBook(t *testing.T) {
	books := newFakeBookRepo(pendingBook("book-1", entity.PaymentStatusPaid))
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Resume(context.Background(), "book-1"); err != errors.ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRestartWipesStateAndReclaims(t *testing.T) {
	book := generatingBook("book-1", 2)
	book.CurrentChapterIndex = 2
	book.TotalWords = 240
	book.StorySoFar = "everything so far"
	book.CoverImageURL = "https://img.example/cover.png"
	book.Complete()
	books := newFakeBookRepo(book)

	chapters := newFakeChapterRepo()
	for i := 0; i < 2; i++ {
		ch := entity.NewChapter("book-1", i, "t", "c", 120)
		if _, err := chapters.CreateIfAbsent(context.Background(), ch); err != nil {
			t.Fatal(err)
		}
	}
	rows := newFakeIllustrationRepo(failedIllustration("book-1", 0, 1))

	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, chapters, rows, pub)

	if err := l.Restart(context.Background(), "book-1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	count, _ := chapters.CountByBook(context.Background(), "book-1")
	if count != 0 {
		t.Fatalf("chapters remaining = %d, want 0", count)
	}
	ills, _ := rows.ListByBook(context.Background(), "book-1")
	if len(ills) != 0 {
		t.Fatalf("illustrations remaining = %d, want 0", len(ills))
	}

	got := books.get("book-1")
	// 支付已确认：重置后立即重新认领
	if got.Status != entity.BookStatusOutlining {
		t.Fatalf("status = %s, want outlining after re-claim", got.Status)
	}
	if got.CurrentChapterIndex != 0 || got.TotalWords != 0 || got.Outline != nil {
		t.Fatalf("generation state not wiped: %+v", got)
	}
	if got.StorySoFar != "" || got.CoverImageURL != "" {
		t.Fatal("continuity and cover not wiped")
	}
	if got.Title != "The Long Voyage" || got.PaymentStatus != entity.PaymentStatusPaid {
		t.Fatal("user input or payment status must survive restart")
	}
	if pub.claimCount() != 1 {
		t.Fatalf("claims published = %d, want 1", pub.claimCount())
	}
}

func TestRestartUnpaidParksAtPending(t *testing.T) {
	book := generatingBook("book-1", 2)
	book.PaymentStatus = entity.PaymentStatusUnpaid
	book.Fail("model unavailable")
	books := newFakeBookRepo(book)
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Restart(context.Background(), "book-1"); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	got := books.get("book-1")
	if got.Status != entity.BookStatusPending {
		t.Fatalf("status = %s, want pending until payment confirms", got.Status)
	}
	if pub.claimCount() != 0 {
		t.Fatal("unpaid restart must not re-claim")
	}
}

func TestAdvanceRedispatchesCurrentCursor(t *testing.T) {
	book := generatingBook("book-1", 3)
	book.CurrentChapterIndex = 1
	books := newFakeBookRepo(book)
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Advance(context.Background(), "book-1"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	step, ok := pub.popStep()
	if !ok || step.ChapterIndex != 1 {
		t.Fatalf("step = %+v ok=%v, want index 1", step, ok)
	}
}

func TestAdvanceRejectsNonGeneratingBook(t *testing.T) {
	books := newFakeBookRepo(pendingBook("book-1", entity.PaymentStatusPaid))
	pub := &fakePublisher{}
	l, _, _ := newTestLifecycle(books, newFakeChapterRepo(), newFakeIllustrationRepo(), pub)

	if err := l.Advance(context.Background(), "book-1"); err != errors.ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}
