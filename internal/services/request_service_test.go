package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-study-backend/internal/domain"
	"github.com/tbourn/go-study-backend/internal/generation"
	"github.com/tbourn/go-study-backend/internal/repo"
)

// failingGenerator always reports a backend error.
type failingGenerator struct{ msg string }

func (g failingGenerator) Generate(context.Context, string, string, string) (*generation.Course, error) {
	return nil, errors.New(g.msg)
}

func newReqSvc(t *testing.T) (*RequestService, *AccountService) {
	t.Helper()
	db := newSvcDB(t)
	return NewRequestService(db), NewAccountService(db)
}

// ---------- Create ----------

func TestCreate_DebitsOneCreditAndQueues(t *testing.T) {
	s, acct := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, err := s.Create(ctx, u.ID, "exam", "Graph algorithms", "Medium")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Status != domain.StatusQueued || r.CreditsUsed != 1 {
		t.Fatalf("request unexpected: status=%q credits_used=%d", r.Status, r.CreditsUsed)
	}

	bal, err := acct.GetBalance(ctx, u.ID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Remaining != 4 || bal.UsedCredits != 1 || bal.Credits != 5 {
		t.Fatalf("debit unexpected: %+v", bal)
	}

	entries, _ := repo.ListLedgerEntries(ctx, s.DB, u.ID)
	if len(entries) != 1 || entries[0].Delta != -1 || entries[0].RequestID == nil || *entries[0].RequestID != r.ID {
		t.Fatalf("debit ledger entry unexpected: %+v", entries)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	if _, err := s.Create(ctx, u.ID, "party", "t", "Easy"); !errors.Is(err, ErrInvalidPurpose) {
		t.Fatalf("purpose: %v", err)
	}
	if _, err := s.Create(ctx, u.ID, "exam", "t", "Impossible"); !errors.Is(err, ErrInvalidDifficulty) {
		t.Fatalf("difficulty: %v", err)
	}
	if _, err := s.Create(ctx, u.ID, "exam", "   ", "Easy"); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("topic: %v", err)
	}
	s.MaxTopicRunes = 10
	if _, err := s.Create(ctx, u.ID, "exam", strings.Repeat("x", 11), "Easy"); !errors.Is(err, ErrTopicTooLong) {
		t.Fatalf("topic length: %v", err)
	}
	// Validation failures must not touch the balance.
	var got domain.User
	if err := s.DB.First(&got, "id = ?", u.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.UsedCredits != 0 {
		t.Fatalf("validation must not debit, used=%d", got.UsedCredits)
	}
}

func TestCreate_InsufficientCreditsRollsBack(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 0)
	ctx := context.Background()

	_, err := s.Create(ctx, u.ID, "exam", "Topic", "Easy")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	// Whole creation rolled back: no request row, no ledger row.
	n, _ := repo.CountStudyRequests(ctx, s.DB, u.ID)
	if n != 0 {
		t.Fatalf("expected no request rows, got %d", n)
	}
	entries, _ := repo.ListLedgerEntries(ctx, s.DB, u.ID)
	if len(entries) != 0 {
		t.Fatalf("expected no ledger rows, got %d", len(entries))
	}
}

func TestCreate_NoOverdraftUnderContention(t *testing.T) {
	s, acct := newReqSvc(t)
	u := seedUser(t, s.DB, 3)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	okCount, insufficient := 0, 0
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, u.ID, "practice", "Contention", "Easy")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				okCount++
			case errors.Is(err, ErrInsufficientCredits):
				insufficient++
			}
		}()
	}
	wg.Wait()

	if okCount != 3 || insufficient != attempts-3 {
		t.Fatalf("expected exactly 3 successes, got ok=%d insufficient=%d", okCount, insufficient)
	}
	bal, _ := acct.GetBalance(ctx, u.ID)
	if bal.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", bal.Remaining)
	}
}

func TestCreate_ActiveSubscriberBypassesDebit(t *testing.T) {
	s, acct := newReqSvc(t)
	u := seedUser(t, s.DB, 0)
	ctx := context.Background()

	if err := acct.Subscribe(ctx, u.ID, domain.TierUnlimited, time.Now().UTC()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.Create(ctx, u.ID, "coding", "Goroutines", "Hard"); err != nil {
		t.Fatalf("Create on unlimited: %v", err)
	}

	got, _ := repo.GetUser(ctx, s.DB, u.ID)
	if got.UsedCredits != 0 {
		t.Fatalf("subscriber must not be debited, used=%d", got.UsedCredits)
	}
}

// ---------- Process ----------

func TestProcess_Success_CompletesWithMaterial(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, err := s.Create(ctx, u.ID, "job", "Kubernetes", "Medium")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	done, mat, err := s.Process(ctx, r.ID)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if done.Status != domain.StatusCompleted {
		t.Fatalf("status = %q", done.Status)
	}
	if mat == nil || mat.RequestID == nil || *mat.RequestID != r.ID {
		t.Fatalf("material not bound to request: %+v", mat)
	}
	if mat.Status != domain.MaterialReady {
		t.Fatalf("material status = %q", mat.Status)
	}
	if len(mat.CourseLayout) == 0 {
		t.Fatalf("course layout not persisted")
	}
}

func TestProcess_GeneratorError_FailsAndRefunds(t *testing.T) {
	s, acct := newReqSvc(t)
	s.Generator = failingGenerator{msg: "backend unavailable"}
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, err := s.Create(ctx, u.ID, "exam", "Compilers", "Hard")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	failed, mat, err := s.Process(ctx, r.ID)
	if err != nil {
		t.Fatalf("Process must recover generator errors, got %v", err)
	}
	if failed.Status != domain.StatusFailed || mat != nil {
		t.Fatalf("expected failed request without material, got %q %v", failed.Status, mat)
	}
	if failed.Error != "backend unavailable" {
		t.Fatalf("error column = %q", failed.Error)
	}

	// Refund restores the debit exactly once.
	bal, _ := acct.GetBalance(ctx, u.ID)
	if bal.Remaining != 5 {
		t.Fatalf("refund missing: remaining=%d", bal.Remaining)
	}
	entries, _ := repo.ListLedgerEntries(ctx, s.DB, u.ID)
	if len(entries) != 2 {
		t.Fatalf("expected debit+refund, got %d entries", len(entries))
	}

	// Redelivered failure is a no-op, never a second refund.
	if err := s.Transition(ctx, r.ID, domain.StatusFailed, TransitionPayload{Error: "again"}); err != nil {
		t.Fatalf("redelivered failure: %v", err)
	}
	entries, _ = repo.ListLedgerEntries(ctx, s.DB, u.ID)
	if len(entries) != 2 {
		t.Fatalf("double refund: %d entries", len(entries))
	}
}

func TestProcess_SubscriberFailure_NoRefund(t *testing.T) {
	s, acct := newReqSvc(t)
	s.Generator = failingGenerator{msg: "boom"}
	u := seedUser(t, s.DB, 0)
	ctx := context.Background()

	if err := acct.Subscribe(ctx, u.ID, domain.TierUnlimited, time.Now().UTC()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r, err := s.Create(ctx, u.ID, "other", "Anything", "Easy")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.Process(ctx, r.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	// Nothing was debited, so nothing is refunded.
	entries, _ := repo.ListLedgerEntries(ctx, s.DB, u.ID)
	if len(entries) != 0 {
		t.Fatalf("expected empty ledger, got %d entries", len(entries))
	}
}

func TestProcess_NotQueued(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, _ := s.Create(ctx, u.ID, "exam", "Algebra", "Easy")
	if _, _, err := s.Process(ctx, r.ID); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// Completed requests cannot be claimed again.
	if _, _, err := s.Process(ctx, r.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := s.Process(ctx, "missing-id"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

// ---------- Transition (completion idempotence) ----------

func TestTransition_CompletedRedelivery_KeepsSingleMaterial(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, _ := s.Create(ctx, u.ID, "practice", "Sorting", "Easy")
	done, mat, err := s.Process(ctx, r.ID)
	if err != nil || done.Status != domain.StatusCompleted {
		t.Fatalf("process: %v %v", done, err)
	}

	course := &generation.Course{Topic: "Sorting", Difficulty: "Easy"}
	if err := s.Transition(ctx, r.ID, domain.StatusCompleted, TransitionPayload{Course: course}); err != nil {
		t.Fatalf("redelivered completion: %v", err)
	}

	var n int64
	if err := s.DB.Model(&domain.StudyMaterial{}).Where("request_id = ?", r.ID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one material, got %d", n)
	}
	again, err := s.GetMaterial(ctx, mat.ID)
	if err != nil || again.ID != mat.ID {
		t.Fatalf("original material must survive redelivery: %v %v", again, err)
	}
}

func TestTransition_UndefinedEdge(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, _ := s.Create(ctx, u.ID, "exam", "Physics", "Easy")
	if err := s.Transition(ctx, r.ID, "archived", TransitionPayload{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unknown status: %v", err)
	}
	// queued → completed skips processing and is rejected.
	course := &generation.Course{Topic: "Physics", Difficulty: "Easy"}
	if err := s.Transition(ctx, r.ID, domain.StatusCompleted, TransitionPayload{Course: course}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("queued→completed: %v", err)
	}
}

// ---------- Cancel ----------

func TestCancel_OnlyFromQueued(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 5)
	other := seedUser(t, s.DB, 5)
	ctx := context.Background()

	r, _ := s.Create(ctx, u.ID, "exam", "History", "Easy")

	// Foreign owner sees not-found, not a hint the request exists.
	if err := s.Cancel(ctx, r.ID, other.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("foreign cancel: %v", err)
	}

	if err := s.Cancel(ctx, r.ID, u.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := s.Get(ctx, r.ID, u.ID)
	if got.Status != domain.StatusCanceled {
		t.Fatalf("status = %q", got.Status)
	}

	// Cancel is not a refund path: the consumed credit stays spent.
	var reloaded domain.User
	_ = s.DB.First(&reloaded, "id = ?", u.ID).Error
	if reloaded.UsedCredits != 1 {
		t.Fatalf("cancel must not refund, used=%d", reloaded.UsedCredits)
	}

	// Terminal: cancel again is a conflict.
	if err := s.Cancel(ctx, r.ID, u.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second cancel: %v", err)
	}
}

// ---------- Get / ListPage / GetMaterial ----------

func TestListPage_NewestFirstWithTotal(t *testing.T) {
	s, _ := newReqSvc(t)
	u := seedUser(t, s.DB, 10)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Create(ctx, u.ID, "exam", "Topic", "Easy"); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	items, total, err := s.ListPage(ctx, u.ID, 1, 2)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("total=%d len=%d", total, len(items))
	}

	// Out-of-range page returns an empty slice, not an error.
	items, total, err = s.ListPage(ctx, u.ID, 99, 2)
	if err != nil || total != 5 || len(items) != 0 {
		t.Fatalf("far page: items=%d total=%d err=%v", len(items), total, err)
	}
}

func TestGetMaterial_NotFound(t *testing.T) {
	s, _ := newReqSvc(t)
	if _, err := s.GetMaterial(context.Background(), "missing"); !errors.Is(err, ErrMaterialNotFound) {
		t.Fatalf("expected ErrMaterialNotFound, got %v", err)
	}
}
