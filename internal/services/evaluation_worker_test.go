package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/events"
	"github.com/scriptgrade/evaluation-service/internal/grading"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/storage"
	"github.com/scriptgrade/evaluation-service/internal/validator"
)

// stubStore serves sheet bytes from memory.
type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fails   map[string]error
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte), fails: make(map[string]error)}
}

func (s *stubStore) Upload(ctx context.Context, path string, content []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = content
	return nil
}

func (s *stubStore) Download(ctx context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fails[path]; ok {
		return nil, err
	}
	data, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (s *stubStore) SignedURL(ctx context.Context, path string, expiresIn time.Duration) (string, error) {
	return "https://storage.test/" + path, nil
}

func (s *stubStore) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (s *stubStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// stubGrader scripts grading outcomes per call.
type stubGrader struct {
	mu    sync.Mutex
	calls int
	grade func(call int, questions []models.QuestionSpec) (string, models.Breakdown, error)
}

func (g *stubGrader) ExtractStudentID(ctx context.Context, sheet []byte) (string, error) {
	return "", nil
}

func (g *stubGrader) GradeQuestion(ctx context.Context, sheet []byte, question models.QuestionSpec) (models.QuestionBreakdown, error) {
	return models.QuestionBreakdown{}, errors.New("not used")
}

func (g *stubGrader) GradeSheet(ctx context.Context, sheet []byte, questions []models.QuestionSpec) (string, models.Breakdown, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	g.mu.Unlock()
	return g.grade(call, questions)
}

func legibleBreakdown(studentID string) func(int, []models.QuestionSpec) (string, models.Breakdown, error) {
	return func(call int, questions []models.QuestionSpec) (string, models.Breakdown, error) {
		breakdown := make(models.Breakdown, len(questions))
		for _, q := range questions {
			awarded := q.MaxMarks
			breakdown[q.QID] = models.QuestionBreakdown{Awarded: &awarded, Max: q.MaxMarks, Confidence: 0.9}
		}
		return studentID, breakdown, nil
	}
}

func workerFixture(t *testing.T, grader grading.Grader, store storage.SheetStore) (*memoryRepository, EvaluationService, *WorkerPool) {
	t.Helper()
	repo := newMemoryRepository()
	publisher := events.NewMockEventPublisher(testLogger())
	evaluation := NewEvaluationService(repo, testLogger(), publisher)
	results := NewResultService(repo, testLogger(), validator.New(), publisher)

	cfg := WorkerPoolConfig{
		PoolSize:     1,
		PollInterval: time.Millisecond,
		MaxAttempts:  3,
		BaseBackoff:  time.Millisecond,
		ClaimTimeout: time.Minute,
		ReapInterval: time.Minute,
	}
	pool := NewWorkerPool(cfg, repo, evaluation, results, store, grader, testLogger())
	return repo, evaluation, pool
}

func TestWorkerPool_GradesClaimedSheet(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	grader := &stubGrader{grade: legibleBreakdown("S1")}
	repo, evaluation, pool := workerFixture(t, grader, store)

	exam := seedExam(t, repo, models.ExamReady)
	seedAnswerKey(t, repo, exam.ID, twoQuestionSpecs())
	sheet := seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", nil)
	store.objects[sheet.FilePath] = []byte("pdf-bytes")

	if _, err := evaluation.StartJob(ctx, exam.ID, testInstructor); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	worked, err := pool.pollOnce(ctx)
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if !worked {
		t.Fatal("pollOnce found no work")
	}

	result, err := repo.Result().GetByExamAndStudent(ctx, nil, exam.ID, "S1")
	if err != nil {
		t.Fatalf("result missing: %v", err)
	}
	if result.TotalMarks != 15 {
		t.Errorf("total = %g, want 15", result.TotalMarks)
	}

	job, _ := repo.Job().GetLatestByExam(ctx, nil, exam.ID)
	if job.Status != models.JobCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	gotExam, _ := repo.Exam().GetByID(ctx, nil, exam.ID)
	if gotExam.Status != models.ExamCompleted {
		t.Errorf("exam status = %s, want completed", gotExam.Status)
	}

	gotSheet, _ := repo.Sheet().GetByID(ctx, nil, sheet.ID)
	if !gotSheet.Processed {
		t.Error("sheet not marked processed")
	}
	if gotSheet.StudentID == nil || *gotSheet.StudentID != "S1" {
		t.Errorf("sheet student = %v, want S1", gotSheet.StudentID)
	}
}

func TestWorkerPool_RetriesTransientGradingErrors(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	grader := &stubGrader{
		grade: func(call int, questions []models.QuestionSpec) (string, models.Breakdown, error) {
			if call < 3 {
				return "", nil, &grading.TransientError{Err: fmt.Errorf("rate limited")}
			}
			return legibleBreakdown("S1")(call, questions)
		},
	}
	repo, evaluation, pool := workerFixture(t, grader, store)

	exam := seedExam(t, repo, models.ExamReady)
	seedAnswerKey(t, repo, exam.ID, twoQuestionSpecs())
	sheet := seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", nil)
	store.objects[sheet.FilePath] = []byte("pdf-bytes")

	if _, err := evaluation.StartJob(ctx, exam.ID, testInstructor); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := pool.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if grader.calls != 3 {
		t.Errorf("grader calls = %d, want 3", grader.calls)
	}
	result, err := repo.Result().GetByExamAndStudent(ctx, nil, exam.ID, "S1")
	if err != nil {
		t.Fatalf("result missing after retries: %v", err)
	}
	if result.HasIllegible {
		t.Error("retried sheet ended up illegible")
	}
}

func TestWorkerPool_RetryExhaustionDegradesToIllegible(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	grader := &stubGrader{
		grade: func(call int, questions []models.QuestionSpec) (string, models.Breakdown, error) {
			return "", nil, &grading.TransientError{Err: fmt.Errorf("backend down")}
		},
	}
	repo, evaluation, pool := workerFixture(t, grader, store)

	exam := seedExam(t, repo, models.ExamReady)
	seedAnswerKey(t, repo, exam.ID, twoQuestionSpecs())
	sheet := seedSheet(t, repo, exam.ID, "MATH-101/s1.pdf", nil)
	store.objects[sheet.FilePath] = []byte("pdf-bytes")

	if _, err := evaluation.StartJob(ctx, exam.ID, testInstructor); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := pool.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if grader.calls != 3 {
		t.Errorf("grader calls = %d, want 3", grader.calls)
	}

	// The sheet still completes, attributed to a placeholder identity,
	// with every question flagged for review.
	studentID := fmt.Sprintf("UNKNOWN_%d", sheet.ID)
	result, err := repo.Result().GetByExamAndStudent(ctx, nil, exam.ID, studentID)
	if err != nil {
		t.Fatalf("result missing: %v", err)
	}
	if !result.HasIllegible || result.TotalMarks != 0 {
		t.Errorf("result = %+v", result)
	}

	_, flagTotal, _ := repo.Flag().ListByExam(ctx, nil, exam.ID, repositories.FlagFilters{})
	if flagTotal != 2 {
		t.Errorf("flags = %d, want one per question", flagTotal)
	}

	job, _ := repo.Job().GetLatestByExam(ctx, nil, exam.ID)
	if job.Status != models.JobCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
}

func TestWorkerPool_UploadedStudentIDWins(t *testing.T) {
	ctx := context.Background()
	store := newStubStore()
	grader := &stubGrader{grade: legibleBreakdown("EXTRACTED")}
	repo, evaluation, pool := workerFixture(t, grader, store)

	exam := seedExam(t, repo, models.ExamReady)
	seedAnswerKey(t, repo, exam.ID, twoQuestionSpecs())
	known := "S9"
	sheet := seedSheet(t, repo, exam.ID, "MATH-101/s9.pdf", &known)
	store.objects[sheet.FilePath] = []byte("pdf-bytes")

	if _, err := evaluation.StartJob(ctx, exam.ID, testInstructor); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := pool.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if _, err := repo.Result().GetByExamAndStudent(ctx, nil, exam.ID, "S9"); err != nil {
		t.Errorf("result not attributed to uploaded student ID: %v", err)
	}
}

func TestResolveStudentID(t *testing.T) {
	known := "S1"
	tests := []struct {
		name      string
		sheet     *models.AnswerSheet
		extracted string
		want      string
	}{
		{"uploaded identity wins", &models.AnswerSheet{ID: 7, StudentID: &known}, "OTHER", "S1"},
		{"extracted used when no upload identity", &models.AnswerSheet{ID: 7}, " S2 ", "S2"},
		{"unknown sentinel falls back", &models.AnswerSheet{ID: 7}, "UNKNOWN", "UNKNOWN_7"},
		{"empty falls back", &models.AnswerSheet{ID: 7}, "", "UNKNOWN_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveStudentID(tt.sheet, tt.extracted); got != tt.want {
				t.Errorf("resolveStudentID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWorkerPool_StartStop(t *testing.T) {
	store := newStubStore()
	grader := &stubGrader{grade: legibleBreakdown("S1")}
	_, _, pool := workerFixture(t, grader, store)

	pool.Start(context.Background())
	// Idempotent start.
	pool.Start(context.Background())
	pool.Stop()
	// Stop after stop is a no-op.
	pool.Stop()
}
