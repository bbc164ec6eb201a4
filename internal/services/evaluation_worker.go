package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/scriptgrade/evaluation-service/internal/grading"
	"github.com/scriptgrade/evaluation-service/internal/models"
	"github.com/scriptgrade/evaluation-service/internal/repositories"
	"github.com/scriptgrade/evaluation-service/internal/storage"
)

// WorkerPoolConfig tunes the grading pool.
type WorkerPoolConfig struct {
	PoolSize     int
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	ClaimTimeout time.Duration
	ReapInterval time.Duration
}

// WorkerPool claims sheets from active jobs and grades them. Each worker
// claims one sheet at a time; the claim itself is the mutual exclusion, so
// workers never coordinate with each other directly.
type WorkerPool struct {
	cfg        WorkerPoolConfig
	repo       repositories.Repository
	evaluation EvaluationService
	results    ResultService
	store      storage.SheetStore
	grader     grading.Grader
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(
	cfg WorkerPoolConfig,
	repo repositories.Repository,
	evaluation EvaluationService,
	results ResultService,
	store storage.SheetStore,
	grader grading.Grader,
	logger *slog.Logger,
) *WorkerPool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &WorkerPool{
		cfg:        cfg,
		repo:       repo,
		evaluation: evaluation,
		results:    results,
		store:      store,
		grader:     grader,
		logger:     logger,
	}
}

// Start launches the workers and the stale-claim supervisor. It returns
// immediately; use Stop for a graceful drain.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSupervisor(ctx)
	}()

	p.logger.Info("worker pool started", "pool_size", p.cfg.PoolSize)
}

// Stop cancels the workers and waits for in-flight sheets to finish.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) runWorker(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	for {
		worked, err := p.pollOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker poll failed", "error", err)
		}

		if worked {
			// More work is likely available, skip the idle wait.
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// pollOnce claims and processes at most one sheet across all active jobs.
func (p *WorkerPool) pollOnce(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	jobs, err := p.repo.Job().ListActive(ctx, nil)
	if err != nil {
		return false, err
	}

	for _, job := range jobs {
		sheet, err := p.evaluation.ClaimNextSheet(ctx, job.ID)
		if err != nil {
			return false, err
		}
		if sheet == nil {
			continue
		}
		p.processSheet(ctx, job, sheet)
		return true, nil
	}
	return false, nil
}

// processSheet grades a single claimed sheet end to end. Grading failures
// never fail the job: a sheet that cannot be read becomes an all-illegible
// result for a human to review. Only infrastructure errors release the
// claim for a retry by another worker.
func (p *WorkerPool) processSheet(ctx context.Context, job *models.EvaluationJob, sheet *models.AnswerSheet) {
	logger := p.logger.With("job_id", job.ID, "sheet_id", sheet.ID)

	key, err := p.repo.AnswerKey().GetByExamID(ctx, nil, job.ExamID)
	if err != nil {
		logger.Error("answer key unavailable, failing job", "error", err)
		_ = p.repo.Sheet().ReleaseClaim(ctx, nil, sheet.ID)
		if err := p.evaluation.FailJob(ctx, job.ID, fmt.Sprintf("answer key unavailable: %v", err)); err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		return
	}
	questions, err := key.QuestionSpecs()
	if err != nil {
		logger.Error("answer key corrupt, failing job", "error", err)
		_ = p.repo.Sheet().ReleaseClaim(ctx, nil, sheet.ID)
		if err := p.evaluation.FailJob(ctx, job.ID, fmt.Sprintf("answer key corrupt: %v", err)); err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		return
	}

	extractedID, breakdown := p.gradeSheet(ctx, logger, sheet, questions)
	studentID := resolveStudentID(sheet, extractedID)

	if _, err := p.results.Upsert(ctx, job.ExamID, studentID, breakdown, &sheet.FilePath); err != nil {
		logger.Error("result upsert failed, releasing claim", "error", err, "student_id", studentID)
		_ = p.repo.Sheet().ReleaseClaim(ctx, nil, sheet.ID)
		return
	}

	outcome := &SheetOutcome{SheetID: sheet.ID, StudentID: studentID, Breakdown: breakdown}
	if err := p.evaluation.ReportSheetProcessed(ctx, job.ID, outcome); err != nil {
		logger.Error("failed to report processed sheet", "error", err, "student_id", studentID)
		return
	}

	logger.Info("sheet graded",
		"student_id", studentID,
		"total_marks", breakdown.TotalMarks(),
		"illegible", breakdown.HasIllegible())
}

// gradeSheet downloads and grades with bounded retries. Exhausted retries
// degrade to an all-illegible breakdown instead of an error.
func (p *WorkerPool) gradeSheet(ctx context.Context, logger *slog.Logger, sheet *models.AnswerSheet, questions []models.QuestionSpec) (string, models.Breakdown) {
	var data []byte
	err := p.withRetry(ctx, isRetryableStorageError, func() error {
		var err error
		data, err = p.store.Download(ctx, sheet.FilePath)
		return err
	})
	if err != nil {
		logger.Warn("sheet download failed, marking all questions illegible", "error", err, "path", sheet.FilePath)
		return "", allIllegible(questions, "Answer sheet could not be retrieved for grading")
	}

	var extractedID string
	var breakdown models.Breakdown
	err = p.withRetry(ctx, isTransientGradingError, func() error {
		var err error
		extractedID, breakdown, err = p.grader.GradeSheet(ctx, data, questions)
		return err
	})
	if err != nil {
		logger.Warn("grading failed after retries, marking all questions illegible", "error", err)
		return "", allIllegible(questions, "Automated grading was unavailable for this sheet")
	}
	return extractedID, breakdown
}

// withRetry retries failures the predicate marks retryable, with
// exponential backoff. Permanent errors return on the first attempt.
func (p *WorkerPool) withRetry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		backoff := p.cfg.BaseBackoff << (attempt - 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// Storage errors other than the two terminal sentinels are assumed to be
// network blips and retried.
func isRetryableStorageError(err error) bool {
	return !errors.Is(err, storage.ErrObjectNotFound) && !errors.Is(err, storage.ErrInvalidPath)
}

func isTransientGradingError(err error) bool {
	var transient *grading.TransientError
	return errors.As(err, &transient)
}

// resolveStudentID prefers the identity recorded at upload time, then the
// one read off the sheet. An undeterminable identity still gets a stable
// placeholder so the result row can be created and reviewed.
func resolveStudentID(sheet *models.AnswerSheet, extracted string) string {
	if sheet.StudentID != nil && *sheet.StudentID != "" {
		return *sheet.StudentID
	}
	extracted = strings.TrimSpace(extracted)
	if extracted != "" && !strings.EqualFold(extracted, "UNKNOWN") {
		return extracted
	}
	return fmt.Sprintf("UNKNOWN_%d", sheet.ID)
}

func allIllegible(questions []models.QuestionSpec, reason string) models.Breakdown {
	breakdown := make(models.Breakdown, len(questions))
	for _, q := range questions {
		breakdown[q.QID] = models.QuestionBreakdown{
			Awarded:       nil,
			Max:           q.MaxMarks,
			Justification: reason,
			Confidence:    0,
			Illegible:     true,
		}
	}
	return breakdown
}

func (p *WorkerPool) runSupervisor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.evaluation.ReleaseStaleClaims(ctx, p.cfg.ClaimTimeout); err != nil {
				p.logger.Error("failed to release stale claims", "error", err)
			}
		}
	}
}
